package configstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/sdbridge/sdbridge/internal/database"
)

var (
	// ErrConflict means the caller's base version no longer matches the
	// current version. The caller must re-read and retry.
	ErrConflict = errors.New("configuration version conflict")

	// ErrVersionNotFound means the requested version number exists in
	// neither the current row nor the history.
	ErrVersionNotFound = errors.New("configuration version not found")
)

const currentRowID = 1

// rollbackCommentPrefix tags versions created by Rollback so the rollback
// rate can be computed from history alone.
const rollbackCommentPrefix = "rollback from v"

// Store persists configuration versions. The current version lives in a
// single bot_config row; every superseded version is appended to
// bot_config_history.
type Store struct {
	db       *gorm.DB
	fallback Payload

	// beforeWrite, when set, runs inside the Put transaction between the
	// version check and the write. Tests use it to interleave a
	// competing writer.
	beforeWrite func(tx *gorm.DB)
}

// NewStore creates a store over db. fallback is served as version 0 when
// the database holds no configuration yet; it is never persisted.
func NewStore(db *gorm.DB, fallback Payload) *Store {
	return &Store{db: db, fallback: fallback}
}

func decodePayload(raw string) (Payload, error) {
	var p Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Payload{}, fmt.Errorf("failed to decode stored config: %w", err)
	}
	return p, nil
}

// GetCurrent returns the active configuration. When nothing has ever been
// written it returns the fallback as version 0.
func (s *Store) GetCurrent() (Version, error) {
	var row database.BotConfig
	err := s.db.First(&row, currentRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Version{Version: 0, Payload: s.fallback}, nil
	}
	if err != nil {
		return Version{}, fmt.Errorf("failed to load current config: %w", err)
	}
	payload, err := decodePayload(row.ConfigJSON)
	if err != nil {
		return Version{}, err
	}
	return Version{
		Version:   row.Version,
		Payload:   payload,
		CreatedAt: row.UpdatedAt,
		Author:    row.Author,
	}, nil
}

// GetVersion returns one specific version, from the current row or history.
func (s *Store) GetVersion(version int) (Version, error) {
	var row database.BotConfig
	err := s.db.First(&row, currentRowID).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return Version{}, fmt.Errorf("failed to load current config: %w", err)
	}
	if err == nil && row.Version == version {
		payload, derr := decodePayload(row.ConfigJSON)
		if derr != nil {
			return Version{}, derr
		}
		return Version{Version: row.Version, Payload: payload, CreatedAt: row.UpdatedAt, Author: row.Author}, nil
	}

	var hist database.BotConfigHistory
	err = s.db.Where("version = ?", version).Order("id DESC").First(&hist).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Version{}, fmt.Errorf("%w: v%d", ErrVersionNotFound, version)
	}
	if err != nil {
		return Version{}, fmt.Errorf("failed to load config history: %w", err)
	}
	payload, derr := decodePayload(hist.ConfigJSON)
	if derr != nil {
		return Version{}, derr
	}
	return Version{
		Version:   hist.Version,
		Payload:   payload,
		CreatedAt: hist.CreatedAt,
		Author:    hist.Author,
		Comment:   hist.Comment,
	}, nil
}

// Put validates and applies a new configuration. baseVersion must equal the
// current version or ErrConflict is returned; the previous current version
// is moved into history inside the same transaction.
func (s *Store) Put(payload Payload, baseVersion int, author, comment string) (Version, error) {
	if err := payload.Validate(); err != nil {
		return Version{}, err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Version{}, fmt.Errorf("failed to encode config: %w", err)
	}

	var result Version
	err = s.db.Transaction(func(tx *gorm.DB) error {
		var row database.BotConfig
		err := tx.First(&row, currentRowID).Error
		notFound := errors.Is(err, gorm.ErrRecordNotFound)
		if err != nil && !notFound {
			return fmt.Errorf("failed to load current config: %w", err)
		}

		currentVersion := 0
		if !notFound {
			currentVersion = row.Version
		}
		if baseVersion != currentVersion {
			return fmt.Errorf("%w: base v%d, current v%d", ErrConflict, baseVersion, currentVersion)
		}

		if s.beforeWrite != nil {
			s.beforeWrite(tx)
		}

		now := time.Now()
		if notFound {
			next := database.BotConfig{
				ID:         currentRowID,
				Version:    1,
				ConfigJSON: string(raw),
				Author:     author,
				UpdatedAt:  now,
			}
			if err := tx.Create(&next).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return fmt.Errorf("%w: a concurrent write created v1 first", ErrConflict)
				}
				return fmt.Errorf("failed to save config v1: %w", err)
			}
			result = Version{Version: 1, Payload: payload, CreatedAt: now, Author: author, Comment: comment}
			return nil
		}

		// The history row records the transition: the superseded
		// payload together with the comment and timestamp of the
		// change that replaced it.
		hist := database.BotConfigHistory{
			Version:    row.Version,
			ConfigJSON: row.ConfigJSON,
			Author:     row.Author,
			Comment:    comment,
			CreatedAt:  now,
		}
		if err := tx.Create(&hist).Error; err != nil {
			return fmt.Errorf("failed to archive config v%d: %w", row.Version, err)
		}

		// The version predicate is the compare-and-swap. A competing
		// transaction that committed after the read above leaves zero
		// matching rows here, and the rollback takes the archived
		// history row with it.
		res := tx.Model(&database.BotConfig{}).
			Where("id = ? AND version = ?", currentRowID, currentVersion).
			Updates(map[string]interface{}{
				"version":     currentVersion + 1,
				"config_json": string(raw),
				"author":      author,
				"updated_at":  now,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to save config v%d: %w", currentVersion+1, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: base v%d was superseded concurrently", ErrConflict, baseVersion)
		}

		result = Version{
			Version:   currentVersion + 1,
			Payload:   payload,
			CreatedAt: now,
			Author:    author,
			Comment:   comment,
		}
		return nil
	})
	if err != nil {
		return Version{}, err
	}

	log.Printf("ConfigStore: applied configuration v%d (author=%s)", result.Version, author)
	return result, nil
}

// History returns known versions newest first: the current version followed
// by archived ones. limit <= 0 means no limit.
func (s *Store) History(limit int) ([]Version, error) {
	versions := make([]Version, 0, 16)

	current, err := s.GetCurrent()
	if err != nil {
		return nil, err
	}
	if current.Version > 0 {
		versions = append(versions, current)
	}

	var rows []database.BotConfigHistory
	q := s.db.Order("version DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load config history: %w", err)
	}
	for _, h := range rows {
		payload, derr := decodePayload(h.ConfigJSON)
		if derr != nil {
			return nil, derr
		}
		versions = append(versions, Version{
			Version:   h.Version,
			Payload:   payload,
			CreatedAt: h.CreatedAt,
			Author:    h.Author,
			Comment:   h.Comment,
		})
	}
	if limit > 0 && len(versions) > limit {
		versions = versions[:limit]
	}
	return versions, nil
}

// Rollback re-applies the payload of targetVersion as a brand new version.
// History stays intact, so a rollback can itself be rolled back.
func (s *Store) Rollback(targetVersion int, author string) (Version, error) {
	target, err := s.GetVersion(targetVersion)
	if err != nil {
		return Version{}, err
	}
	current, err := s.GetCurrent()
	if err != nil {
		return Version{}, err
	}
	if current.Version == 0 {
		return Version{}, fmt.Errorf("%w: nothing to roll back", ErrVersionNotFound)
	}

	comment := fmt.Sprintf("%s%d to v%d", rollbackCommentPrefix, current.Version, targetVersion)
	applied, err := s.Put(target.Payload, current.Version, author, comment)
	if err != nil {
		return Version{}, err
	}
	log.Printf("ConfigStore: rolled back v%d -> v%d as new v%d", current.Version, targetVersion, applied.Version)
	return applied, nil
}

// CountRollbacksSince counts rollback versions recorded after cutoff.
// A burst of rollbacks usually means a bad configuration made it through
// review, so operators watch this number.
func (s *Store) CountRollbacksSince(cutoff time.Time) (int64, error) {
	var n int64
	err := s.db.Model(&database.BotConfigHistory{}).
		Where("comment LIKE ? AND created_at >= ?", rollbackCommentPrefix+"%", cutoff).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count rollbacks: %w", err)
	}
	return n, nil
}

// IsRollbackComment reports whether a history comment was produced by
// Rollback.
func IsRollbackComment(comment string) bool {
	return strings.HasPrefix(comment, rollbackCommentPrefix)
}
