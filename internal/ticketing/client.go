package ticketing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const pageSize = 100

// Client talks to the ticketing backend REST API with basic auth.
type Client struct {
	baseURL      string
	login        string
	password     string
	openStatusID int
	httpClient   *http.Client
}

// NewClient creates a ticketing client. openStatusID selects which tickets
// count as the open queue.
func NewClient(baseURL, login, password string, openStatusID int, timeout time.Duration) *Client {
	return &Client{
		baseURL:      baseURL,
		login:        login,
		password:     password,
		openStatusID: openStatusID,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type ticketListResponse struct {
	Tickets []struct {
		ID     json.Number       `json:"id"`
		Fields map[string]string `json:"fields"`
	} `json:"tickets"`
	TotalPages int `json:"total_pages"`
}

type eventlogResponse struct {
	Entries []struct {
		ID     int64             `json:"id"`
		Fields map[string]string `json:"fields"`
	} `json:"entries"`
	LastID int64 `json:"last_id"`
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.SetBasicAuth(c.login, c.password)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ticketing request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("ticketing API returned %d for %s: %s", resp.StatusCode, path, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode ticketing response: %w", err)
	}
	return nil
}

// ListOpenTickets returns the full current open-ticket set, walking every
// page of the listing.
func (c *Client) ListOpenTickets(ctx context.Context) ([]Ticket, error) {
	var tickets []Ticket
	for page := 1; ; page++ {
		query := url.Values{}
		query.Set("status_id", strconv.Itoa(c.openStatusID))
		query.Set("page", strconv.Itoa(page))
		query.Set("page_size", strconv.Itoa(pageSize))

		var resp ticketListResponse
		if err := c.get(ctx, "/api/v1/tickets", query, &resp); err != nil {
			return nil, err
		}
		for _, raw := range resp.Tickets {
			tickets = append(tickets, Ticket{
				ID:         raw.ID.String(),
				Attributes: raw.Fields,
			})
		}
		if page >= resp.TotalPages || len(resp.Tickets) == 0 {
			break
		}
	}
	return tickets, nil
}

// ListEntriesSince returns up to limit eventlog entries with id > afterID,
// in ascending id order.
func (c *Client) ListEntriesSince(ctx context.Context, afterID int64, limit int) ([]LogEntry, error) {
	query := url.Values{}
	query.Set("after_id", strconv.FormatInt(afterID, 10))
	query.Set("limit", strconv.Itoa(limit))

	var resp eventlogResponse
	if err := c.get(ctx, "/api/v1/eventlog", query, &resp); err != nil {
		return nil, err
	}
	entries := make([]LogEntry, 0, len(resp.Entries))
	for _, raw := range resp.Entries {
		entries = append(entries, LogEntry{EventID: raw.ID, Fields: raw.Fields})
	}
	return entries, nil
}

// LastEntryID returns the id of the newest entry in the feed, used to seed
// the cursor on a cold start so history is not replayed.
func (c *Client) LastEntryID(ctx context.Context) (int64, error) {
	query := url.Values{}
	query.Set("limit", "1")
	query.Set("order", "desc")

	var resp eventlogResponse
	if err := c.get(ctx, "/api/v1/eventlog", query, &resp); err != nil {
		return 0, err
	}
	if resp.LastID > 0 {
		return resp.LastID, nil
	}
	if len(resp.Entries) > 0 {
		return resp.Entries[0].ID, nil
	}
	return 0, nil
}
