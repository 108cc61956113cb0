package internal

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"tubechat/internal/protocol"
)

const httpTimeout = 5 * time.Second

// apiClient talks to the server's /api routes. The base URL is derived from
// the websocket join URL so the client needs a single address.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(joinURL string) (*apiClient, error) {
	base, err := httpBaseFromJoinURL(joinURL)
	if err != nil {
		return nil, err
	}
	return &apiClient{base: base, http: &http.Client{Timeout: httpTimeout}}, nil
}

func (c *apiClient) channels(ctx context.Context, communityID string) ([]protocol.Channel, error) {
	var channels []protocol.Channel
	endpoint := c.base + "/api/communities/" + url.PathEscape(communityID) + "/channels"
	if err := c.get(ctx, endpoint, &channels); err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	return channels, nil
}

func (c *apiClient) history(ctx context.Context, channelID string, page, limit int) (protocol.HistoryPage, error) {
	var history protocol.HistoryPage
	query := url.Values{
		"page":  {strconv.Itoa(page)},
		"limit": {strconv.Itoa(limit)},
	}
	endpoint := c.base + "/api/channels/" + url.PathEscape(channelID) + "/messages?" + query.Encode()
	if err := c.get(ctx, endpoint, &history); err != nil {
		return protocol.HistoryPage{}, fmt.Errorf("load history: %w", err)
	}
	return history, nil
}

func (c *apiClient) get(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, responseError(data))
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

// responseError extracts the {"error": "..."} body the server writes.
func responseError(data []byte) string {
	if len(data) == 0 {
		return "request failed"
	}
	var parsed struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &parsed); err == nil && parsed.Error != "" {
		return parsed.Error
	}
	return strings.TrimSpace(string(data))
}

func httpBaseFromJoinURL(wsURL string) (string, error) {
	parsed, err := url.Parse(wsURL)
	if err != nil {
		return "", err
	}
	switch parsed.Scheme {
	case "ws":
		parsed.Scheme = "http"
	case "wss":
		parsed.Scheme = "https"
	default:
		return "", fmt.Errorf("unsupported scheme %s", parsed.Scheme)
	}
	parsed.Path = ""
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return strings.TrimRight(parsed.String(), "/"), nil
}
