// Package remote is the HTTP client side of the sync protocol. A 404 from
// the service is a valid signal ("no remote counterpart yet") and surfaces
// as ErrNotFound; everything else non-2xx is a transport-level error the
// caller treats as transient.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jhagmar/twenty48/internal/engine"
	"github.com/jhagmar/twenty48/internal/model"
)

// ErrNotFound reports a 404: the requested record has no remote counterpart.
var ErrNotFound = errors.New("not found")

// StatusError reports a non-2xx response other than 404. The service is
// reachable but rejected the request, so retrying the same payload next pass
// may or may not help; reconcilers skip the record rather than abort.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API returned status code: %d, response: %s", e.Code, e.Body)
}

// Player is the remote player representation.
type Player struct {
	DisplayName string    `json:"displayName"`
	LastChange  time.Time `json:"lastChange"`
}

// GameParams carries the replay parameters handed out for cross-device
// game handoff.
type GameParams struct {
	Size int    `json:"size"`
	Seed string `json:"seed"`
}

type gameIDList struct {
	IDs []string `json:"ids"`
}

// Client talks to the twenty48 API.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a client for the API rooted at baseURL (e.g.
// "https://example.com/api").
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetTimeout overrides the per-request timeout.
func (c *Client) SetTimeout(timeout time.Duration) {
	c.client.Timeout = timeout
}

func (c *Client) doRequest(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		responseBody, _ := io.ReadAll(resp.Body)
		return &StatusError{Code: resp.StatusCode, Body: string(responseBody)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response body: %w", err)
	}
	return nil
}

// GetPlayer fetches the remote player record.
func (c *Client) GetPlayer(ctx context.Context, playerID string) (*Player, error) {
	var p Player
	if err := c.doRequest(ctx, http.MethodGet, "/players/"+url.PathEscape(playerID), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// PutPlayer upserts the player record and returns the server's authoritative
// version (the server may reject or override lastChange).
func (c *Client) PutPlayer(ctx context.Context, playerID string, p Player) (*Player, error) {
	var resp Player
	if err := c.doRequest(ctx, http.MethodPut, "/players/"+url.PathEscape(playerID), p, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GameIDs lists the ids of every game the service knows for this player.
func (c *Client) GameIDs(ctx context.Context, playerID string) ([]string, error) {
	var list gameIDList
	if err := c.doRequest(ctx, http.MethodGet, "/players/"+url.PathEscape(playerID)+"/games", nil, &list); err != nil {
		return nil, err
	}
	return list.IDs, nil
}

// GetGame fetches one remote game record.
func (c *Client) GetGame(ctx context.Context, playerID, gameID string) (*engine.Exchange, error) {
	var x engine.Exchange
	if err := c.doRequest(ctx, http.MethodGet, "/players/"+url.PathEscape(playerID)+"/games/"+url.PathEscape(gameID), nil, &x); err != nil {
		return nil, err
	}
	return &x, nil
}

// PutGame upserts one game record and returns the stored version.
func (c *Client) PutGame(ctx context.Context, playerID string, x engine.Exchange) (*engine.Exchange, error) {
	var resp engine.Exchange
	if err := c.doRequest(ctx, http.MethodPut, "/players/"+url.PathEscape(playerID)+"/games/"+url.PathEscape(x.ID), x, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Leaderboard fetches the ranking for a game, ordered by rank.
func (c *Client) Leaderboard(ctx context.Context, playerID, gameID string) ([]model.LeaderboardEntry, error) {
	var entries []model.LeaderboardEntry
	if err := c.doRequest(ctx, http.MethodGet, "/players/"+url.PathEscape(playerID)+"/games/"+url.PathEscape(gameID)+"/leaderboard", nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// GameParams fetches the replay parameters for a shared game id so another
// device can materialize a fresh local game under the same id.
func (c *Client) GameParams(ctx context.Context, gameID string) (*GameParams, error) {
	var p GameParams
	if err := c.doRequest(ctx, http.MethodGet, "/games/"+url.PathEscape(gameID), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
