// Package backend is the REST client for the community service: the
// session check that gates the bus connection, the one-shot history read,
// and the community directory endpoints.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"matchday-chat/go-client/internal/chat"
	"matchday-chat/go-client/pkg/models"
)

const defaultRequestTimeout = 15 * time.Second

var (
	// ErrSessionRejected means the backend refused the bearer token.
	ErrSessionRejected = errors.New("backend: session rejected")

	errNoBaseURL = errors.New("backend: base url is required")
)

// TokenSource yields the bearer token attached to every request.
type TokenSource interface {
	Token() (string, error)
}

type Options struct {
	BaseURL        string
	RequestTimeout time.Duration
	Tokens         TokenSource
	Logger         *slog.Logger

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

type Client struct {
	baseURL string
	tokens  TokenSource
	logger  *slog.Logger
	http    *http.Client
}

func NewClient(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errNoBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("backend: invalid base url: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = defaultRequestTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL: base,
		tokens:  opts.Tokens,
		logger:  logger.With("component", "backend"),
		http:    httpClient,
	}, nil
}

// Validate performs the authenticated session read. Any 2xx answer means
// the token is accepted; 401 and 403 mean it is not.
func (c *Client) Validate(ctx context.Context, token string) error {
	resp, err := c.do(ctx, token, "/api/v1/session")
	if err != nil {
		return err
	}
	defer drain(resp)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrSessionRejected, resp.StatusCode)
	default:
		return fmt.Errorf("backend: session check failed: status %d", resp.StatusCode)
	}
}

// History fetches the stored messages for a community, oldest first, mapped
// through the same payload validation the live path uses.
func (c *Client) History(ctx context.Context, communityID string) ([]models.Message, error) {
	communityID = strings.TrimSpace(communityID)
	if communityID == "" {
		return nil, errors.New("backend: community id is required")
	}
	token, err := c.bearer()
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, token, "/api/v1/communities/"+url.PathEscape(communityID)+"/messages")
	if err != nil {
		return nil, err
	}
	defer drain(resp)
	if err := checkStatus(resp, "history"); err != nil {
		return nil, err
	}

	var payloads []chat.InboundPayload
	if err := json.NewDecoder(resp.Body).Decode(&payloads); err != nil {
		return nil, fmt.Errorf("backend: decode history: %w", err)
	}

	now := time.Now().UTC()
	msgs := make([]models.Message, 0, len(payloads))
	for _, p := range payloads {
		msgs = append(msgs, p.Message(now))
	}
	c.logger.Debug("history loaded",
		"operation", "history",
		"community_id", communityID,
		"count", len(msgs))
	return msgs, nil
}

// Communities lists the communities the account can enter.
func (c *Client) Communities(ctx context.Context) ([]models.Community, error) {
	var out []models.Community
	if err := c.getJSON(ctx, "/api/v1/communities", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Members lists a community's membership roster.
func (c *Client) Members(ctx context.Context, communityID string) ([]models.CommunityMember, error) {
	communityID = strings.TrimSpace(communityID)
	if communityID == "" {
		return nil, errors.New("backend: community id is required")
	}
	var out []models.CommunityMember
	if err := c.getJSON(ctx, "/api/v1/communities/"+url.PathEscape(communityID)+"/members", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Leaderboard fetches a community's prediction standings.
func (c *Client) Leaderboard(ctx context.Context, communityID string) ([]models.LeaderboardEntry, error) {
	communityID = strings.TrimSpace(communityID)
	if communityID == "" {
		return nil, errors.New("backend: community id is required")
	}
	var out []models.LeaderboardEntry
	if err := c.getJSON(ctx, "/api/v1/communities/"+url.PathEscape(communityID)+"/leaderboard", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	token, err := c.bearer()
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, token, path)
	if err != nil {
		return err
	}
	defer drain(resp)
	if err := checkStatus(resp, path); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("backend: decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, token, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("backend: build request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend: %s: %w", path, err)
	}
	return resp, nil
}

func (c *Client) bearer() (string, error) {
	if c.tokens == nil {
		return "", nil
	}
	token, err := c.tokens.Token()
	if err != nil {
		return "", fmt.Errorf("backend: bearer token: %w", err)
	}
	return token, nil
}

func checkStatus(resp *http.Response, what string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: %s status %d", ErrSessionRejected, what, resp.StatusCode)
	}
	return fmt.Errorf("backend: %s: status %d", what, resp.StatusCode)
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	resp.Body.Close()
}
