package access

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/mweller/arcadecrm/internal/config"
	"github.com/mweller/arcadecrm/internal/logging"
)

// ErrNoAPIKey indicates the access-control API key is not configured. This is
// a configuration error, never retried.
var ErrNoAPIKey = errors.New("access-control API key not configured")

// User is the external account as the access-control service reports it.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
}

// LookupStatus tags the outcome of a user lookup so callers handle each case
// explicitly instead of sniffing error strings.
type LookupStatus int

const (
	LookupFound LookupStatus = iota
	LookupMissing
	LookupFailed
)

// UserResult is the tagged result of GetUser.
type UserResult struct {
	Status LookupStatus
	User   *User
	Err    error
}

// Client wraps the third-party access-control REST API. All calls carry
// Bearer auth and run through a circuit breaker so a flapping upstream stops
// burning worker time.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[*http.Response]
	log     *logging.Logger
}

func NewClient(cfg config.Access) *Client {
	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "access-control",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: cb,
		log:     logging.New("access-client"),
	}
}

// GetUser looks up an external account by id.
func (c *Client) GetUser(ctx context.Context, userID string) UserResult {
	if c.apiKey == "" {
		return UserResult{Status: LookupFailed, Err: ErrNoAPIKey}
	}

	resp, err := c.do(ctx, http.MethodGet, "/users/"+userID, nil)
	if err != nil {
		return UserResult{Status: LookupFailed, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var u User
		if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
			return UserResult{Status: LookupFailed, Err: fmt.Errorf("decode user %s: %w", userID, err)}
		}
		return UserResult{Status: LookupFound, User: &u}
	case resp.StatusCode == http.StatusNotFound:
		return UserResult{Status: LookupMissing}
	default:
		return UserResult{Status: LookupFailed, Err: httpError(resp)}
	}
}

// AddUserToGroup adds the external account to a group. 200 and 201 are both
// success: the account may already be a member.
func (c *Client) AddUserToGroup(ctx context.Context, userID, groupID string) error {
	if c.apiKey == "" {
		return ErrNoAPIKey
	}

	body := map[string]string{"user_id": userID}
	resp, err := c.do(ctx, http.MethodPost, "/groups/"+groupID+"/members", body)
	if err != nil {
		return fmt.Errorf("add user %s to group %s: %w", userID, groupID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("add user %s to group %s: %w", userID, groupID, httpError(resp))
	}
	return nil
}

// RemoveUserFromGroup removes the external account from a group. 200 and 204
// are both success.
func (c *Client) RemoveUserFromGroup(ctx context.Context, userID, groupID string) error {
	if c.apiKey == "" {
		return ErrNoAPIKey
	}

	resp, err := c.do(ctx, http.MethodDelete, "/groups/"+groupID+"/members/"+userID, nil)
	if err != nil {
		return fmt.Errorf("remove user %s from group %s: %w", userID, groupID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("remove user %s from group %s: %w", userID, groupID, httpError(resp))
	}
	return nil
}

// do issues one request through the circuit breaker. Transport failures count
// toward tripping it; HTTP status handling stays with the caller.
func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		return c.client.Do(req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("access-control circuit open: %w", err)
		}
		return nil, err
	}
	return resp, nil
}

func httpError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
}
