// Package livekit talks to a LiveKit server: room provisioning through the
// Twirp RoomService API and participant access tokens.
package livekit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const roomServicePrefix = "/twirp/livekit.RoomService/"

// ErrRoomNotFound is returned by DeleteRoom callers that need to tell a
// missing room apart; DeleteRoom itself treats it as success.
var ErrRoomNotFound = errors.New("livekit: room not found")

type Config struct {
	URL        string
	APIKey     string
	APISecret  string
	Timeout    time.Duration
	RetryCount int
	RetryWait  time.Duration
}

// Room is the subset of livekit.Room the service reads.
type Room struct {
	SID  string `json:"sid"`
	Name string `json:"name"`
}

// APIError is a Twirp error returned by the RoomService.
type APIError struct {
	Status int    `json:"-"`
	Code   string `json:"code"`
	Msg    string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("livekit: %s (%d): %s", e.Code, e.Status, e.Msg)
}

type Client struct {
	http      *resty.Client
	apiKey    string
	apiSecret string
	now       func() time.Time
}

// NewClient returns a RoomService client for cfg.URL that also mints join
// tokens with cfg's key pair.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = 500 * time.Millisecond
	}

	httpClient := resty.New().
		SetBaseURL(HTTPURL(cfg.URL)).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(4 * cfg.RetryWait).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		http:      httpClient,
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		now:       time.Now,
	}
}

// HTTPURL maps the ws(s):// URL clients connect to onto the http(s):// base
// of the server API.
func HTTPURL(raw string) string {
	raw = strings.TrimRight(raw, "/")
	switch {
	case strings.HasPrefix(raw, "wss://"):
		return "https://" + strings.TrimPrefix(raw, "wss://")
	case strings.HasPrefix(raw, "ws://"):
		return "http://" + strings.TrimPrefix(raw, "ws://")
	}
	return raw
}

type createRoomRequest struct {
	Name         string `json:"name"`
	EmptyTimeout uint32 `json:"empty_timeout,omitempty"`
}

type deleteRoomRequest struct {
	Room string `json:"room"`
}

// CreateRoom provisions a room. LiveKit returns the existing room when one
// with the same name is already open.
func (c *Client) CreateRoom(ctx context.Context, name string) (*Room, error) {
	var room Room
	if err := c.call(ctx, "CreateRoom", createRoomRequest{Name: name}, &room); err != nil {
		return nil, fmt.Errorf("create room %s: %w", name, err)
	}
	return &room, nil
}

// DeleteRoom closes a room and disconnects its participants. A room that no
// longer exists is not an error.
func (c *Client) DeleteRoom(ctx context.Context, name string) error {
	err := c.call(ctx, "DeleteRoom", deleteRoomRequest{Room: name}, nil)
	if err == nil || errors.Is(err, ErrRoomNotFound) {
		return nil
	}
	return fmt.Errorf("delete room %s: %w", name, err)
}

func (c *Client) call(ctx context.Context, method string, body, result interface{}) error {
	token, err := c.serviceToken()
	if err != nil {
		return err
	}

	apiErr := &APIError{}
	req := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(body).
		SetError(apiErr)
	if result != nil {
		req.SetResult(result)
	}

	resp, err := req.Post(roomServicePrefix + method)
	if err != nil {
		return fmt.Errorf("livekit %s: %w", method, err)
	}
	if resp.IsError() {
		apiErr.Status = resp.StatusCode()
		if apiErr.Code == "" {
			apiErr.Code = http.StatusText(resp.StatusCode())
		}
		if apiErr.Code == "not_found" {
			return fmt.Errorf("%w: %s", ErrRoomNotFound, apiErr.Msg)
		}
		return apiErr
	}
	return nil
}
