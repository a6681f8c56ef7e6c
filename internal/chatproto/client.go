package chatproto

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	clientAPIPrefix = "/_matrix/client/v3"
	adminAPIPrefix  = "/_synapse/admin/v2"

	EventTypeMessage = "m.room.message"
	EventTypeMember  = "m.room.member"
	EventTypeName    = "m.room.name"
)

// NewHTTPClient returns an HTTP client whose transport is traced with OpenTelemetry.
func NewHTTPClient() *http.Client {
	return &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
}

// Client talks JSON to a chat homeserver. A Client returned by Bind carries an access token;
// an unbound one can only log in.
type Client struct {
	homeserverURL  string
	httpClient     *http.Client
	requestTimeout time.Duration
	userID         string
	accessToken    string
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the traced default HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithRequestTimeout bounds every call except /sync.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.requestTimeout = d }
}

// NewClient constructs an unauthenticated client for the homeserver.
func NewClient(homeserverURL string, opts ...ClientOption) *Client {
	c := &Client{
		homeserverURL: strings.TrimRight(homeserverURL, "/"),
		httpClient:    NewHTTPClient(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Bind returns a copy of the client authenticated as userID.
func (c *Client) Bind(userID, accessToken string) *Client {
	bound := *c
	bound.userID = userID
	bound.accessToken = accessToken
	return &bound
}

// UserID is the id the client is bound to, empty before Bind.
func (c *Client) UserID() string {
	return c.userID
}

// AccessToken is the bearer token the client is bound to.
func (c *Client) AccessToken() string {
	return c.accessToken
}

// LoginResponse is the result of a password login.
type LoginResponse struct {
	UserID      string `json:"user_id"`
	AccessToken string `json:"access_token"`
	DeviceID    string `json:"device_id"`
}

// Login performs a password login. Rejected credentials yield an error matching ErrAuthentication.
func (c *Client) Login(ctx context.Context, user, password string) (LoginResponse, error) {
	req := map[string]any{
		"type": "m.login.password",
		"identifier": map[string]string{
			"type": "m.id.user",
			"user": user,
		},
		"password": password,
	}
	var resp LoginResponse
	if err := c.do(ctx, "login", http.MethodPost, clientAPIPrefix+"/login", req, &resp); err != nil {
		var apiErr *Error
		if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden) {
			return LoginResponse{}, fmt.Errorf("%w: %v", ErrAuthentication, apiErr)
		}
		return LoginResponse{}, err
	}
	if resp.AccessToken == "" {
		return LoginResponse{}, fmt.Errorf("%w: no access token returned", ErrAuthentication)
	}
	return resp, nil
}

// ReqCreateRoom describes a room to create.
type ReqCreateRoom struct {
	Name       string   `json:"name,omitempty"`
	Invite     []string `json:"invite,omitempty"`
	Preset     string   `json:"preset,omitempty"`
	Visibility string   `json:"visibility,omitempty"`
	IsDirect   bool     `json:"is_direct,omitempty"`
}

// CreateRoom creates a room and returns its id. The id is empty when the provider returned none.
func (c *Client) CreateRoom(ctx context.Context, req ReqCreateRoom) (string, error) {
	var resp struct {
		RoomID string `json:"room_id"`
	}
	if err := c.do(ctx, "create room", http.MethodPost, clientAPIPrefix+"/createRoom", req, &resp); err != nil {
		return "", err
	}
	return resp.RoomID, nil
}

// RegisterUser provisions an account through the admin API. It requires a client bound to an
// operator token.
func (c *Client) RegisterUser(ctx context.Context, userID, password string) error {
	req := map[string]any{
		"password": password,
		"admin":    false,
	}
	path := adminAPIPrefix + "/users/" + url.PathEscape(userID)
	return c.do(ctx, "register user", http.MethodPut, path, req, nil)
}

// JoinRoom joins a room the user was invited to.
func (c *Client) JoinRoom(ctx context.Context, roomID string) error {
	return c.do(ctx, "join room", http.MethodPost, clientAPIPrefix+"/rooms/"+url.PathEscape(roomID)+"/join", map[string]any{}, nil)
}

// SendText posts a plain text message and returns the event id.
func (c *Client) SendText(ctx context.Context, roomID, body string) (string, error) {
	content := map[string]string{
		"msgtype": "m.text",
		"body":    body,
	}
	path := clientAPIPrefix + "/rooms/" + url.PathEscape(roomID) + "/send/" + EventTypeMessage + "/" + uuid.NewString()
	var resp struct {
		EventID string `json:"event_id"`
	}
	if err := c.do(ctx, "send message", http.MethodPut, path, content, &resp); err != nil {
		return "", err
	}
	return resp.EventID, nil
}

// Sync long-polls for new events after the since token. An empty since requests a full snapshot.
func (c *Client) Sync(ctx context.Context, since string, timeout time.Duration) (*SyncResponse, error) {
	query := url.Values{}
	if since != "" {
		query.Set("since", since)
		query.Set("timeout", strconv.FormatInt(timeout.Milliseconds(), 10))
	}
	path := clientAPIPrefix + "/sync"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var resp SyncResponse
	if err := c.send(ctx, "sync", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}
	return c.send(ctx, op, method, path, body, out)
}

func (c *Client) send(ctx context.Context, op, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("chat %s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.homeserverURL+path, reader)
	if err != nil {
		return fmt.Errorf("chat %s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		apiErr := &Error{StatusCode: res.StatusCode}
		_ = json.Unmarshal(data, apiErr)
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("chat %s: decode response: %w", op, err)
	}
	return nil
}
