// Package gateway owns the operator session against the chat homeserver. It creates rooms for
// discussions, provisions shadow accounts and forwards live room messages to the unread tracker.
package gateway

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log"
	"math/big"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"discussion-service/internal/chatproto"
	"discussion-service/internal/config"
	"discussion-service/internal/models"
	"discussion-service/internal/observability"
)

const (
	credentialLength   = 16
	credentialAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	sinkTimeout        = 10 * time.Second
)

var (
	// ErrNotInitialized is returned by calls made while the operator login is failing.
	ErrNotInitialized = errors.New("chat gateway not initialized")
	errNoRoomID       = errors.New("homeserver returned no room id")
)

// MessageSink receives live messages posted in rooms the operator account has joined.
type MessageSink interface {
	SetNewMessage(ctx context.Context, roomID, senderHandle string) (*models.DiscussionStatus, error)
}

// Gateway is the operator's connection to the chat homeserver.
type Gateway struct {
	cfg        config.ChatConfig
	clientOpts []chatproto.ClientOption
	syncOpts   []chatproto.SyncerOption
	sink       MessageSink
	random     io.Reader

	flight singleflight.Group

	mu       sync.Mutex
	client   *chatproto.Client
	session  *chatproto.Session
	consumed chan struct{}
}

// Option customizes a Gateway.
type Option func(*Gateway)

// WithClientOptions passes options to the underlying protocol client.
func WithClientOptions(opts ...chatproto.ClientOption) Option {
	return func(g *Gateway) { g.clientOpts = append(g.clientOpts, opts...) }
}

// WithSyncerOptions passes options to the sync loop started by Start.
func WithSyncerOptions(opts ...chatproto.SyncerOption) Option {
	return func(g *Gateway) { g.syncOpts = append(g.syncOpts, opts...) }
}

// WithMessageSink forwards live messages to sink once Start has run.
func WithMessageSink(sink MessageSink) Option {
	return func(g *Gateway) { g.sink = sink }
}

// New builds an uninitialized Gateway. Nothing talks to the homeserver until Init, Start or the
// first CreateRoom/CreateUser call.
func New(cfg config.ChatConfig, opts ...Option) *Gateway {
	g := &Gateway{cfg: cfg, random: rand.Reader}
	if cfg.RequestTimeout > 0 {
		g.clientOpts = append(g.clientOpts, chatproto.WithRequestTimeout(cfg.RequestTimeout))
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Init logs the operator account in. Concurrent callers share a single login; on failure the
// gateway stays uninitialized and the next call tries again.
func (g *Gateway) Init(ctx context.Context) error {
	_, err := g.bound(ctx)
	return err
}

func (g *Gateway) bound(ctx context.Context) (*chatproto.Client, error) {
	g.mu.Lock()
	client := g.client
	g.mu.Unlock()
	if client != nil {
		return client, nil
	}

	v, err, _ := g.flight.Do("login", func() (interface{}, error) {
		g.mu.Lock()
		if g.client != nil {
			c := g.client
			g.mu.Unlock()
			return c, nil
		}
		g.mu.Unlock()

		unbound := chatproto.NewClient(g.cfg.HomeserverURL, g.clientOpts...)
		resp, err := unbound.Login(ctx, g.cfg.SystemUser, g.cfg.SystemPassword)
		observability.ObserveGatewayCall("login", err)
		if err != nil {
			log.Printf("chat gateway login failed user=%s: %v", g.cfg.SystemUser, err)
			return nil, fmt.Errorf("%w: %v", ErrNotInitialized, err)
		}

		c := unbound.Bind(resp.UserID, resp.AccessToken)
		g.mu.Lock()
		g.client = c
		g.mu.Unlock()
		log.Printf("chat gateway logged in user_id=%s", resp.UserID)
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*chatproto.Client), nil
}

// Start initializes the gateway and begins syncing the operator's rooms. Calling it again while
// the sync loop runs does nothing.
func (g *Gateway) Start(ctx context.Context) error {
	client, err := g.bound(ctx)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.session != nil {
		log.Printf("chat gateway already started user_id=%s", client.UserID())
		return nil
	}

	opts := g.syncOpts
	if g.cfg.SyncTimeout > 0 {
		opts = append([]chatproto.SyncerOption{chatproto.WithSyncTimeout(g.cfg.SyncTimeout)}, opts...)
	}
	session := chatproto.StartSession(client, opts...)
	done := make(chan struct{})
	g.session = session
	g.consumed = done
	go g.consume(session, done)
	return nil
}

func (g *Gateway) consume(session *chatproto.Session, done chan struct{}) {
	defer close(done)
	var stopErr error
	for evt := range session.Events() {
		switch e := evt.(type) {
		case chatproto.MessageReceived:
			observability.IncSyncEvent("message")
			if e.Historical || g.sink == nil || e.Message.Sender == session.UserID() {
				continue
			}
			g.forward(e)
		case chatproto.Invited:
			observability.IncSyncEvent("invite")
		case chatproto.SyncStateChanged:
			observability.IncSyncEvent(string(e.State))
			switch e.State {
			case chatproto.SyncError:
				log.Printf("chat gateway sync error: %v", e.Err)
			case chatproto.SyncStopped:
				stopErr = e.Err
			}
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.session == session {
		g.session = nil
	}
	if errors.Is(stopErr, chatproto.ErrAuthentication) {
		log.Printf("chat gateway token rejected, dropping client: %v", stopErr)
		if g.client == session.Client() {
			g.client = nil
		}
	}
}

func (g *Gateway) forward(e chatproto.MessageReceived) {
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	if _, err := g.sink.SetNewMessage(ctx, e.RoomID, e.Message.Sender); err != nil {
		log.Printf("chat gateway unread update failed room_id=%s sender=%s: %v", e.RoomID, e.Message.Sender, err)
	}
}

// CreateRoom creates a private room named name and invites both parties. It returns "" when the
// homeserver could not be reached, rejected the call or returned no room id.
func (g *Gateway) CreateRoom(ctx context.Context, name, buyerHandle, sellerHandle string) string {
	client, err := g.bound(ctx)
	if err != nil {
		observability.ObserveGatewayCall("create_room", err)
		return ""
	}

	roomID, err := client.CreateRoom(ctx, chatproto.ReqCreateRoom{
		Name:   name,
		Invite: []string{g.qualify(buyerHandle), g.qualify(sellerHandle)},
		Preset: "private_chat",
	})
	if err == nil && roomID == "" {
		err = errNoRoomID
	}
	observability.ObserveGatewayCall("create_room", err)
	if err != nil {
		g.forgetOnAuthFailure(client, err)
		log.Printf("chat room creation failed name=%q reason=%s: %v", name, failureKind(err), err)
		return ""
	}
	return roomID
}

// CreateUser provisions a shadow account with a random handle and password. It returns nil on
// any failure; the cause is only logged.
func (g *Gateway) CreateUser(ctx context.Context) *models.ShadowAccount {
	client, err := g.bound(ctx)
	if err != nil {
		observability.ObserveGatewayCall("create_user", err)
		return nil
	}

	account, err := g.provision(ctx, client)
	observability.ObserveGatewayCall("create_user", err)
	if err != nil {
		g.forgetOnAuthFailure(client, err)
		log.Printf("chat user provisioning failed reason=%s: %v", failureKind(err), err)
		return nil
	}
	return account
}

func (g *Gateway) provision(ctx context.Context, client *chatproto.Client) (*models.ShadowAccount, error) {
	handle, err := g.randomString(credentialLength)
	if err != nil {
		return nil, err
	}
	password, err := g.randomString(credentialLength)
	if err != nil {
		return nil, err
	}
	userID := g.qualify(handle)
	if err := client.RegisterUser(ctx, userID, password); err != nil {
		return nil, err
	}
	return &models.ShadowAccount{Handle: handle, UserID: userID, Password: password}, nil
}

// Close stops the sync loop and forgets the operator token.
func (g *Gateway) Close() {
	g.mu.Lock()
	session, done := g.session, g.consumed
	g.session = nil
	g.client = nil
	g.mu.Unlock()

	if session != nil {
		session.Stop()
		<-done
	}
}

// forgetOnAuthFailure drops a client whose token the homeserver no longer accepts so the next
// call logs in again.
func (g *Gateway) forgetOnAuthFailure(client *chatproto.Client, err error) {
	if !errors.Is(err, chatproto.ErrAuthentication) {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client == client {
		g.client = nil
	}
}

func (g *Gateway) qualify(handle string) string {
	return chatproto.UserID(handle, g.cfg.ServerName)
}

func (g *Gateway) randomString(n int) (string, error) {
	limit := big.NewInt(int64(len(credentialAlphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(g.random, limit)
		if err != nil {
			return "", fmt.Errorf("generate credential: %w", err)
		}
		out[i] = credentialAlphabet[idx.Int64()]
	}
	return string(out), nil
}

func failureKind(err error) string {
	var transportErr *chatproto.TransportError
	var apiErr *chatproto.Error
	switch {
	case errors.As(err, &transportErr):
		return "network"
	case errors.As(err, &apiErr):
		return "rejected"
	case errors.Is(err, errNoRoomID):
		return "no_room_id"
	default:
		return "internal"
	}
}
