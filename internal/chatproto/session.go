package chatproto

import (
	"context"
	"time"
)

// Session is a logged-in client with its sync loop running.
type Session struct {
	client *Client
	syncer *Syncer
	cancel context.CancelFunc
	done   chan struct{}
}

// StartSession starts syncing in the background for a bound client.
func StartSession(client *Client, opts ...SyncerOption) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		client: client,
		syncer: NewSyncer(client, opts...),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		_ = s.syncer.Run(ctx)
	}()
	return s
}

// UserID is the fully qualified id the session is logged in as.
func (s *Session) UserID() string {
	return s.client.UserID()
}

// Client returns the bound client.
func (s *Session) Client() *Client {
	return s.client
}

// Rooms snapshots the currently joined rooms.
func (s *Session) Rooms() []RoomSnapshot {
	return s.syncer.Store().Snapshot()
}

// Events streams sync notifications. The channel closes after Stop.
func (s *Session) Events() <-chan Event {
	return s.syncer.Events()
}

// JoinRoom joins the room and makes it visible in Rooms right away.
func (s *Session) JoinRoom(ctx context.Context, roomID string) error {
	if err := s.client.JoinRoom(ctx, roomID); err != nil {
		return err
	}
	s.syncer.Store().Ensure(roomID)
	return nil
}

// SendText posts a text message to a room.
func (s *Session) SendText(ctx context.Context, roomID, body string) (string, error) {
	return s.client.SendText(ctx, roomID, body)
}

// Stop cancels the sync loop and waits for it to exit.
func (s *Session) Stop() {
	s.cancel()
	<-s.done
}

// Credentials is a password login pair.
type Credentials struct {
	User     string
	Password string
}

// Connector logs in and starts sessions against one homeserver.
type Connector struct {
	HomeserverURL string
	ClientOptions []ClientOption
	SyncTimeout   time.Duration
	SyncerOptions []SyncerOption
}

// Connect performs a password login and starts a session for the returned token.
func (c Connector) Connect(ctx context.Context, creds Credentials) (*Session, error) {
	client := NewClient(c.HomeserverURL, c.ClientOptions...)
	resp, err := client.Login(ctx, creds.User, creds.Password)
	if err != nil {
		return nil, err
	}
	opts := append([]SyncerOption{WithSyncTimeout(c.SyncTimeout)}, c.SyncerOptions...)
	return StartSession(client.Bind(resp.UserID, resp.AccessToken), opts...), nil
}
