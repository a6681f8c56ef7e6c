// Package session keeps one user's live chat connection and a local cache of its rooms.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"discussion-service/internal/chatproto"
	"discussion-service/internal/models"
)

var (
	ErrNotConnected       = errors.New("chat session is not connected")
	ErrEmptyMessage       = errors.New("message text is empty")
	ErrMissingCredentials = errors.New("user has no chat credentials")
	ErrDisconnected       = errors.New("chat session disconnected while connecting")
)

const joinTimeout = 15 * time.Second

// State is the connection state of a Manager.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Conn is a logged-in connection whose sync loop is running.
type Conn interface {
	UserID() string
	Events() <-chan chatproto.Event
	Rooms() []chatproto.RoomSnapshot
	JoinRoom(ctx context.Context, roomID string) error
	SendText(ctx context.Context, roomID, body string) (string, error)
	Stop()
}

// Connector logs a user in and returns a running connection.
type Connector interface {
	Connect(ctx context.Context, creds chatproto.Credentials) (Conn, error)
}

type protocolConnector struct {
	connector chatproto.Connector
}

// NewProtocolConnector adapts a homeserver connector to the Connector interface.
func NewProtocolConnector(c chatproto.Connector) Connector {
	return protocolConnector{connector: c}
}

func (p protocolConnector) Connect(ctx context.Context, creds chatproto.Credentials) (Conn, error) {
	s, err := p.connector.Connect(ctx, creds)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// NewMessageNotifier tells the marketplace that a message was posted in a room.
type NewMessageNotifier interface {
	NotifyNewMessage(ctx context.Context, roomID, senderHandle string) error
}

// Option customizes a Manager.
type Option func(*Manager)

// WithErrorHandler receives every failure the manager reports, including ones that are also returned.
func WithErrorHandler(fn func(error)) Option {
	return func(m *Manager) { m.onError = fn }
}

// WithNewMessageNotifier makes SendMessage report sent messages to the marketplace.
func WithNewMessageNotifier(n NewMessageNotifier) Option {
	return func(m *Manager) { m.notifier = n }
}

type attempt struct {
	done     chan struct{}
	err      error
	finished bool
}

func (a *attempt) finish(err error) {
	if a.finished {
		return
	}
	a.finished = true
	a.err = err
	close(a.done)
}

// Manager owns a single chat connection. Connect is a no-op while a connection is pending or up;
// Disconnect discards the connection and the cached rooms.
type Manager struct {
	connector Connector
	notifier  NewMessageNotifier
	onError   func(error)

	mu         sync.Mutex
	state      State
	generation uint64
	conn       Conn
	pending    *attempt
	rooms      map[string]*models.Room
	lastErr    error
}

func NewManager(connector Connector, opts ...Option) *Manager {
	m := &Manager{connector: connector, rooms: map[string]*models.Room{}}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Err returns the last reported failure.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Connect logs in with the user's chat credentials. It returns once the login completed; the
// manager becomes Connected when the initial sync arrives (see WaitConnected).
func (m *Manager) Connect(ctx context.Context, creds chatproto.Credentials) error {
	m.mu.Lock()
	if m.state != Disconnected {
		m.mu.Unlock()
		return nil
	}
	if creds.User == "" || creds.Password == "" {
		m.mu.Unlock()
		return m.report(ErrMissingCredentials)
	}
	m.state = Connecting
	m.generation++
	gen := m.generation
	a := &attempt{done: make(chan struct{})}
	m.pending = a
	m.lastErr = nil
	m.mu.Unlock()

	conn, err := m.connector.Connect(ctx, creds)

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		if conn != nil {
			conn.Stop()
		}
		return ErrDisconnected
	}
	if err != nil {
		m.state = Disconnected
		m.pending = nil
		a.finish(err)
		m.mu.Unlock()
		return m.report(fmt.Errorf("chat login: %w", err))
	}
	m.conn = conn
	m.mu.Unlock()

	go m.run(gen, conn)
	return nil
}

// WaitConnected blocks until the pending connection reaches Connected or fails.
func (m *Manager) WaitConnected(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case Connected:
		m.mu.Unlock()
		return nil
	case Disconnected:
		err := m.lastErr
		m.mu.Unlock()
		if err == nil {
			err = ErrNotConnected
		}
		return err
	}
	a := m.pending
	m.mu.Unlock()

	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect stops the connection and clears every cached room. A later Connect resyncs from scratch.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	conn := m.conn
	m.generation++
	m.state = Disconnected
	m.conn = nil
	m.rooms = map[string]*models.Room{}
	if m.pending != nil {
		m.pending.finish(ErrDisconnected)
		m.pending = nil
	}
	m.mu.Unlock()

	if conn != nil {
		conn.Stop()
	}
}

// Rooms returns a copy of the cached rooms, most recently active first.
func (m *Manager) Rooms() []models.Room {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		cp := *room
		cp.Messages = append([]models.RoomMessage(nil), room.Messages...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastActivity != out[j].LastActivity {
			return out[i].LastActivity > out[j].LastActivity
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// SendMessage posts text to roomID. Failures are reported and returned.
func (m *Manager) SendMessage(ctx context.Context, roomID, text string) error {
	m.mu.Lock()
	conn := m.conn
	connected := m.state == Connected
	m.mu.Unlock()

	if !connected || conn == nil {
		return m.report(ErrNotConnected)
	}
	if strings.TrimSpace(text) == "" {
		return m.report(ErrEmptyMessage)
	}

	if _, err := conn.SendText(ctx, roomID, text); err != nil {
		return m.report(fmt.Errorf("send message: %w", err))
	}
	if m.notifier != nil {
		if err := m.notifier.NotifyNewMessage(ctx, roomID, conn.UserID()); err != nil {
			m.report(fmt.Errorf("notify new message: %w", err))
		}
	}
	return nil
}

// JoinRoom joins roomID and refreshes the room cache.
func (m *Manager) JoinRoom(ctx context.Context, roomID string) error {
	m.mu.Lock()
	conn := m.conn
	gen := m.generation
	connected := m.state == Connected
	m.mu.Unlock()

	if !connected || conn == nil {
		return m.report(ErrNotConnected)
	}
	if err := conn.JoinRoom(ctx, roomID); err != nil {
		return m.report(fmt.Errorf("join room: %w", err))
	}
	m.refresh(gen, conn)
	return nil
}

func (m *Manager) run(gen uint64, conn Conn) {
	var stopErr error
	for evt := range conn.Events() {
		switch e := evt.(type) {
		case chatproto.SyncStateChanged:
			switch e.State {
			case chatproto.SyncPrepared:
				m.prepared(gen, conn)
			case chatproto.SyncError:
				if m.current(gen) {
					m.report(fmt.Errorf("chat sync: %w", e.Err))
				}
			case chatproto.SyncStopped:
				stopErr = e.Err
			}
		case chatproto.MessageReceived:
			if !e.Historical {
				m.appendMessage(gen, conn, e)
			}
		case chatproto.Invited:
			go m.acceptInvite(gen, conn, e.RoomID)
		}
	}

	// The sync loop ended on its own, for instance after the token was rejected.
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}
	m.generation++
	m.state = Disconnected
	m.conn = nil
	m.rooms = map[string]*models.Room{}
	if stopErr == nil {
		stopErr = ErrNotConnected
	}
	if m.pending != nil {
		m.pending.finish(stopErr)
		m.pending = nil
	}
	m.mu.Unlock()

	conn.Stop()
	m.report(fmt.Errorf("chat sync stopped: %w", stopErr))
}

func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.generation
}

func (m *Manager) prepared(gen uint64, conn Conn) {
	snapshot := conn.Rooms()

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation {
		return
	}
	m.state = Connected
	m.loadRoomsLocked(snapshot)
	if m.pending != nil {
		m.pending.finish(nil)
		m.pending = nil
	}
}

// loadRoomsLocked replaces the cache with a full snapshot of the connection's rooms.
func (m *Manager) loadRoomsLocked(snapshot []chatproto.RoomSnapshot) {
	rooms := make(map[string]*models.Room, len(snapshot))
	for _, snap := range snapshot {
		room := &models.Room{ID: snap.ID, Name: snap.Name, Messages: []models.RoomMessage{}}
		for _, evt := range snap.Timeline {
			msg, ok := evt.AsMessage()
			if !ok {
				continue
			}
			room.Messages = append(room.Messages, msg)
			if msg.Timestamp > room.LastActivity {
				room.LastActivity = msg.Timestamp
			}
		}
		rooms[snap.ID] = room
	}
	m.rooms = rooms
}

func (m *Manager) refresh(gen uint64, conn Conn) {
	snapshot := conn.Rooms()

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation || m.state != Connected {
		return
	}
	m.loadRoomsLocked(snapshot)
}

func (m *Manager) appendMessage(gen uint64, conn Conn, e chatproto.MessageReceived) {
	m.mu.Lock()
	if gen != m.generation || m.state != Connected {
		m.mu.Unlock()
		return
	}
	room, ok := m.rooms[e.RoomID]
	if !ok {
		m.mu.Unlock()
		m.refresh(gen, conn)
		return
	}
	defer m.mu.Unlock()

	for _, existing := range room.Messages {
		if existing.ID != "" && existing.ID == e.Message.ID {
			return
		}
	}
	room.Messages = append(room.Messages, e.Message)
	if e.Message.Timestamp > room.LastActivity {
		room.LastActivity = e.Message.Timestamp
	}
}

func (m *Manager) acceptInvite(gen uint64, conn Conn, roomID string) {
	ctx, cancel := context.WithTimeout(context.Background(), joinTimeout)
	defer cancel()
	if err := conn.JoinRoom(ctx, roomID); err != nil {
		log.Printf("chat invite join failed room_id=%s: %v", roomID, err)
		return
	}
	m.refresh(gen, conn)
}

func (m *Manager) report(err error) error {
	m.mu.Lock()
	m.lastErr = err
	handler := m.onError
	m.mu.Unlock()

	if handler != nil {
		handler(err)
	}
	return err
}
