package chatproto

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultSyncTimeout = 30 * time.Second
	eventBuffer        = 64
)

// Syncer runs the long-lived /sync loop of a bound client, keeps a RoomStore current and
// publishes typed events.
type Syncer struct {
	client     *Client
	store      *RoomStore
	events     chan Event
	timeout    time.Duration
	newBackOff func() backoff.BackOff
	invited    map[string]bool
}

// SyncerOption customizes a Syncer.
type SyncerOption func(*Syncer)

// WithSyncTimeout sets the long-poll timeout sent to the homeserver.
func WithSyncTimeout(d time.Duration) SyncerOption {
	return func(s *Syncer) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithBackOff sets the retry policy used after failed syncs.
func WithBackOff(newBackOff func() backoff.BackOff) SyncerOption {
	return func(s *Syncer) { s.newBackOff = newBackOff }
}

// NewSyncer creates a syncer for a bound client.
func NewSyncer(client *Client, opts ...SyncerOption) *Syncer {
	s := &Syncer{
		client:  client,
		store:   NewRoomStore(),
		events:  make(chan Event, eventBuffer),
		timeout: defaultSyncTimeout,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = time.Minute
			b.MaxElapsedTime = 0
			return b
		},
		invited: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Events is closed when Run returns.
func (s *Syncer) Events() <-chan Event {
	return s.events
}

// Store exposes the joined rooms seen so far.
func (s *Syncer) Store() *RoomStore {
	return s.store
}

// Run syncs until ctx is cancelled or the access token is rejected.
func (s *Syncer) Run(ctx context.Context) error {
	defer close(s.events)

	b := s.newBackOff()
	since := ""
	failing := false
	for {
		resp, err := s.client.Sync(ctx, since, s.timeout)
		if err != nil {
			if ctx.Err() != nil {
				s.tryEmit(SyncStateChanged{State: SyncStopped})
				return ctx.Err()
			}
			s.emit(ctx, SyncStateChanged{State: SyncError, Err: err})
			if errors.Is(err, ErrAuthentication) {
				s.tryEmit(SyncStateChanged{State: SyncStopped, Err: err})
				return err
			}
			failing = true
			wait := b.NextBackOff()
			if wait == backoff.Stop {
				s.tryEmit(SyncStateChanged{State: SyncStopped, Err: err})
				return err
			}
			select {
			case <-ctx.Done():
				s.tryEmit(SyncStateChanged{State: SyncStopped})
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}
		b.Reset()

		initial := since == ""
		s.process(ctx, resp, initial)
		since = resp.NextBatch

		switch {
		case initial:
			s.emit(ctx, SyncStateChanged{State: SyncPrepared})
		case failing:
			s.emit(ctx, SyncStateChanged{State: SyncSyncing})
		}
		failing = false
	}
}

func (s *Syncer) process(ctx context.Context, resp *SyncResponse, initial bool) {
	own := s.client.UserID()

	for roomID, room := range resp.Rooms.Join {
		delete(s.invited, roomID)
		s.store.apply(roomID, room.State.Events, room.Timeline.Events)
		for _, evt := range room.Timeline.Events {
			if msg, ok := evt.AsMessage(); ok {
				s.emit(ctx, MessageReceived{RoomID: roomID, Message: msg, Historical: initial})
			}
		}
	}

	for roomID, room := range resp.Rooms.Invite {
		if s.invited[roomID] {
			continue
		}
		for _, evt := range room.InviteState.Events {
			if evt.Type != EventTypeMember || evt.StateKey == nil || *evt.StateKey != own {
				continue
			}
			if evt.membership() == "invite" {
				s.invited[roomID] = true
				s.emit(ctx, Invited{RoomID: roomID, Inviter: evt.Sender})
			}
		}
	}

	for roomID := range resp.Rooms.Leave {
		delete(s.invited, roomID)
		s.store.remove(roomID)
	}
}

func (s *Syncer) emit(ctx context.Context, evt Event) {
	select {
	case s.events <- evt:
	case <-ctx.Done():
	}
}

// tryEmit never blocks; the final stop notice is dropped when nobody is listening.
func (s *Syncer) tryEmit(evt Event) {
	select {
	case s.events <- evt:
	default:
	}
}
