package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"discussion-service/internal/config"
	"discussion-service/internal/models"
)

type fakeHomeserver struct {
	*httptest.Server
	logins        atomic.Int32
	rejectLogin   atomic.Bool
	omitRoomID    atomic.Bool
	rejectAccount atomic.Bool

	mu         sync.Mutex
	createdReq map[string]any
	registered []string
}

func newFakeHomeserver(t *testing.T) *fakeHomeserver {
	t.Helper()
	hs := &fakeHomeserver{}
	hs.Server = httptest.NewServer(http.HandlerFunc(hs.serve))
	t.Cleanup(hs.Close)
	return hs
}

func (hs *fakeHomeserver) serve(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/_matrix/client/v3/login":
		hs.logins.Add(1)
		time.Sleep(20 * time.Millisecond)
		if hs.rejectLogin.Load() {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"errcode":"M_FORBIDDEN","error":"Invalid password"}`))
			return
		}
		_, _ = w.Write([]byte(`{"user_id":"@marketplace:hs","access_token":"operator-token","device_id":"D"}`))
	case r.URL.Path == "/_matrix/client/v3/createRoom":
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		hs.mu.Lock()
		hs.createdReq = body
		hs.mu.Unlock()
		if hs.omitRoomID.Load() {
			_, _ = w.Write([]byte(`{}`))
			return
		}
		_, _ = w.Write([]byte(`{"room_id":"!room-1:hs"}`))
	case strings.HasPrefix(r.URL.Path, "/_synapse/admin/v2/users/"):
		if hs.rejectAccount.Load() {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"errcode":"M_USER_IN_USE","error":"taken"}`))
			return
		}
		hs.mu.Lock()
		hs.registered = append(hs.registered, strings.TrimPrefix(r.URL.Path, "/_synapse/admin/v2/users/"))
		hs.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{}`))
	case r.URL.Path == "/_matrix/client/v3/sync":
		switch r.URL.Query().Get("since") {
		case "":
			_, _ = w.Write([]byte(`{"next_batch":"s1","rooms":{"join":{"!room-1:hs":{"timeline":{"events":[
				{"type":"m.room.message","event_id":"$old","sender":"@bob:hs","origin_server_ts":1,"content":{"body":"old"}}]}}}}}`))
		case "s1":
			_, _ = w.Write([]byte(`{"next_batch":"s2","rooms":{"join":{"!room-1:hs":{"timeline":{"events":[
				{"type":"m.room.message","event_id":"$op","sender":"@marketplace:hs","origin_server_ts":2,"content":{"body":"welcome"}},
				{"type":"m.room.message","event_id":"$new","sender":"@bob:hs","origin_server_ts":3,"content":{"body":"still available"}}]}}}}}`))
		default:
			<-r.Context().Done()
		}
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type sinkCall struct {
	roomID string
	sender string
}

type recordingSink struct {
	calls chan sinkCall
}

func (s *recordingSink) SetNewMessage(ctx context.Context, roomID, senderHandle string) (*models.DiscussionStatus, error) {
	s.calls <- sinkCall{roomID: roomID, sender: senderHandle}
	return nil, nil
}

func newTestGateway(hs *fakeHomeserver, opts ...Option) *Gateway {
	return New(config.ChatConfig{
		HomeserverURL:  hs.URL,
		ServerName:     "hs",
		SystemUser:     "marketplace",
		SystemPassword: "secret",
		RequestTimeout: time.Second,
		SyncTimeout:    time.Second,
	}, opts...)
}

func TestConcurrentInitLogsInOnce(t *testing.T) {
	hs := newFakeHomeserver(t)
	g := newTestGateway(hs)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, g.Init(context.Background()))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), hs.logins.Load())
}

func TestInitFailureLeavesGatewayUninitialized(t *testing.T) {
	hs := newFakeHomeserver(t)
	hs.rejectLogin.Store(true)
	g := newTestGateway(hs)

	err := g.Init(context.Background())
	require.ErrorIs(t, err, ErrNotInitialized)
	assert.Equal(t, "", g.CreateRoom(context.Background(), "Red bike", "alice", "bob"))
	assert.Nil(t, g.CreateUser(context.Background()))

	hs.rejectLogin.Store(false)
	require.NoError(t, g.Init(context.Background()))
	assert.Equal(t, int32(4), hs.logins.Load())
}

func TestCreateRoomInvitesBothParties(t *testing.T) {
	hs := newFakeHomeserver(t)
	g := newTestGateway(hs)

	roomID := g.CreateRoom(context.Background(), "Red bike", "alice", "@bob:hs")
	require.Equal(t, "!room-1:hs", roomID)

	hs.mu.Lock()
	defer hs.mu.Unlock()
	assert.Equal(t, "Red bike", hs.createdReq["name"])
	assert.ElementsMatch(t, []any{"@alice:hs", "@bob:hs"}, hs.createdReq["invite"])
}

func TestCreateRoomWithoutIDReturnsEmpty(t *testing.T) {
	hs := newFakeHomeserver(t)
	hs.omitRoomID.Store(true)
	g := newTestGateway(hs)

	assert.Equal(t, "", g.CreateRoom(context.Background(), "Red bike", "alice", "bob"))
}

func TestCreateRoomTransportFailureReturnsEmpty(t *testing.T) {
	hs := newFakeHomeserver(t)
	g := newTestGateway(hs)
	require.NoError(t, g.Init(context.Background()))
	hs.Close()

	assert.Equal(t, "", g.CreateRoom(context.Background(), "Red bike", "alice", "bob"))
}

func TestCreateUserProvisionsRandomCredentials(t *testing.T) {
	hs := newFakeHomeserver(t)
	g := newTestGateway(hs)

	first := g.CreateUser(context.Background())
	second := g.CreateUser(context.Background())
	require.NotNil(t, first)
	require.NotNil(t, second)

	assert.Len(t, first.Handle, 16)
	assert.Len(t, first.Password, 16)
	assert.Equal(t, "@"+first.Handle+":hs", first.UserID)
	assert.NotEqual(t, first.Handle, second.Handle)

	hs.mu.Lock()
	defer hs.mu.Unlock()
	assert.Equal(t, []string{first.UserID, second.UserID}, hs.registered)
}

func TestCreateUserRejectedReturnsNil(t *testing.T) {
	hs := newFakeHomeserver(t)
	hs.rejectAccount.Store(true)
	g := newTestGateway(hs)

	assert.Nil(t, g.CreateUser(context.Background()))
}

func TestStartForwardsLiveMessagesOnly(t *testing.T) {
	hs := newFakeHomeserver(t)
	sink := &recordingSink{calls: make(chan sinkCall, 8)}
	g := newTestGateway(hs, WithMessageSink(sink))
	t.Cleanup(g.Close)

	require.NoError(t, g.Start(context.Background()))
	require.NoError(t, g.Start(context.Background()))

	select {
	case call := <-sink.calls:
		assert.Equal(t, sinkCall{roomID: "!room-1:hs", sender: "@bob:hs"}, call)
	case <-time.After(2 * time.Second):
		t.Fatal("live message was not forwarded")
	}

	select {
	case call := <-sink.calls:
		t.Fatalf("unexpected forward %+v", call)
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, int32(1), hs.logins.Load())
}
