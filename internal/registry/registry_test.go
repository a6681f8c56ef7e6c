package registry

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"discussion-service/internal/models"
)

const (
	dealD1   = 1
	buyerU1  = 11
	sellerU2 = 22
)

type recordingNotifier struct {
	mu     sync.Mutex
	events map[int][]models.DiscussionEvent
}

func (n *recordingNotifier) NotifyUser(ctx context.Context, userID int, event models.DiscussionEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.events == nil {
		n.events = map[int][]models.DiscussionEvent{}
	}
	n.events[userID] = append(n.events[userID], event)
}

func newTestRegistry(t *testing.T) (*Registry, *memStore, *recordingNotifier) {
	t.Helper()
	store := newMemStore()
	store.deals[dealD1] = models.Deal{ID: dealD1, Title: "Red bike", Price: 120, SellerID: sellerU2}
	store.users[buyerU1] = models.User{ID: buyerU1, Username: "alice", ChatHandle: "alicechat", ChatPassword: "pw"}
	store.users[sellerU2] = models.User{ID: sellerU2, Username: "bob", ChatHandle: "bobchat", ChatPassword: "pw"}
	notifier := &recordingNotifier{}
	reg := New(store, memStatuses{store}, memLookups{store}, memLookups{store}, WithNotifier(notifier))
	return reg, store, notifier
}

func TestCreateDiscussionKeepsOriginalRoom(t *testing.T) {
	reg, store, _ := newTestRegistry(t)
	ctx := context.Background()

	first, err := reg.CreateDiscussion(ctx, dealD1, buyerU1, sellerU2, "room-1")
	require.NoError(t, err)
	second, err := reg.CreateDiscussion(ctx, dealD1, buyerU1, sellerU2, "room-2")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "room-1", second.RoomID)
	assert.Len(t, store.discussions, 1)
}

func TestCreateDiscussionRejectsEmptyRoom(t *testing.T) {
	reg, store, _ := newTestRegistry(t)

	_, err := reg.CreateDiscussion(context.Background(), dealD1, buyerU1, sellerU2, "")
	assert.ErrorIs(t, err, ErrEmptyRoom)
	assert.Empty(t, store.discussions)
}

func TestGetDiscussionAbsentIsNil(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	d, err := reg.GetDiscussion(context.Background(), dealD1, buyerU1, sellerU2)
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestRepeatedNewMessagesLeaveOneRow(t *testing.T) {
	reg, store, _ := newTestRegistry(t)
	ctx := context.Background()
	d, err := reg.CreateDiscussion(ctx, dealD1, buyerU1, sellerU2, "room-1")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		status, err := reg.SetNewMessage(ctx, "room-1", "@bobchat:hs")
		require.NoError(t, err)
		require.NotNil(t, status)
	}

	require.Len(t, store.statuses, 1)
	assert.Equal(t, d.ID, store.statuses[0].DiscussionID)
	assert.Equal(t, buyerU1, store.statuses[0].UserID)
	assert.True(t, store.statuses[0].NewMessage)
}

func TestConcurrentFirstMessagesLeaveOneRow(t *testing.T) {
	reg, store, _ := newTestRegistry(t)
	ctx := context.Background()
	_, err := reg.CreateDiscussion(ctx, dealD1, buyerU1, sellerU2, "room-1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = reg.SetNewMessage(ctx, "room-1", "alicechat")
		}()
	}
	wg.Wait()

	require.Len(t, store.statuses, 1)
	assert.Equal(t, sellerU2, store.statuses[0].UserID)
}

func TestMarkAsReadIsIdempotent(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	ctx := context.Background()
	d, err := reg.CreateDiscussion(ctx, dealD1, buyerU1, sellerU2, "room-1")
	require.NoError(t, err)
	_, err = reg.SetNewMessage(ctx, "room-1", "@bobchat:hs")
	require.NoError(t, err)

	first, err := reg.MarkAsRead(ctx, buyerU1, d.ID)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.False(t, first.NewMessage)

	second, err := reg.MarkAsRead(ctx, buyerU1, d.ID)
	require.NoError(t, err)
	assert.Nil(t, second)

	count, err := reg.CountNewMessages(ctx, buyerU1)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestSetNewMessageUnknownRoomHasNoSideEffects(t *testing.T) {
	reg, store, notifier := newTestRegistry(t)
	ctx := context.Background()
	_, err := reg.CreateDiscussion(ctx, dealD1, buyerU1, sellerU2, "room-1")
	require.NoError(t, err)
	writes := store.writes

	status, err := reg.SetNewMessage(ctx, "!operator-room:hs", "@bobchat:hs")
	require.NoError(t, err)
	assert.Nil(t, status)
	assert.Equal(t, writes, store.writes)
	assert.Empty(t, store.statuses)
	assert.Empty(t, notifier.events)
}

func TestSetNewMessageFromNonParticipantIsIgnored(t *testing.T) {
	reg, store, _ := newTestRegistry(t)
	ctx := context.Background()
	_, err := reg.CreateDiscussion(ctx, dealD1, buyerU1, sellerU2, "room-1")
	require.NoError(t, err)

	status, err := reg.SetNewMessage(ctx, "room-1", "@marketplace:hs")
	require.NoError(t, err)
	assert.Nil(t, status)
	assert.Empty(t, store.statuses)
}

func TestContactScenario(t *testing.T) {
	reg, _, notifier := newTestRegistry(t)
	ctx := context.Background()

	a, err := reg.CreateDiscussion(ctx, dealD1, buyerU1, sellerU2, "room-1")
	require.NoError(t, err)
	assert.Equal(t, "room-1", a.RoomID)

	status, err := reg.SetNewMessage(ctx, "room-1", "bobchat")
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, buyerU1, status.UserID)
	assert.True(t, status.NewMessage)

	count, err := reg.CountNewMessages(ctx, buyerU1)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.Len(t, notifier.events[buyerU1], 1)
	assert.Equal(t, EventNewMessage, notifier.events[buyerU1][0].Type)
	assert.Equal(t, a.ID, notifier.events[buyerU1][0].DiscussionID)

	read, err := reg.MarkAsRead(ctx, buyerU1, a.ID)
	require.NoError(t, err)
	require.NotNil(t, read)
	assert.False(t, read.NewMessage)

	count, err = reg.CountNewMessages(ctx, buyerU1)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestGetDiscussionsByUserEnriches(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	ctx := context.Background()
	d, err := reg.CreateDiscussion(ctx, dealD1, buyerU1, sellerU2, "room-1")
	require.NoError(t, err)
	_, err = reg.SetNewMessage(ctx, "room-1", "bobchat")
	require.NoError(t, err)

	buyerView, err := reg.GetDiscussionsByUser(ctx, buyerU1)
	require.NoError(t, err)
	require.Len(t, buyerView, 1)
	assert.Equal(t, d.ID, buyerView[0].ID)
	assert.Equal(t, "Red bike", buyerView[0].DealTitle)
	assert.Equal(t, "alice", buyerView[0].BuyerUsername)
	assert.Equal(t, "bob", buyerView[0].SellerUsername)
	assert.Equal(t, sellerU2, buyerView[0].CounterpartID)
	assert.True(t, buyerView[0].NewMessage)

	sellerView, err := reg.GetDiscussionsByUser(ctx, sellerU2)
	require.NoError(t, err)
	require.Len(t, sellerView, 1)
	assert.False(t, sellerView[0].NewMessage)

	none, err := reg.GetDiscussionsByUser(ctx, 999)
	require.NoError(t, err)
	assert.Empty(t, none)
}
