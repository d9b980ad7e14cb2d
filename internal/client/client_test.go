package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"coach-messaging/internal/mocks"
	"coach-messaging/internal/models"
	"coach-messaging/internal/transport"
)

// fakePush feeds scripted events into the client under test.
type fakePush struct {
	events chan models.Event
}

func newFakePush() *fakePush {
	return &fakePush{events: make(chan models.Event, 16)}
}

func (f *fakePush) Start(context.Context)       {}
func (f *fakePush) Events() <-chan models.Event { return f.events }
func (f *fakePush) Connected() bool             { return true }

func (f *fakePush) pushMessage(m models.Message) {
	f.events <- models.Event{Type: models.EventNewMessage, Message: &m}
}

func (f *fakePush) pushReceipt(r models.ReadReceipt) {
	f.events <- models.Event{Type: models.EventReadReceipt, Receipt: &r}
}

type fixture struct {
	client *Client
	data   *mocks.DataServiceMock
	push   *fakePush
}

// newFixture builds a started client for user "coach" with an empty backend.
// Extra expectations must be registered on data before triggering behaviors
// that need them.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	data := new(mocks.DataServiceMock)
	data.On("FetchConversations", mock.Anything).Return([]models.Conversation{}, nil).Maybe()
	data.On("FetchUnreadCounts", mock.Anything).Return(models.UnreadCounts{}, nil).Maybe()

	push := newFakePush()
	c := New(Options{
		UserID:          "coach",
		Data:            data,
		Push:            push,
		Transport:       transport.Config{CountPollInterval: time.Hour, MessagePollInterval: time.Hour},
		StaleAfter:      time.Minute,
		NotificationTTL: time.Minute,
		Logger:          zerolog.Nop(),
	})
	c.Start()
	t.Cleanup(c.Stop)
	return &fixture{client: c, data: data, push: push}
}

func incoming(id string) models.Message {
	return models.Message{
		ID:             id,
		ConversationID: "c1",
		SenderID:       "client-7",
		Content:        "hey coach",
		CreatedAt:      time.Now(),
	}
}

func TestIncomingMessageWhileConversationClosed(t *testing.T) {
	f := newFixture(t)

	f.push.pushMessage(incoming("m1"))

	require.Eventually(t, func() bool { return f.client.UnreadTotal() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, f.client.UnreadFor("c1"))

	// The message is cached without a fetch, and the alert is raised.
	msgs := f.client.cache.Messages("c1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)

	n := f.client.Notification()
	require.NotNil(t, n)
	assert.Equal(t, "c1", n.ConversationID)
	assert.Equal(t, 1, n.NewTotal)

	f.data.AssertNotCalled(t, "MarkRead", mock.Anything, mock.Anything)
}

func TestIncomingMessageWhileConversationOpen(t *testing.T) {
	f := newFixture(t)

	var markReads int
	var mu sync.Mutex
	f.data.On("MarkRead", mock.Anything, "c1").
		Run(func(mock.Arguments) { mu.Lock(); markReads++; mu.Unlock() }).
		Return(nil)
	f.data.On("FetchMessages", mock.Anything, "c1", mock.Anything).
		Return([]models.Message{incoming("m1")}, nil)

	f.client.OpenConversation("c1")
	f.push.pushMessage(incoming("m1"))

	// The thread stays read; the badge never rises and no alert appears.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return markReads >= 2 // once on open, once for the incoming message
	}, time.Second, 5*time.Millisecond)

	assert.Zero(t, f.client.UnreadTotal())
	assert.Nil(t, f.client.Notification())

	require.Eventually(t, func() bool {
		msgs := f.client.Messages("c1")
		return len(msgs) == 1 && msgs[0].ID == "m1"
	}, time.Second, 5*time.Millisecond)
}

func TestOwnEchoedMessageDoesNotCountAsUnread(t *testing.T) {
	f := newFixture(t)

	echo := incoming("m1")
	echo.SenderID = "coach"
	f.push.pushMessage(echo)

	require.Eventually(t, func() bool {
		return len(f.client.cache.Messages("c1")) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, f.client.UnreadTotal())
	assert.Nil(t, f.client.Notification())
}

func TestOpenConversationMarksReadImmediately(t *testing.T) {
	f := newFixture(t)

	f.push.pushMessage(incoming("m1"))
	require.Eventually(t, func() bool { return f.client.UnreadTotal() == 1 }, time.Second, 5*time.Millisecond)

	fetchStarted := make(chan struct{})
	fetchRelease := make(chan struct{})
	f.data.On("MarkRead", mock.Anything, "c1").Return(nil)
	f.data.On("FetchMessages", mock.Anything, "c1", mock.Anything).
		Run(func(mock.Arguments) { close(fetchStarted); <-fetchRelease }).
		Return([]models.Message{incoming("m1")}, nil)

	f.client.OpenConversation("c1")

	// Unread is zero before the message fetch completes.
	<-fetchStarted
	assert.Zero(t, f.client.UnreadFor("c1"))
	assert.Zero(t, f.client.UnreadTotal())
	close(fetchRelease)
}

func TestMarkReadFailureKeepsOptimisticZero(t *testing.T) {
	f := newFixture(t)

	f.push.pushMessage(incoming("m1"))
	require.Eventually(t, func() bool { return f.client.UnreadTotal() == 1 }, time.Second, 5*time.Millisecond)

	f.data.On("MarkRead", mock.Anything, "c1").Return(assert.AnError)
	f.client.MarkRead("c1")

	assert.Zero(t, f.client.UnreadTotal())
	time.Sleep(30 * time.Millisecond) // let the failed server write land
	assert.Zero(t, f.client.UnreadTotal())
}

func TestReadReceiptFromOtherDeviceZeroesBadge(t *testing.T) {
	f := newFixture(t)

	f.push.pushMessage(incoming("m1"))
	require.Eventually(t, func() bool { return f.client.UnreadTotal() == 1 }, time.Second, 5*time.Millisecond)

	f.push.pushReceipt(models.ReadReceipt{ConversationID: "c1", ReaderID: "coach", ReadAt: time.Now()})

	require.Eventually(t, func() bool { return f.client.UnreadTotal() == 0 }, time.Second, 5*time.Millisecond)
}

func TestPeerReadReceiptMarksOwnMessagesRead(t *testing.T) {
	f := newFixture(t)

	f.data.On("SendMessage", mock.Anything, "c1", "hello", (*models.Attachment)(nil), mock.Anything).
		Return(models.Message{ID: "srv-1", ConversationID: "c1", SenderID: "coach", Content: "hello", CreatedAt: time.Now()}, nil)

	_, err := f.client.Send("c1", "hello", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		msgs := f.client.cache.Messages("c1")
		return len(msgs) == 1 && msgs[0].Confirmed()
	}, time.Second, 5*time.Millisecond)

	f.push.pushReceipt(models.ReadReceipt{ConversationID: "c1", ReaderID: "client-7", ReadAt: time.Now()})

	require.Eventually(t, func() bool {
		msgs := f.client.cache.Messages("c1")
		return len(msgs) == 1 && msgs[0].IsRead
	}, time.Second, 5*time.Millisecond)
	// A peer's receipt never touches our own badge.
	assert.Zero(t, f.client.UnreadTotal())
}

func TestSendIsVisibleBeforeConfirm(t *testing.T) {
	f := newFixture(t)

	release := make(chan struct{})
	f.data.On("SendMessage", mock.Anything, "c1", "hello", (*models.Attachment)(nil), mock.Anything).
		Run(func(mock.Arguments) { <-release }).
		Return(models.Message{ID: "srv-1", ConversationID: "c1", SenderID: "coach", Content: "hello", CreatedAt: time.Now()}, nil)

	correlationID, err := f.client.Send("c1", "hello", nil)
	require.NoError(t, err)

	msgs := f.client.cache.Messages("c1")
	require.Len(t, msgs, 1)
	assert.Equal(t, correlationID, msgs[0].CorrelationID)
	assert.Equal(t, models.SendPending, msgs[0].Delivery)

	close(release)
	require.Eventually(t, func() bool {
		return len(f.client.PendingSends()) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestCloseConversationDiscardsLateFetch(t *testing.T) {
	f := newFixture(t)

	fetchStarted := make(chan struct{})
	fetchRelease := make(chan struct{})
	f.data.On("MarkRead", mock.Anything, "c1").Return(nil)
	f.data.On("FetchMessages", mock.Anything, "c1", mock.Anything).
		Run(func(mock.Arguments) { close(fetchStarted); <-fetchRelease }).
		Return([]models.Message{incoming("m-late")}, nil).Once()

	f.client.OpenConversation("c1")
	<-fetchStarted
	f.client.CloseConversation()
	close(fetchRelease)

	// The response arrived after close: it must not populate the cache.
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, f.client.cache.Messages("c1"))
}

func TestSubscribeDeliversUpdates(t *testing.T) {
	f := newFixture(t)

	updates, cancel := f.client.Subscribe()
	defer cancel()

	f.push.pushMessage(incoming("m1"))

	seen := map[UpdateKind]bool{}
	deadline := time.After(time.Second)
	for !(seen[UpdateMessages] && seen[UpdateUnread] && seen[UpdateNotification]) {
		select {
		case u := <-updates:
			seen[u.Kind] = true
		case <-deadline:
			t.Fatalf("missing update kinds, saw %v", seen)
		}
	}
}

func TestCountDeltaForClosedConversationRaisesBadge(t *testing.T) {
	f := newFixture(t)

	f.push.events <- models.Event{Type: models.EventCountDelta, Delta: &models.CountDelta{ConversationID: "c2", Delta: 3}}

	require.Eventually(t, func() bool { return f.client.UnreadFor("c2") == 3 }, time.Second, 5*time.Millisecond)
	n := f.client.Notification()
	require.NotNil(t, n)
	assert.Equal(t, "c2", n.ConversationID)
}

func TestCountDeltaForOpenConversationStaysRead(t *testing.T) {
	f := newFixture(t)

	f.data.On("MarkRead", mock.Anything, "c1").Return(nil)
	f.data.On("FetchMessages", mock.Anything, "c1", mock.Anything).
		Return([]models.Message{incoming("m1")}, nil)

	f.client.OpenConversation("c1")
	f.push.events <- models.Event{Type: models.EventCountDelta, Delta: &models.CountDelta{ConversationID: "c1", Delta: 1}}

	require.Eventually(t, func() bool {
		return len(f.client.Messages("c1")) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, f.client.UnreadFor("c1"))
	assert.Nil(t, f.client.Notification())
}
