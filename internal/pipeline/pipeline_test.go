package pipeline

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"coach-messaging/internal/cache"
	"coach-messaging/internal/mocks"
	"coach-messaging/internal/models"
)

func newPipeline(t *testing.T) (*Pipeline, *cache.Cache, *mocks.DataServiceMock) {
	t.Helper()
	data := new(mocks.DataServiceMock)
	c := cache.New(time.Minute)
	p := New(data, c, "me", zerolog.Nop())
	return p, c, data
}

func TestSendRejectsEmptyMessage(t *testing.T) {
	p, _, _ := newPipeline(t)

	_, err := p.Send("c1", "   ", nil)
	require.ErrorIs(t, err, ErrEmptyMessage)
}

func TestSendIsOptimisticallyVisibleBeforeConfirm(t *testing.T) {
	p, c, data := newPipeline(t)

	blocked := make(chan struct{})
	data.On("SendMessage", mock.Anything, "c1", "hello", (*models.Attachment)(nil), mock.Anything).
		Run(func(mock.Arguments) { <-blocked }).
		Return(models.Message{}, assert.AnError).Once()

	correlationID, err := p.Send("c1", "hello", nil)
	require.NoError(t, err)

	msgs := c.Messages("c1")
	require.Len(t, msgs, 1)
	assert.Equal(t, correlationID, msgs[0].CorrelationID)
	assert.Equal(t, models.SendPending, msgs[0].Delivery)
	assert.False(t, msgs[0].Confirmed())

	close(blocked)
}

func TestConfirmSwapsPlaceholderWithoutDuplicate(t *testing.T) {
	p, c, data := newPipeline(t)

	data.On("SendMessage", mock.Anything, "c1", "hello", (*models.Attachment)(nil), mock.Anything).
		Return(models.Message{ID: "srv-1", ConversationID: "c1", SenderID: "me", Content: "hello", CreatedAt: time.Now()}, nil).Once()

	correlationID, err := p.Send("c1", "hello", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		msgs := c.Messages("c1")
		return len(msgs) == 1 && msgs[0].ID == "srv-1"
	}, time.Second, 5*time.Millisecond)

	msgs := c.Messages("c1")
	assert.Equal(t, correlationID, msgs[0].CorrelationID)
	assert.Empty(t, msgs[0].Delivery)
	assert.Empty(t, p.PendingSends())
	data.AssertExpectations(t)
}

func TestFailedSendIsRetainedAndRetryReusesCorrelationID(t *testing.T) {
	p, c, data := newPipeline(t)

	data.On("SendMessage", mock.Anything, "c1", "hello", (*models.Attachment)(nil), mock.Anything).
		Return(models.Message{}, assert.AnError).Once()

	correlationID, err := p.Send("c1", "hello", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		msgs := c.Messages("c1")
		return len(msgs) == 1 && msgs[0].Delivery == models.SendFailed
	}, time.Second, 5*time.Millisecond)

	pending := p.PendingSends()
	require.Len(t, pending, 1)
	assert.Equal(t, models.SendFailed, pending[0].State)
	assert.NotEmpty(t, pending[0].LastError)

	// Retry succeeds with the same correlation id.
	data.On("SendMessage", mock.Anything, "c1", "hello", (*models.Attachment)(nil), correlationID).
		Return(models.Message{ID: "srv-2", ConversationID: "c1", SenderID: "me", Content: "hello", CreatedAt: time.Now()}, nil).Once()

	require.NoError(t, p.Retry(correlationID))

	require.Eventually(t, func() bool {
		msgs := c.Messages("c1")
		return len(msgs) == 1 && msgs[0].ID == "srv-2"
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, p.PendingSends())
	data.AssertExpectations(t)
}

func TestRetryRequiresFailedState(t *testing.T) {
	p, _, data := newPipeline(t)

	blocked := make(chan struct{})
	data.On("SendMessage", mock.Anything, "c1", "hello", (*models.Attachment)(nil), mock.Anything).
		Run(func(mock.Arguments) { <-blocked }).
		Return(models.Message{}, assert.AnError).Once()

	correlationID, err := p.Send("c1", "hello", nil)
	require.NoError(t, err)

	assert.ErrorIs(t, p.Retry(correlationID), ErrSendNotFailed)
	assert.ErrorIs(t, p.Retry("nope"), ErrUnknownSend)

	close(blocked)
}

func TestDismissDropsFailedSend(t *testing.T) {
	p, c, data := newPipeline(t)

	data.On("SendMessage", mock.Anything, "c1", "hello", (*models.Attachment)(nil), mock.Anything).
		Return(models.Message{}, assert.AnError).Once()

	correlationID, err := p.Send("c1", "hello", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(p.PendingSends()) == 1 && p.PendingSends()[0].State == models.SendFailed
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, p.Dismiss(correlationID))
	assert.Empty(t, p.PendingSends())
	assert.Empty(t, c.Messages("c1"))
}

func TestSubmissionOrderPreservedUnderOutOfOrderResponses(t *testing.T) {
	p, c, data := newPipeline(t)

	firstDone := make(chan struct{})
	base := time.Now()
	data.On("SendMessage", mock.Anything, "c1", "first", (*models.Attachment)(nil), mock.Anything).
		Run(func(mock.Arguments) { <-firstDone }).
		Return(models.Message{ID: "srv-a", ConversationID: "c1", SenderID: "me", Content: "first", CreatedAt: base}, nil).Once()
	data.On("SendMessage", mock.Anything, "c1", "second", (*models.Attachment)(nil), mock.Anything).
		Return(models.Message{ID: "srv-b", ConversationID: "c1", SenderID: "me", Content: "second", CreatedAt: base.Add(time.Second)}, nil).Once()

	_, err := p.Send("c1", "first", nil)
	require.NoError(t, err)
	_, err = p.Send("c1", "second", nil)
	require.NoError(t, err)

	// The second response lands first; release the first afterwards.
	require.Eventually(t, func() bool {
		for _, m := range c.Messages("c1") {
			if m.ID == "srv-b" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
	close(firstDone)

	require.Eventually(t, func() bool {
		msgs := c.Messages("c1")
		return len(msgs) == 2 && msgs[0].ID == "srv-a" && msgs[1].ID == "srv-b"
	}, time.Second, 5*time.Millisecond)
	data.AssertExpectations(t)
}
