package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"coach-messaging/internal/api"
	"coach-messaging/internal/models"
)

type DataServiceMock struct {
	mock.Mock
}

func (m *DataServiceMock) FetchConversations(ctx context.Context) ([]models.Conversation, error) {
	args := m.Called(ctx)
	var conversations []models.Conversation
	if val := args.Get(0); val != nil {
		conversations = val.([]models.Conversation)
	}
	return conversations, args.Error(1)
}

func (m *DataServiceMock) FetchMessages(ctx context.Context, conversationID string, page api.Page) ([]models.Message, error) {
	args := m.Called(ctx, conversationID, page)
	var messages []models.Message
	if val := args.Get(0); val != nil {
		messages = val.([]models.Message)
	}
	return messages, args.Error(1)
}

func (m *DataServiceMock) SendMessage(ctx context.Context, conversationID, content string, attachment *models.Attachment, correlationID string) (models.Message, error) {
	args := m.Called(ctx, conversationID, content, attachment, correlationID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *DataServiceMock) MarkRead(ctx context.Context, conversationID string) error {
	args := m.Called(ctx, conversationID)
	return args.Error(0)
}

func (m *DataServiceMock) FetchUnreadCounts(ctx context.Context) (models.UnreadCounts, error) {
	args := m.Called(ctx)
	var counts models.UnreadCounts
	if val := args.Get(0); val != nil {
		counts = val.(models.UnreadCounts)
	}
	return counts, args.Error(1)
}

var _ api.DataService = (*DataServiceMock)(nil)
