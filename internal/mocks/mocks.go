package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"messenger-service/internal/models"
	"messenger-service/internal/repositories"
)

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) Append(ctx context.Context, senderID, receiverID int, text, image string) (models.Message, error) {
	args := m.Called(ctx, senderID, receiverID, text, image)
	return messageArg(args, 0), args.Error(1)
}

func (m *MessageRepositoryMock) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	args := m.Called(ctx, messageID)
	return messageArg(args, 0), args.Error(1)
}

func (m *MessageRepositoryMock) ListConversation(ctx context.Context, userA, userB int) ([]models.Message, error) {
	args := m.Called(ctx, userA, userB)
	return messagesArg(args, 0), args.Error(1)
}

func (m *MessageRepositoryMock) MarkSeen(ctx context.Context, messageID int) (bool, error) {
	args := m.Called(ctx, messageID)
	return args.Bool(0), args.Error(1)
}

func (m *MessageRepositoryMock) MarkAllSeenFrom(ctx context.Context, peerID, forUser int) ([]int, error) {
	args := m.Called(ctx, peerID, forUser)
	var ids []int
	if val := args.Get(0); val != nil {
		ids = val.([]int)
	}
	return ids, args.Error(1)
}

func (m *MessageRepositoryMock) Delete(ctx context.Context, messageID, requestingUserID int) (models.Message, error) {
	args := m.Called(ctx, messageID, requestingUserID)
	return messageArg(args, 0), args.Error(1)
}

func (m *MessageRepositoryMock) DeleteConversation(ctx context.Context, userA, userB int) (int, error) {
	args := m.Called(ctx, userA, userB)
	return args.Int(0), args.Error(1)
}

func (m *MessageRepositoryMock) SetReaction(ctx context.Context, messageID, userID int, emoji string) (models.Message, error) {
	args := m.Called(ctx, messageID, userID, emoji)
	return messageArg(args, 0), args.Error(1)
}

func (m *MessageRepositoryMock) ConversationPartners(ctx context.Context, userID int) ([]int, error) {
	args := m.Called(ctx, userID)
	var ids []int
	if val := args.Get(0); val != nil {
		ids = val.([]int)
	}
	return ids, args.Error(1)
}

func (m *MessageRepositoryMock) UnseenCounts(ctx context.Context, userID int) (map[int]int, error) {
	args := m.Called(ctx, userID)
	var counts map[int]int
	if val := args.Get(0); val != nil {
		counts = val.(map[int]int)
	}
	return counts, args.Error(1)
}

func (m *MessageRepositoryMock) LastMessagePerPeer(ctx context.Context, userID int) (map[int]models.Message, error) {
	args := m.Called(ctx, userID)
	var last map[int]models.Message
	if val := args.Get(0); val != nil {
		last = val.(map[int]models.Message)
	}
	return last, args.Error(1)
}

type UserRepositoryMock struct {
	mock.Mock
}

func (m *UserRepositoryMock) GetUser(ctx context.Context, userID int) (models.User, error) {
	args := m.Called(ctx, userID)
	var u models.User
	if val := args.Get(0); val != nil {
		u = val.(models.User)
	}
	return u, args.Error(1)
}

func (m *UserRepositoryMock) GetUsers(ctx context.Context, ids []int) ([]models.User, error) {
	args := m.Called(ctx, ids)
	return usersArg(args, 0), args.Error(1)
}

func (m *UserRepositoryMock) SearchByHandle(ctx context.Context, prefix string, excludeID, limit int) ([]models.User, error) {
	args := m.Called(ctx, prefix, excludeID, limit)
	return usersArg(args, 0), args.Error(1)
}

func (m *UserRepositoryMock) TouchLastSeen(ctx context.Context, userID int, at time.Time) error {
	args := m.Called(ctx, userID, at)
	return args.Error(0)
}

func (m *UserRepositoryMock) GetScrollPosition(ctx context.Context, userID, peerID int) (int, error) {
	args := m.Called(ctx, userID, peerID)
	return args.Int(0), args.Error(1)
}

func (m *UserRepositoryMock) SetScrollPosition(ctx context.Context, userID, peerID, position int) error {
	args := m.Called(ctx, userID, peerID, position)
	return args.Error(0)
}

// MessengerMock stands in for the conversation service behind the HTTP handlers.
type MessengerMock struct {
	mock.Mock
}

func (m *MessengerMock) Sidebar(ctx context.Context, userID int) (models.Sidebar, error) {
	args := m.Called(ctx, userID)
	var s models.Sidebar
	if val := args.Get(0); val != nil {
		s = val.(models.Sidebar)
	}
	return s, args.Error(1)
}

func (m *MessengerMock) History(ctx context.Context, userID, peerID int) ([]models.Message, error) {
	args := m.Called(ctx, userID, peerID)
	return messagesArg(args, 0), args.Error(1)
}

func (m *MessengerMock) Send(ctx context.Context, senderID, receiverID int, text, image string) (models.Message, error) {
	args := m.Called(ctx, senderID, receiverID, text, image)
	return messageArg(args, 0), args.Error(1)
}

func (m *MessengerMock) MarkSeen(ctx context.Context, userID, messageID int) error {
	args := m.Called(ctx, userID, messageID)
	return args.Error(0)
}

func (m *MessengerMock) MarkConversationSeen(ctx context.Context, userID, peerID int) (int, error) {
	args := m.Called(ctx, userID, peerID)
	return args.Int(0), args.Error(1)
}

func (m *MessengerMock) DeleteMessage(ctx context.Context, userID, messageID int) error {
	args := m.Called(ctx, userID, messageID)
	return args.Error(0)
}

func (m *MessengerMock) DeleteConversation(ctx context.Context, userID, peerID int) (int, error) {
	args := m.Called(ctx, userID, peerID)
	return args.Int(0), args.Error(1)
}

func (m *MessengerMock) React(ctx context.Context, userID, messageID int, emoji string) (models.Message, error) {
	args := m.Called(ctx, userID, messageID, emoji)
	return messageArg(args, 0), args.Error(1)
}

func (m *MessengerMock) SearchUsers(ctx context.Context, userID int, handle string) ([]models.User, error) {
	args := m.Called(ctx, userID, handle)
	return usersArg(args, 0), args.Error(1)
}

func (m *MessengerMock) ScrollPosition(ctx context.Context, userID, peerID int) (int, error) {
	args := m.Called(ctx, userID, peerID)
	return args.Int(0), args.Error(1)
}

func (m *MessengerMock) SaveScrollPosition(ctx context.Context, userID, peerID, position int) error {
	args := m.Called(ctx, userID, peerID, position)
	return args.Error(0)
}

func messageArg(args mock.Arguments, i int) models.Message {
	var msg models.Message
	if val := args.Get(i); val != nil {
		msg = val.(models.Message)
	}
	return msg
}

func messagesArg(args mock.Arguments, i int) []models.Message {
	var msgs []models.Message
	if val := args.Get(i); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs
}

func usersArg(args mock.Arguments, i int) []models.User {
	var users []models.User
	if val := args.Get(i); val != nil {
		users = val.([]models.User)
	}
	return users
}

var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ repositories.UserRepository = (*UserRepositoryMock)(nil)
