package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"messenger-service/internal/models"
	"messenger-service/internal/observability"
	"messenger-service/internal/repositories"
	"messenger-service/internal/storage"
)

var (
	// ErrUnauthorized is returned when the caller may not act on the target.
	ErrUnauthorized = repositories.ErrUnauthorized
	// ErrInvalidInput is returned for malformed or empty requests.
	ErrInvalidInput = errors.New("invalid input")
)

const (
	maxTextLength  = 4000
	maxEmojiBytes  = 32
	searchLimit    = 20
	maxSignalBytes = 64 << 10
)

// Router delivers a live event to one user's connection. It reports false when
// the user is not connected; that is expected and never retried.
type Router interface {
	Route(userID int, ev models.Event) bool
}

// OnlineLister reports the currently connected users.
type OnlineLister interface {
	Snapshot() []int
}

// ImageStore uploads message images and returns their reference.
type ImageStore interface {
	StoreImage(ctx context.Context, senderID int, input string) (string, error)
	RemoveImage(ctx context.Context, url string) error
}

// Auditor records destructive user actions.
type Auditor interface {
	Emit(ctx context.Context, level, text, requestID string, userID int)
}

// Messenger implements every conversation operation. Each mutation is persisted
// first and then routed to the affected peer.
type Messenger struct {
	messages repositories.MessageRepository
	users    repositories.UserRepository
	router   Router
	online   OnlineLister
	images   ImageStore
	audit    Auditor
	log      zerolog.Logger
}

// Options carries the optional collaborators of a Messenger.
type Options struct {
	Images ImageStore
	Audit  Auditor
}

// New builds a Messenger.
func New(messages repositories.MessageRepository, users repositories.UserRepository, router Router, online OnlineLister, log zerolog.Logger, opts Options) *Messenger {
	return &Messenger{
		messages: messages,
		users:    users,
		router:   router,
		online:   online,
		images:   opts.Images,
		audit:    opts.Audit,
		log:      log,
	}
}

// Sidebar lists the user's conversation partners with unread counts, last
// messages, and the current online set.
func (m *Messenger) Sidebar(ctx context.Context, userID int) (models.Sidebar, error) {
	partners, err := m.messages.ConversationPartners(ctx, userID)
	if err != nil {
		return models.Sidebar{}, fmt.Errorf("conversation partners: %w", err)
	}
	users, err := m.users.GetUsers(ctx, partners)
	if err != nil {
		return models.Sidebar{}, fmt.Errorf("load users: %w", err)
	}
	unseen, err := m.messages.UnseenCounts(ctx, userID)
	if err != nil {
		return models.Sidebar{}, fmt.Errorf("unseen counts: %w", err)
	}
	last, err := m.messages.LastMessagePerPeer(ctx, userID)
	if err != nil {
		return models.Sidebar{}, fmt.Errorf("last messages: %w", err)
	}

	online := []int{}
	if m.online != nil {
		online = m.online.Snapshot()
	}
	return models.Sidebar{Users: users, UnseenMessages: unseen, LastMessages: last, OnlineUsers: online}, nil
}

// History returns the conversation with peerID. Unseen messages authored by the
// peer are marked seen first and a receipt is routed for each of them.
func (m *Messenger) History(ctx context.Context, userID, peerID int) ([]models.Message, error) {
	if err := validatePeer(userID, peerID); err != nil {
		return nil, err
	}

	seenIDs, err := m.messages.MarkAllSeenFrom(ctx, peerID, userID)
	if err != nil {
		return nil, fmt.Errorf("mark seen: %w", err)
	}
	msgs, err := m.messages.ListConversation(ctx, userID, peerID)
	if err != nil {
		return nil, fmt.Errorf("list conversation: %w", err)
	}

	for _, id := range seenIDs {
		m.route(peerID, models.MessageSeen{MessageID: id, SenderID: peerID})
	}
	return msgs, nil
}

// Send persists a message and pushes it to the receiver.
func (m *Messenger) Send(ctx context.Context, senderID, receiverID int, text, image string) (models.Message, error) {
	if err := validatePeer(senderID, receiverID); err != nil {
		return models.Message{}, err
	}
	if strings.TrimSpace(text) == "" {
		text = ""
	}
	if text == "" && image == "" {
		return models.Message{}, fmt.Errorf("%w: message needs text or an image", ErrInvalidInput)
	}
	if utf8.RuneCountInString(text) > maxTextLength {
		return models.Message{}, fmt.Errorf("%w: text longer than %d characters", ErrInvalidInput, maxTextLength)
	}
	if _, err := m.users.GetUser(ctx, receiverID); err != nil {
		return models.Message{}, err
	}

	imageRef := ""
	if image != "" {
		ref, err := m.storeImage(ctx, senderID, image)
		if err != nil {
			return models.Message{}, err
		}
		imageRef = ref
	}

	msg, err := m.messages.Append(ctx, senderID, receiverID, text, imageRef)
	if err != nil {
		if imageRef != "" {
			m.removeImage(ctx, imageRef)
		}
		return models.Message{}, fmt.Errorf("append message: %w", err)
	}

	m.route(receiverID, models.NewMessage(msg))
	return msg, nil
}

// MarkSeen flags one message as seen by its receiver and notifies the sender.
// Repeating it is a no-op.
func (m *Messenger) MarkSeen(ctx context.Context, userID, messageID int) error {
	msg, err := m.messages.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.ReceiverID != userID {
		return ErrUnauthorized
	}

	changed, err := m.messages.MarkSeen(ctx, messageID)
	if err != nil {
		return err
	}
	if changed {
		m.route(msg.SenderID, models.MessageSeen{MessageID: msg.ID, SenderID: msg.SenderID})
	}
	return nil
}

// MarkConversationSeen flags every message from peerID as seen and returns how many changed.
func (m *Messenger) MarkConversationSeen(ctx context.Context, userID, peerID int) (int, error) {
	if err := validatePeer(userID, peerID); err != nil {
		return 0, err
	}
	ids, err := m.messages.MarkAllSeenFrom(ctx, peerID, userID)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		m.route(peerID, models.MessageSeen{MessageID: id, SenderID: peerID})
	}
	return len(ids), nil
}

// DeleteMessage hard-deletes a message authored by userID.
func (m *Messenger) DeleteMessage(ctx context.Context, userID, messageID int) error {
	msg, err := m.messages.Delete(ctx, messageID, userID)
	if err != nil {
		return err
	}
	if msg.Image != "" {
		m.removeImage(ctx, msg.Image)
	}

	m.route(msg.ReceiverID, models.MessageDeleted{MessageID: msg.ID})
	m.emitAudit(ctx, userID, fmt.Sprintf("message %d deleted", msg.ID))
	return nil
}

// DeleteConversation removes every message between userID and peerID.
func (m *Messenger) DeleteConversation(ctx context.Context, userID, peerID int) (int, error) {
	if err := validatePeer(userID, peerID); err != nil {
		return 0, err
	}
	count, err := m.messages.DeleteConversation(ctx, userID, peerID)
	if err != nil {
		return 0, err
	}

	m.route(peerID, models.ConversationDeleted{DeletedBy: userID, DeletedWith: peerID})
	m.emitAudit(ctx, userID, fmt.Sprintf("conversation with %d deleted (%d messages)", peerID, count))
	return count, nil
}

// React toggles userID's emoji on a message of a conversation they take part in.
func (m *Messenger) React(ctx context.Context, userID, messageID int, emoji string) (models.Message, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" || len(emoji) > maxEmojiBytes || !utf8.ValidString(emoji) {
		return models.Message{}, fmt.Errorf("%w: emoji", ErrInvalidInput)
	}

	msg, err := m.messages.GetMessage(ctx, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if !msg.Involves(userID) {
		return models.Message{}, ErrUnauthorized
	}

	updated, err := m.messages.SetReaction(ctx, messageID, userID, emoji)
	if err != nil {
		return models.Message{}, err
	}
	m.route(updated.SenderID, models.ReactionUpdated(updated))
	m.route(updated.ReceiverID, models.ReactionUpdated(updated))
	return updated, nil
}

// Typing forwards a typing state to peerID.
func (m *Messenger) Typing(userID, peerID int, isTyping bool) error {
	if err := validatePeer(userID, peerID); err != nil {
		return err
	}
	m.route(peerID, models.UserTyping{PeerID: userID, IsTyping: isTyping})
	return nil
}

// RelayCallSignal forwards an opaque call signal to peerID.
func (m *Messenger) RelayCallSignal(userID, peerID int, signal json.RawMessage) error {
	if err := validatePeer(userID, peerID); err != nil {
		return err
	}
	if len(signal) == 0 || len(signal) > maxSignalBytes {
		return fmt.Errorf("%w: call signal", ErrInvalidInput)
	}
	m.route(peerID, models.CallSignal{PeerID: userID, Signal: signal})
	return nil
}

// SearchUsers finds other users by handle prefix.
func (m *Messenger) SearchUsers(ctx context.Context, userID int, handle string) ([]models.User, error) {
	return m.users.SearchByHandle(ctx, handle, userID, searchLimit)
}

func (m *Messenger) ScrollPosition(ctx context.Context, userID, peerID int) (int, error) {
	if err := validatePeer(userID, peerID); err != nil {
		return 0, err
	}
	return m.users.GetScrollPosition(ctx, userID, peerID)
}

func (m *Messenger) SaveScrollPosition(ctx context.Context, userID, peerID, position int) error {
	if err := validatePeer(userID, peerID); err != nil {
		return err
	}
	if position < 0 {
		return fmt.Errorf("%w: negative offset", ErrInvalidInput)
	}
	return m.users.SetScrollPosition(ctx, userID, peerID, position)
}

func (m *Messenger) route(userID int, ev models.Event) {
	if m.router == nil {
		return
	}
	if !m.router.Route(userID, ev) {
		m.log.Debug().Int("user_id", userID).Str("event", string(ev.EventName())).Msg("delivery miss")
	}
}

func (m *Messenger) storeImage(ctx context.Context, senderID int, image string) (string, error) {
	if m.images == nil {
		return "", fmt.Errorf("%w: image upload is not configured", ErrInvalidInput)
	}
	ref, err := m.images.StoreImage(ctx, senderID, image)
	if errors.Is(err, storage.ErrInvalidImage) {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err != nil {
		return "", fmt.Errorf("store image: %w", err)
	}
	return ref, nil
}

func (m *Messenger) removeImage(ctx context.Context, ref string) {
	if m.images == nil {
		return
	}
	if err := m.images.RemoveImage(ctx, ref); err != nil {
		m.log.Warn().Err(err).Str("image", ref).Msg("image cleanup failed")
	}
}

func (m *Messenger) emitAudit(ctx context.Context, userID int, text string) {
	if m.audit == nil {
		return
	}
	m.audit.Emit(ctx, "INFO", text, observability.RequestIDFromContext(ctx), userID)
}

func validatePeer(userID, peerID int) error {
	if peerID <= 0 {
		return fmt.Errorf("%w: peer id", ErrInvalidInput)
	}
	if peerID == userID {
		return fmt.Errorf("%w: cannot message yourself", ErrInvalidInput)
	}
	return nil
}
