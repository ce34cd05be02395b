package repositories

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"messenger-service/internal/codec"
	"messenger-service/internal/models"
)

type storedMessage struct {
	row       messageRow
	reactions []models.Reaction
}

// MemoryMessageRepo keeps messages in process. Bodies are still sealed with the
// codec so stored records match what Postgres holds.
type MemoryMessageRepo struct {
	mu       sync.RWMutex
	codec    *codec.Codec
	log      zerolog.Logger
	now      func() time.Time
	nextID   int
	messages map[int]*storedMessage
}

// NewMemoryMessageRepo constructs an empty MemoryMessageRepo.
func NewMemoryMessageRepo(c *codec.Codec, log zerolog.Logger) *MemoryMessageRepo {
	return &MemoryMessageRepo{
		codec:    c,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
		messages: make(map[int]*storedMessage),
	}
}

func (r *MemoryMessageRepo) Append(_ context.Context, senderID, receiverID int, text, image string) (models.Message, error) {
	sealed, err := sealBody(r.codec, text)
	if err != nil {
		return models.Message{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	row := messageRow{
		ID:         r.nextID,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Seen:       false,
		CreatedAt:  r.now(),
	}
	if s, ok := sealed.(string); ok {
		row.BodyEnvelope = []byte(s)
	}
	if image != "" {
		row.Image.String, row.Image.Valid = image, true
	}
	r.messages[row.ID] = &storedMessage{row: row}
	return r.decode(r.messages[row.ID]), nil
}

// Raw returns the stored envelope of a message as JSON, or nil when it has no body.
func (r *MemoryMessageRepo) Raw(messageID int) json.RawMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.messages[messageID]; ok && len(m.row.BodyEnvelope) > 0 {
		return append(json.RawMessage(nil), m.row.BodyEnvelope...)
	}
	return nil
}

func (r *MemoryMessageRepo) GetMessage(_ context.Context, messageID int) (models.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.messages[messageID]
	if !ok {
		return models.Message{}, ErrMessageNotFound
	}
	return r.decode(m), nil
}

func (r *MemoryMessageRepo) ListConversation(_ context.Context, userA, userB int) ([]models.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	msgs := []models.Message{}
	for _, m := range r.sorted() {
		if isPair(m.row, userA, userB) {
			msgs = append(msgs, r.decode(m))
		}
	}
	return msgs, nil
}

func (r *MemoryMessageRepo) MarkSeen(_ context.Context, messageID int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[messageID]
	if !ok {
		return false, ErrMessageNotFound
	}
	if m.row.Seen {
		return false, nil
	}
	m.row.Seen = true
	return true, nil
}

func (r *MemoryMessageRepo) MarkAllSeenFrom(_ context.Context, peerID, forUser int) ([]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := []int{}
	for _, m := range r.sorted() {
		if m.row.SenderID == peerID && m.row.ReceiverID == forUser && !m.row.Seen {
			m.row.Seen = true
			ids = append(ids, m.row.ID)
		}
	}
	return ids, nil
}

func (r *MemoryMessageRepo) Delete(_ context.Context, messageID, requestingUserID int) (models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[messageID]
	if !ok {
		return models.Message{}, ErrMessageNotFound
	}
	if m.row.SenderID != requestingUserID {
		return models.Message{}, ErrUnauthorized
	}
	delete(r.messages, messageID)
	return r.decode(m), nil
}

func (r *MemoryMessageRepo) DeleteConversation(_ context.Context, userA, userB int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for id, m := range r.messages {
		if isPair(m.row, userA, userB) {
			delete(r.messages, id)
			count++
		}
	}
	return count, nil
}

func (r *MemoryMessageRepo) SetReaction(_ context.Context, messageID, userID int, emoji string) (models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[messageID]
	if !ok {
		return models.Message{}, ErrMessageNotFound
	}
	m.reactions = models.ToggleReaction(m.reactions, userID, emoji, r.now())
	return r.decode(m), nil
}

func (r *MemoryMessageRepo) ConversationPartners(_ context.Context, userID int) ([]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := map[int]struct{}{}
	for _, m := range r.messages {
		if peer, ok := peerOf(m.row, userID); ok {
			set[peer] = struct{}{}
		}
	}
	ids := make([]int, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

func (r *MemoryMessageRepo) UnseenCounts(_ context.Context, userID int) (map[int]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := map[int]int{}
	for _, m := range r.messages {
		if m.row.ReceiverID == userID && !m.row.Seen {
			counts[m.row.SenderID]++
		}
	}
	return counts, nil
}

func (r *MemoryMessageRepo) LastMessagePerPeer(_ context.Context, userID int) (map[int]models.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	last := map[int]models.Message{}
	for _, m := range r.sorted() {
		if peer, ok := peerOf(m.row, userID); ok {
			last[peer] = r.decode(m)
		}
	}
	return last, nil
}

// sorted returns messages by creation time then id. Callers hold the lock.
func (r *MemoryMessageRepo) sorted() []*storedMessage {
	out := make([]*storedMessage, 0, len(r.messages))
	for _, m := range r.messages {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].row.CreatedAt.Equal(out[j].row.CreatedAt) {
			return out[i].row.CreatedAt.Before(out[j].row.CreatedAt)
		}
		return out[i].row.ID < out[j].row.ID
	})
	return out
}

func (r *MemoryMessageRepo) decode(m *storedMessage) models.Message {
	msg := models.Message{
		ID:         m.row.ID,
		SenderID:   m.row.SenderID,
		ReceiverID: m.row.ReceiverID,
		Image:      m.row.Image.String,
		Seen:       m.row.Seen,
		CreatedAt:  m.row.CreatedAt,
	}
	if len(m.row.BodyEnvelope) > 0 {
		text, err := openBody(r.codec, m.row.BodyEnvelope)
		if err != nil {
			r.log.Warn().Err(err).Int("message_id", m.row.ID).Msg("message body undecryptable")
			markUndecryptable(&msg)
		} else {
			msg.Text = text
		}
	}
	if len(m.reactions) > 0 {
		msg.Reactions = append([]models.Reaction(nil), m.reactions...)
	}
	return msg
}

func isPair(row messageRow, a, b int) bool {
	return (row.SenderID == a && row.ReceiverID == b) || (row.SenderID == b && row.ReceiverID == a)
}

func peerOf(row messageRow, userID int) (int, bool) {
	switch userID {
	case row.SenderID:
		return row.ReceiverID, true
	case row.ReceiverID:
		return row.SenderID, true
	}
	return 0, false
}

// MemoryUserRepo is an in-process user directory.
type MemoryUserRepo struct {
	mu     sync.RWMutex
	users  map[int]models.User
	scroll map[[2]int]int
}

// NewMemoryUserRepo seeds the directory with users.
func NewMemoryUserRepo(users ...models.User) *MemoryUserRepo {
	r := &MemoryUserRepo{users: map[int]models.User{}, scroll: map[[2]int]int{}}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *MemoryUserRepo) GetUser(_ context.Context, userID int) (models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[userID]
	if !ok {
		return models.User{}, ErrUserNotFound
	}
	return u, nil
}

func (r *MemoryUserRepo) GetUsers(_ context.Context, ids []int) ([]models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	users := []models.User{}
	for _, id := range ids {
		if u, ok := r.users[id]; ok {
			users = append(users, u)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (r *MemoryUserRepo) SearchByHandle(_ context.Context, prefix string, excludeID, limit int) ([]models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	users := []models.User{}
	prefix = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(prefix), "@"))
	if prefix == "" {
		return users, nil
	}
	for _, u := range r.users {
		if u.ID != excludeID && u.Handle != "" && strings.HasPrefix(strings.ToLower(u.Handle), prefix) {
			users = append(users, u)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Handle < users[j].Handle })
	if limit > 0 && len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}

func (r *MemoryUserRepo) TouchLastSeen(_ context.Context, userID int, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[userID]; ok {
		u.LastSeen = at
		r.users[userID] = u
	}
	return nil
}

func (r *MemoryUserRepo) GetScrollPosition(_ context.Context, userID, peerID int) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.scroll[[2]int{userID, peerID}], nil
}

func (r *MemoryUserRepo) SetScrollPosition(_ context.Context, userID, peerID, position int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scroll[[2]int{userID, peerID}] = position
	return nil
}

var (
	_ MessageRepository = (*MessageRepo)(nil)
	_ MessageRepository = (*MemoryMessageRepo)(nil)
	_ UserRepository    = (*UserRepo)(nil)
	_ UserRepository    = (*MemoryUserRepo)(nil)
)
