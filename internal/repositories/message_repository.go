package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"messenger-service/internal/codec"
	"messenger-service/internal/models"
	"messenger-service/internal/observability"
)

// MessageRepository is the message store. Bodies are encrypted on write and
// decrypted on read; callers never see ciphertext.
type MessageRepository interface {
	Append(ctx context.Context, senderID, receiverID int, text, image string) (models.Message, error)
	GetMessage(ctx context.Context, messageID int) (models.Message, error)
	ListConversation(ctx context.Context, userA, userB int) ([]models.Message, error)
	MarkSeen(ctx context.Context, messageID int) (bool, error)
	MarkAllSeenFrom(ctx context.Context, peerID, forUser int) ([]int, error)
	Delete(ctx context.Context, messageID, requestingUserID int) (models.Message, error)
	DeleteConversation(ctx context.Context, userA, userB int) (int, error)
	SetReaction(ctx context.Context, messageID, userID int, emoji string) (models.Message, error)
	ConversationPartners(ctx context.Context, userID int) ([]int, error)
	UnseenCounts(ctx context.Context, userID int) (map[int]int, error)
	LastMessagePerPeer(ctx context.Context, userID int) (map[int]models.Message, error)
}

const messageColumns = `id, sender_id, receiver_id, body_plain, body_envelope, image, seen, created_at`

const pairFilter = `((sender_id=$1 AND receiver_id=$2) OR (sender_id=$2 AND receiver_id=$1))`

type messageRow struct {
	ID           int            `db:"id"`
	SenderID     int            `db:"sender_id"`
	ReceiverID   int            `db:"receiver_id"`
	BodyPlain    sql.NullString `db:"body_plain"`
	BodyEnvelope []byte         `db:"body_envelope"`
	Image        sql.NullString `db:"image"`
	Seen         bool           `db:"seen"`
	CreatedAt    time.Time      `db:"created_at"`
}

type reactionRow struct {
	MessageID int       `db:"message_id"`
	UserID    int       `db:"user_id"`
	Emoji     string    `db:"emoji"`
	CreatedAt time.Time `db:"created_at"`
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db    *sqlx.DB
	codec *codec.Codec
	log   zerolog.Logger
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB, c *codec.Codec, log zerolog.Logger) *MessageRepo {
	return &MessageRepo{db: db, codec: c, log: log}
}

// Append stores a message, encrypting a non-empty body.
func (r *MessageRepo) Append(ctx context.Context, senderID, receiverID int, text, image string) (models.Message, error) {
	envelope, err := sealBody(r.codec, text)
	if err != nil {
		return models.Message{}, err
	}

	var row messageRow
	err = r.db.QueryRowxContext(ctx, `INSERT INTO messages (sender_id, receiver_id, body_envelope, image) VALUES ($1, $2, $3, $4) RETURNING `+messageColumns,
		senderID, receiverID, envelope, nullable(image)).StructScan(&row)
	if err != nil {
		return models.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return r.decode(row), nil
}

// GetMessage retrieves a single message with its reactions.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	var row messageRow
	err := r.db.GetContext(ctx, &row, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, err
	}
	msgs := []models.Message{r.decode(row)}
	if err := r.attachReactions(ctx, msgs); err != nil {
		return models.Message{}, err
	}
	return msgs[0], nil
}

// ListConversation returns every message between the pair in creation order.
func (r *MessageRepo) ListConversation(ctx context.Context, userA, userB int) ([]models.Message, error) {
	var rows []messageRow
	err := r.db.SelectContext(ctx, &rows, `SELECT `+messageColumns+` FROM messages WHERE `+pairFilter+` ORDER BY created_at ASC, id ASC`, userA, userB)
	if err != nil {
		return nil, err
	}

	msgs := make([]models.Message, 0, len(rows))
	for _, row := range rows {
		msgs = append(msgs, r.decode(row))
	}
	if err := r.attachReactions(ctx, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// MarkSeen flags one message as seen. It reports whether the flag changed.
func (r *MessageRepo) MarkSeen(ctx context.Context, messageID int) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET seen = TRUE WHERE id=$1 AND seen = FALSE`, messageID)
	if err != nil {
		return false, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if count > 0 {
		return true, nil
	}

	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM messages WHERE id=$1)`, messageID); err != nil {
		return false, err
	}
	if !exists {
		return false, ErrMessageNotFound
	}
	return false, nil
}

// MarkAllSeenFrom flags every unseen message from peerID to forUser and returns their ids.
func (r *MessageRepo) MarkAllSeenFrom(ctx context.Context, peerID, forUser int) ([]int, error) {
	ids := []int{}
	err := r.db.SelectContext(ctx, &ids, `UPDATE messages SET seen = TRUE WHERE sender_id=$1 AND receiver_id=$2 AND seen = FALSE RETURNING id`, peerID, forUser)
	return ids, err
}

// Delete hard-deletes a message. Only its sender may delete it.
func (r *MessageRepo) Delete(ctx context.Context, messageID, requestingUserID int) (models.Message, error) {
	var row messageRow
	err := r.db.GetContext(ctx, &row, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, err
	}
	if row.SenderID != requestingUserID {
		return models.Message{}, ErrUnauthorized
	}

	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id=$1 AND sender_id=$2`, messageID, requestingUserID)
	if err != nil {
		return models.Message{}, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return models.Message{}, err
	}
	if count == 0 {
		return models.Message{}, ErrMessageNotFound
	}
	return r.decode(row), nil
}

// DeleteConversation removes every message in both directions and returns the count.
func (r *MessageRepo) DeleteConversation(ctx context.Context, userA, userB int) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE `+pairFilter, userA, userB)
	if err != nil {
		return 0, err
	}
	count, err := res.RowsAffected()
	return int(count), err
}

// SetReaction toggles userID's emoji on a message.
func (r *MessageRepo) SetReaction(ctx context.Context, messageID, userID int, emoji string) (models.Message, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer tx.Rollback()

	var locked int
	err = tx.GetContext(ctx, &locked, `SELECT id FROM messages WHERE id=$1 FOR UPDATE`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, err
	}

	var current string
	err = tx.GetContext(ctx, &current, `SELECT emoji FROM message_reactions WHERE message_id=$1 AND user_id=$2`, messageID, userID)
	switch {
	case err == nil && current == emoji:
		_, err = tx.ExecContext(ctx, `DELETE FROM message_reactions WHERE message_id=$1 AND user_id=$2`, messageID, userID)
	case err == nil || errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `INSERT INTO message_reactions (message_id, user_id, emoji) VALUES ($1, $2, $3)
        ON CONFLICT (message_id, user_id) DO UPDATE SET emoji = EXCLUDED.emoji, created_at = NOW()`, messageID, userID, emoji)
	}
	if err != nil {
		return models.Message{}, fmt.Errorf("toggle reaction: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return models.Message{}, err
	}
	return r.GetMessage(ctx, messageID)
}

// ConversationPartners lists every user that exchanged at least one message with userID.
func (r *MessageRepo) ConversationPartners(ctx context.Context, userID int) ([]int, error) {
	ids := []int{}
	err := r.db.SelectContext(ctx, &ids, `SELECT DISTINCT CASE WHEN sender_id=$1 THEN receiver_id ELSE sender_id END AS peer_id
        FROM messages WHERE sender_id=$1 OR receiver_id=$1 ORDER BY peer_id`, userID)
	return ids, err
}

// UnseenCounts returns peer id -> number of unseen messages addressed to userID.
func (r *MessageRepo) UnseenCounts(ctx context.Context, userID int) (map[int]int, error) {
	var rows []struct {
		PeerID int `db:"sender_id"`
		Count  int `db:"count"`
	}
	err := r.db.SelectContext(ctx, &rows, `SELECT sender_id, COUNT(*) AS count FROM messages
        WHERE receiver_id=$1 AND seen = FALSE GROUP BY sender_id`, userID)
	if err != nil {
		return nil, err
	}
	counts := make(map[int]int, len(rows))
	for _, row := range rows {
		counts[row.PeerID] = row.Count
	}
	return counts, nil
}

// LastMessagePerPeer returns the newest message of each of userID's conversations.
func (r *MessageRepo) LastMessagePerPeer(ctx context.Context, userID int) (map[int]models.Message, error) {
	var rows []struct {
		PeerID int `db:"peer_id"`
		messageRow
	}
	err := r.db.SelectContext(ctx, &rows, `SELECT DISTINCT ON (peer_id) CASE WHEN sender_id=$1 THEN receiver_id ELSE sender_id END AS peer_id, `+messageColumns+`
        FROM messages WHERE sender_id=$1 OR receiver_id=$1
        ORDER BY peer_id, created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}

	msgs := make([]models.Message, 0, len(rows))
	for _, row := range rows {
		msgs = append(msgs, r.decode(row.messageRow))
	}
	if err := r.attachReactions(ctx, msgs); err != nil {
		return nil, err
	}

	last := make(map[int]models.Message, len(rows))
	for i, row := range rows {
		last[row.PeerID] = msgs[i]
	}
	return last, nil
}

func (r *MessageRepo) attachReactions(ctx context.Context, msgs []models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]int, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}

	query, args, err := sqlx.In(`SELECT message_id, user_id, emoji, created_at FROM message_reactions WHERE message_id IN (?) ORDER BY created_at ASC`, ids)
	if err != nil {
		return err
	}
	var rows []reactionRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("load reactions: %w", err)
	}

	byMessage := make(map[int][]models.Reaction, len(rows))
	for _, row := range rows {
		byMessage[row.MessageID] = append(byMessage[row.MessageID], models.Reaction{Emoji: row.Emoji, UserID: row.UserID, CreatedAt: row.CreatedAt})
	}
	for i := range msgs {
		msgs[i].Reactions = byMessage[msgs[i].ID]
	}
	return nil
}

// decode turns a stored row into a plaintext message. A body that fails to
// decrypt becomes a placeholder so one bad record never fails a listing.
func (r *MessageRepo) decode(row messageRow) models.Message {
	msg := models.Message{
		ID:         row.ID,
		SenderID:   row.SenderID,
		ReceiverID: row.ReceiverID,
		Image:      row.Image.String,
		Seen:       row.Seen,
		CreatedAt:  row.CreatedAt,
	}
	switch {
	case len(row.BodyEnvelope) > 0:
		text, err := openBody(r.codec, row.BodyEnvelope)
		if err != nil {
			r.log.Warn().Err(err).Int("message_id", row.ID).Msg("message body undecryptable")
			markUndecryptable(&msg)
			break
		}
		msg.Text = text
	case row.BodyPlain.Valid:
		msg.Text = row.BodyPlain.String
	}
	return msg
}

func sealBody(c *codec.Codec, text string) (any, error) {
	env, err := c.Encrypt(text)
	if err != nil {
		return nil, fmt.Errorf("encrypt body: %w", err)
	}
	if env == nil {
		return nil, nil
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return string(raw), nil
}

func openBody(c *codec.Codec, raw []byte) (string, error) {
	var env codec.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", codec.ErrDecrypt
	}
	return c.Decrypt(&env)
}

func markUndecryptable(msg *models.Message) {
	observability.IncDecryptFailure()
	msg.Text = models.UndecryptableText
	msg.Undecryptable = true
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
