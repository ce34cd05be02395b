package repositories

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messenger-service/internal/codec"
	"messenger-service/internal/models"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

var rowColumns = []string{"id", "sender_id", "receiver_id", "body_plain", "body_envelope", "image", "seen", "created_at"}

func newMockMessageRepo(t *testing.T) (*MessageRepo, sqlmock.Sqlmock, *codec.Codec) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	c, err := codec.New(testKey)
	require.NoError(t, err)
	return NewMessageRepo(sqlx.NewDb(db, "postgres"), c, zerolog.Nop()), mock, c
}

func sealed(t *testing.T, c *codec.Codec, text string) []byte {
	t.Helper()
	env, err := c.Encrypt(text)
	require.NoError(t, err)
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	return raw
}

func TestMessageRepoAppendEncryptsBody(t *testing.T) {
	repo, mock, c := newMockMessageRepo(t)
	now := time.Now()

	var stored string
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO messages (sender_id, receiver_id, body_envelope, image)`)).
		WithArgs(1, 2, envelopeArg{out: &stored, reject: "hello"}, nil).
		WillReturnRows(sqlmock.NewRows(rowColumns).AddRow(10, 1, 2, nil, sealed(t, c, "hello"), nil, false, now))

	msg, err := repo.Append(context.Background(), 1, 2, "hello", "")

	require.NoError(t, err)
	assert.Equal(t, 10, msg.ID)
	assert.Equal(t, "hello", msg.Text)
	assert.NotContains(t, stored, "hello")
	assert.Contains(t, stored, `"algorithm":"`+codec.Algorithm+`"`)
	require.NoError(t, mock.ExpectationsWereMet())
}

// envelopeArg captures the stored envelope and rejects plaintext leaking into it.
type envelopeArg struct {
	out    *string
	reject string
}

func (a envelopeArg) Match(v driver.Value) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	*a.out = s
	return !strings.Contains(s, a.reject)
}

func TestMessageRepoGetMessageNotFound(t *testing.T) {
	repo, mock, _ := newMockMessageRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM messages WHERE id=$1`)).WithArgs(99).WillReturnError(sql.ErrNoRows)

	_, err := repo.GetMessage(context.Background(), 99)

	require.ErrorIs(t, err, ErrMessageNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepoListDecodesEveryRowShape(t *testing.T) {
	repo, mock, c := newMockMessageRepo(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY created_at ASC, id ASC`)).WithArgs(1, 2).
		WillReturnRows(sqlmock.NewRows(rowColumns).
			AddRow(1, 1, 2, nil, sealed(t, c, "secret"), nil, true, now).
			AddRow(2, 2, 1, "legacy plaintext", nil, nil, false, now.Add(time.Second)).
			AddRow(3, 2, 1, nil, []byte(`{"encrypted":"00","iv":"00","authTag":"00","algorithm":"`+codec.Algorithm+`"}`), nil, false, now.Add(2*time.Second)).
			AddRow(4, 1, 2, nil, nil, "http://img/a.png", false, now.Add(3*time.Second)))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM message_reactions WHERE message_id IN ($1, $2, $3, $4)`)).
		WithArgs(1, 2, 3, 4).
		WillReturnRows(sqlmock.NewRows([]string{"message_id", "user_id", "emoji", "created_at"}).AddRow(2, 1, "👍", now))

	msgs, err := repo.ListConversation(context.Background(), 1, 2)

	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, "secret", msgs[0].Text)
	assert.Equal(t, "legacy plaintext", msgs[1].Text)
	assert.Equal(t, []models.Reaction{{Emoji: "👍", UserID: 1, CreatedAt: now}}, msgs[1].Reactions)
	assert.True(t, msgs[2].Undecryptable)
	assert.Equal(t, models.UndecryptableText, msgs[2].Text)
	assert.Equal(t, "", msgs[3].Text)
	assert.Equal(t, "http://img/a.png", msgs[3].Image)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepoMarkSeen(t *testing.T) {
	repo, mock, _ := newMockMessageRepo(t)
	update := regexp.QuoteMeta(`UPDATE messages SET seen = TRUE WHERE id=$1 AND seen = FALSE`)
	exists := regexp.QuoteMeta(`SELECT EXISTS`)

	mock.ExpectExec(update).WithArgs(5).WillReturnResult(sqlmock.NewResult(0, 1))
	changed, err := repo.MarkSeen(context.Background(), 5)
	require.NoError(t, err)
	assert.True(t, changed)

	mock.ExpectExec(update).WithArgs(5).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(exists).WithArgs(5).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	changed, err = repo.MarkSeen(context.Background(), 5)
	require.NoError(t, err)
	assert.False(t, changed)

	mock.ExpectExec(update).WithArgs(6).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(exists).WithArgs(6).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	_, err = repo.MarkSeen(context.Background(), 6)
	require.ErrorIs(t, err, ErrMessageNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepoMarkAllSeenFrom(t *testing.T) {
	repo, mock, _ := newMockMessageRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta(`RETURNING id`)).WithArgs(2, 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3).AddRow(4))

	ids, err := repo.MarkAllSeenFrom(context.Background(), 2, 1)

	require.NoError(t, err)
	assert.Equal(t, []int{3, 4}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepoDeleteBySenderOnly(t *testing.T) {
	repo, mock, c := newMockMessageRepo(t)
	now := time.Now()
	selectRow := regexp.QuoteMeta(`FROM messages WHERE id=$1`)

	mock.ExpectQuery(selectRow).WithArgs(7).
		WillReturnRows(sqlmock.NewRows(rowColumns).AddRow(7, 1, 2, nil, sealed(t, c, "bye"), nil, false, now))
	_, err := repo.Delete(context.Background(), 7, 2)
	require.ErrorIs(t, err, ErrUnauthorized)

	mock.ExpectQuery(selectRow).WithArgs(7).
		WillReturnRows(sqlmock.NewRows(rowColumns).AddRow(7, 1, 2, nil, sealed(t, c, "bye"), nil, false, now))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM messages WHERE id=$1 AND sender_id=$2`)).WithArgs(7, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	deleted, err := repo.Delete(context.Background(), 7, 1)
	require.NoError(t, err)
	assert.Equal(t, "bye", deleted.Text)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepoDeleteConversationCountsRows(t *testing.T) {
	repo, mock, _ := newMockMessageRepo(t)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM messages WHERE ((sender_id=$1 AND receiver_id=$2)`)).WithArgs(1, 2).
		WillReturnResult(sqlmock.NewResult(0, 3))

	count, err := repo.DeleteConversation(context.Background(), 1, 2)

	require.NoError(t, err)
	assert.Equal(t, 3, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepoSetReactionTogglesOff(t *testing.T) {
	repo, mock, c := newMockMessageRepo(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FOR UPDATE`)).WithArgs(7).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT emoji FROM message_reactions`)).WithArgs(7, 2).
		WillReturnRows(sqlmock.NewRows([]string{"emoji"}).AddRow("👍"))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM message_reactions`)).WithArgs(7, 2).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM messages WHERE id=$1`)).WithArgs(7).
		WillReturnRows(sqlmock.NewRows(rowColumns).AddRow(7, 1, 2, nil, sealed(t, c, "hi"), nil, false, now))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM message_reactions WHERE message_id IN`)).WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"message_id", "user_id", "emoji", "created_at"}))

	msg, err := repo.SetReaction(context.Background(), 7, 2, "👍")

	require.NoError(t, err)
	assert.Empty(t, msg.Reactions)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepoSetReactionUpserts(t *testing.T) {
	repo, mock, c := newMockMessageRepo(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FOR UPDATE`)).WithArgs(7).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT emoji FROM message_reactions`)).WithArgs(7, 2).WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO message_reactions`)).WithArgs(7, 2, "🔥").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM messages WHERE id=$1`)).WithArgs(7).
		WillReturnRows(sqlmock.NewRows(rowColumns).AddRow(7, 1, 2, nil, sealed(t, c, "hi"), nil, false, now))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM message_reactions WHERE message_id IN`)).WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"message_id", "user_id", "emoji", "created_at"}).AddRow(7, 2, "🔥", now))

	msg, err := repo.SetReaction(context.Background(), 7, 2, "🔥")

	require.NoError(t, err)
	require.Len(t, msg.Reactions, 1)
	assert.Equal(t, "🔥", msg.Reactions[0].Emoji)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepoSetReactionMissingMessage(t *testing.T) {
	repo, mock, _ := newMockMessageRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FOR UPDATE`)).WithArgs(8).WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := repo.SetReaction(context.Background(), 8, 2, "🔥")

	require.ErrorIs(t, err, ErrMessageNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepoSidebarQueries(t *testing.T) {
	repo, mock, c := newMockMessageRepo(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT DISTINCT CASE`)).WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"peer_id"}).AddRow(2).AddRow(3))
	partners, err := repo.ConversationPartners(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, partners)

	mock.ExpectQuery(regexp.QuoteMeta(`GROUP BY sender_id`)).WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"sender_id", "count"}).AddRow(2, 4))
	unseen, err := repo.UnseenCounts(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, map[int]int{2: 4}, unseen)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT DISTINCT ON (peer_id)`)).WithArgs(1).
		WillReturnRows(sqlmock.NewRows(append([]string{"peer_id"}, rowColumns...)).
			AddRow(2, 11, 2, 1, nil, sealed(t, c, "latest"), nil, false, now))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM message_reactions WHERE message_id IN`)).WithArgs(11).
		WillReturnRows(sqlmock.NewRows([]string{"message_id", "user_id", "emoji", "created_at"}))
	last, err := repo.LastMessagePerPeer(context.Background(), 1)
	require.NoError(t, err)
	require.Contains(t, last, 2)
	assert.Equal(t, "latest", last[2].Text)

	require.NoError(t, mock.ExpectationsWereMet())
}
