//go:build integration

package repositories_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"messenger-service/internal/codec"
	"messenger-service/internal/db"
	"messenger-service/internal/repositories"
)

var dsn string

func TestMain(m *testing.M) {
	ctx := context.Background()
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: tc.ContainerRequest{
			Image:        "postgres:15-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "postgres",
				"POSTGRES_PASSWORD": "password",
				"POSTGRES_DB":       "messenger_test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(2 * time.Minute),
		},
		Started: true,
	})
	if err != nil {
		panic(err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		panic(err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		panic(err)
	}
	dsn = fmt.Sprintf("postgres://postgres:password@%s:%s/messenger_test?sslmode=disable", host, port.Port())

	code := m.Run()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func TestRepositoriesAgainstPostgres(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, db.Migrate(conn))

	_, err = conn.ExecContext(ctx, `INSERT INTO users (id, name, handle) VALUES (1, 'Alice', 'alice'), (2, 'Bob', 'bob'), (3, 'Carol', 'carol')`)
	require.NoError(t, err)

	c, err := codec.New("000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
	require.NoError(t, err)
	messages := repositories.NewMessageRepo(conn, c, zerolog.Nop())
	users := repositories.NewUserRepo(conn)

	first, err := messages.Append(ctx, 1, 2, "hello bob", "")
	require.NoError(t, err)
	_, err = messages.Append(ctx, 2, 1, "hi alice", "")
	require.NoError(t, err)
	_, err = messages.Append(ctx, 3, 1, "", "http://img/c.png")
	require.NoError(t, err)

	var raw string
	require.NoError(t, conn.GetContext(ctx, &raw, `SELECT body_envelope::text FROM messages WHERE id=$1`, first.ID))
	assert.NotContains(t, raw, "hello bob")

	t.Run("conversation", func(t *testing.T) {
		msgs, err := messages.ListConversation(ctx, 2, 1)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "hello bob", msgs[0].Text)
		assert.Equal(t, "hi alice", msgs[1].Text)
	})

	t.Run("sidebar", func(t *testing.T) {
		partners, err := messages.ConversationPartners(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, []int{2, 3}, partners)

		unseen, err := messages.UnseenCounts(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, map[int]int{2: 1, 3: 1}, unseen)

		last, err := messages.LastMessagePerPeer(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "hi alice", last[2].Text)
		assert.Equal(t, "http://img/c.png", last[3].Image)
	})

	t.Run("seen", func(t *testing.T) {
		ids, err := messages.MarkAllSeenFrom(ctx, 2, 1)
		require.NoError(t, err)
		assert.Len(t, ids, 1)

		changed, err := messages.MarkSeen(ctx, ids[0])
		require.NoError(t, err)
		assert.False(t, changed)
	})

	t.Run("reactions", func(t *testing.T) {
		msg, err := messages.SetReaction(ctx, first.ID, 2, "👍")
		require.NoError(t, err)
		require.Len(t, msg.Reactions, 1)

		msg, err = messages.SetReaction(ctx, first.ID, 2, "👍")
		require.NoError(t, err)
		assert.Empty(t, msg.Reactions)
	})

	t.Run("scroll and search", func(t *testing.T) {
		require.NoError(t, users.SetScrollPosition(ctx, 1, 2, 120))
		require.NoError(t, users.SetScrollPosition(ctx, 1, 2, 80))
		pos, err := users.GetScrollPosition(ctx, 1, 2)
		require.NoError(t, err)
		assert.Equal(t, 80, pos)

		found, err := users.SearchByHandle(ctx, "@B", 1, 20)
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, "Bob", found[0].Name)
	})

	t.Run("legacy plaintext", func(t *testing.T) {
		var id int
		require.NoError(t, conn.GetContext(ctx, &id,
			`INSERT INTO messages (sender_id, receiver_id, body_plain) VALUES (3, 2, 'old text') RETURNING id`))

		res, err := messages.EncryptLegacy(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, repositories.LegacyResult{Encrypted: 1}, res)

		var plain *string
		require.NoError(t, conn.GetContext(ctx, &plain, `SELECT body_plain FROM messages WHERE id=$1`, id))
		assert.Nil(t, plain)

		msg, err := messages.GetMessage(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "old text", msg.Text)

		res, err = messages.EncryptLegacy(ctx, 10)
		require.NoError(t, err)
		assert.Zero(t, res.Encrypted)
	})

	t.Run("delete", func(t *testing.T) {
		_, err := messages.Delete(ctx, first.ID, 2)
		require.ErrorIs(t, err, repositories.ErrUnauthorized)

		count, err := messages.DeleteConversation(ctx, 1, 2)
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		_, err = messages.GetMessage(ctx, first.ID)
		require.ErrorIs(t, err, repositories.ErrMessageNotFound)
	})
}
