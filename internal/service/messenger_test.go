package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messenger-service/internal/codec"
	"messenger-service/internal/models"
	"messenger-service/internal/repositories"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

type routed struct {
	to int
	ev models.Event
}

type recordingRouter struct {
	mu     sync.Mutex
	online map[int]bool
	events []routed
}

func (r *recordingRouter) Route(userID int, ev models.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.online[userID] {
		return false
	}
	r.events = append(r.events, routed{to: userID, ev: ev})
	return true
}

func (r *recordingRouter) Snapshot() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := []int{}
	for id, on := range r.online {
		if on {
			ids = append(ids, id)
		}
	}
	return ids
}

func (r *recordingRouter) to(userID int) []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Event
	for _, e := range r.events {
		if e.to == userID {
			out = append(out, e.ev)
		}
	}
	return out
}

type auditRecorder struct {
	texts []string
}

func (a *auditRecorder) Emit(_ context.Context, _, text, _ string, _ int) {
	a.texts = append(a.texts, text)
}

type fixture struct {
	svc      *Messenger
	messages *repositories.MemoryMessageRepo
	router   *recordingRouter
	audit    *auditRecorder
}

func newFixture(t *testing.T, online ...int) fixture {
	t.Helper()
	c, err := codec.New(testKey)
	require.NoError(t, err)

	messages := repositories.NewMemoryMessageRepo(c, zerolog.Nop())
	users := repositories.NewMemoryUserRepo(
		models.User{ID: 1, Name: "Alice", Handle: "alice"},
		models.User{ID: 2, Name: "Bob", Handle: "bob"},
		models.User{ID: 3, Name: "Carol", Handle: "carol"},
	)
	router := &recordingRouter{online: map[int]bool{}}
	for _, id := range online {
		router.online[id] = true
	}
	audit := &auditRecorder{}
	svc := New(messages, users, router, router, zerolog.Nop(), Options{Audit: audit})
	return fixture{svc: svc, messages: messages, router: router, audit: audit}
}

func TestSendPersistsEncryptedAndRoutes(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	msg, err := f.svc.Send(ctx, 1, 2, "Привет 👋", "")
	require.NoError(t, err)
	assert.Equal(t, "Привет 👋", msg.Text)

	raw := f.messages.Raw(msg.ID)
	require.NotNil(t, raw)
	assert.NotContains(t, string(raw), "Привет")

	history, err := f.svc.History(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, msg.ID, history[0].ID)
	assert.Equal(t, "Привет 👋", history[0].Text)

	assert.Equal(t, []models.Event{models.NewMessage(msg)}, f.router.to(2))
}

func TestSendToOfflinePeerSucceeds(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Send(context.Background(), 1, 2, "hi", "")
	require.NoError(t, err)
	assert.Empty(t, f.router.events)
}

func TestSendValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Send(ctx, 1, 1, "hi", "")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.Send(ctx, 1, 2, "   ", "")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.Send(ctx, 1, 2, "", "data:image/png;base64,AAAA")
	assert.ErrorIs(t, err, ErrInvalidInput, "images need a configured store")

	_, err = f.svc.Send(ctx, 1, 99, "hi", "")
	assert.ErrorIs(t, err, repositories.ErrUserNotFound)
}

func TestHistoryMarksPeerMessagesSeen(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	first, err := f.svc.Send(ctx, 2, 1, "one", "")
	require.NoError(t, err)
	second, err := f.svc.Send(ctx, 2, 1, "two", "")
	require.NoError(t, err)
	_, err = f.svc.Send(ctx, 1, 2, "mine", "")
	require.NoError(t, err)

	history, err := f.svc.History(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.True(t, history[0].Seen)
	assert.True(t, history[1].Seen)
	assert.False(t, history[2].Seen, "own messages are not marked by the reader")

	receipts := []models.Event{}
	for _, ev := range f.router.to(2) {
		if ev.EventName() == models.EventMessageSeen {
			receipts = append(receipts, ev)
		}
	}
	assert.Equal(t, []models.Event{
		models.MessageSeen{MessageID: first.ID, SenderID: 2},
		models.MessageSeen{MessageID: second.ID, SenderID: 2},
	}, receipts)

	again, err := f.svc.History(ctx, 1, 2)
	require.NoError(t, err)
	assert.Len(t, again, 3)
	assert.Len(t, f.router.to(2), 3, "second fetch routes no new receipts")
}

func TestMarkSeenIsIdempotentAndReceiverOnly(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	msg, err := f.svc.Send(ctx, 1, 2, "hey", "")
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.MarkSeen(ctx, 1, msg.ID), ErrUnauthorized)
	require.NoError(t, f.svc.MarkSeen(ctx, 2, msg.ID))
	require.NoError(t, f.svc.MarkSeen(ctx, 2, msg.ID))

	assert.Equal(t, []models.Event{models.MessageSeen{MessageID: msg.ID, SenderID: 1}}, f.router.to(1))
	assert.ErrorIs(t, f.svc.MarkSeen(ctx, 2, 999), repositories.ErrMessageNotFound)
}

func TestDeleteByNonSenderIsUnauthorized(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	msg, err := f.svc.Send(ctx, 1, 2, "keep me", "")
	require.NoError(t, err)

	err = f.svc.DeleteMessage(ctx, 2, msg.ID)
	assert.ErrorIs(t, err, ErrUnauthorized)

	got, err := f.messages.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "keep me", got.Text)

	require.NoError(t, f.svc.DeleteMessage(ctx, 1, msg.ID))
	assert.Contains(t, f.router.to(2), models.Event(models.MessageDeleted{MessageID: msg.ID}))
	assert.ErrorIs(t, f.svc.DeleteMessage(ctx, 1, msg.ID), repositories.ErrMessageNotFound)
	assert.Len(t, f.audit.texts, 1)
}

func TestDeleteConversationCountsAndClearsBothViews(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_, err := f.svc.Send(ctx, 1, 2, "a", "")
		require.NoError(t, err)
		_, err = f.svc.Send(ctx, 2, 1, "b", "")
		require.NoError(t, err)
	}
	_, err := f.svc.Send(ctx, 1, 3, "other", "")
	require.NoError(t, err)

	count, err := f.svc.DeleteConversation(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 8, count)

	for _, pair := range [][2]int{{1, 2}, {2, 1}} {
		msgs, err := f.svc.History(ctx, pair[0], pair[1])
		require.NoError(t, err)
		assert.Empty(t, msgs)
	}
	left, err := f.svc.History(ctx, 1, 3)
	require.NoError(t, err)
	assert.Len(t, left, 1)

	assert.Contains(t, f.router.to(2), models.Event(models.ConversationDeleted{DeletedBy: 1, DeletedWith: 2}))
}

func TestReactTogglesAndRoutesToBoth(t *testing.T) {
	f := newFixture(t, 1, 2)
	ctx := context.Background()
	msg, err := f.svc.Send(ctx, 1, 2, "react to me", "")
	require.NoError(t, err)

	updated, err := f.svc.React(ctx, 2, msg.ID, "👍")
	require.NoError(t, err)
	require.Len(t, updated.Reactions, 1)

	replaced, err := f.svc.React(ctx, 2, msg.ID, "❤️")
	require.NoError(t, err)
	require.Len(t, replaced.Reactions, 1)
	assert.Equal(t, "❤️", replaced.Reactions[0].Emoji)

	cleared, err := f.svc.React(ctx, 2, msg.ID, "❤️")
	require.NoError(t, err)
	assert.Empty(t, cleared.Reactions)

	_, err = f.svc.React(ctx, 3, msg.ID, "👍")
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.svc.React(ctx, 2, msg.ID, "")
	assert.ErrorIs(t, err, ErrInvalidInput)

	reactionEvents := 0
	for _, e := range f.router.events {
		if e.ev.EventName() == models.EventReactionUpdated {
			reactionEvents++
		}
	}
	assert.Equal(t, 6, reactionEvents)
}

func TestSidebarAggregates(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	var last models.Message
	for _, text := range []string{"one", "two", "three"} {
		msg, err := f.svc.Send(ctx, 2, 1, text, "")
		require.NoError(t, err)
		last = msg
	}
	_, err := f.svc.Send(ctx, 1, 3, "hello carol", "")
	require.NoError(t, err)

	sidebar, err := f.svc.Sidebar(ctx, 1)
	require.NoError(t, err)
	require.Len(t, sidebar.Users, 2)
	assert.Equal(t, 2, sidebar.Users[0].ID)
	assert.Equal(t, 3, sidebar.Users[1].ID)
	assert.Equal(t, map[int]int{2: 3}, sidebar.UnseenMessages)
	assert.Equal(t, last.ID, sidebar.LastMessages[2].ID)
	assert.Equal(t, "three", sidebar.LastMessages[2].Text)
	assert.Equal(t, []int{3}, sidebar.OnlineUsers)

	_, err = f.svc.History(ctx, 1, 2)
	require.NoError(t, err)
	sidebar, err = f.svc.Sidebar(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, sidebar.UnseenMessages)

	lonely, err := f.svc.Sidebar(ctx, 99)
	require.NoError(t, err)
	assert.Empty(t, lonely.Users)
}

func TestTypingAndCallSignalAreRelayed(t *testing.T) {
	f := newFixture(t, 2)

	require.NoError(t, f.svc.Typing(1, 2, true))
	require.NoError(t, f.svc.RelayCallSignal(1, 2, json.RawMessage(`{"sdp":"x"}`)))
	assert.ErrorIs(t, f.svc.Typing(1, 1, true), ErrInvalidInput)
	assert.ErrorIs(t, f.svc.RelayCallSignal(1, 2, nil), ErrInvalidInput)

	assert.Equal(t, []models.Event{
		models.UserTyping{PeerID: 1, IsTyping: true},
		models.CallSignal{PeerID: 1, Signal: json.RawMessage(`{"sdp":"x"}`)},
	}, f.router.to(2))
}

func TestScrollPositions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pos, err := f.svc.ScrollPosition(ctx, 1, 2)
	require.NoError(t, err)
	assert.Zero(t, pos)

	require.NoError(t, f.svc.SaveScrollPosition(ctx, 1, 2, 420))
	pos, err = f.svc.ScrollPosition(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 420, pos)

	assert.ErrorIs(t, f.svc.SaveScrollPosition(ctx, 1, 2, -1), ErrInvalidInput)
}

func TestSearchUsersExcludesCaller(t *testing.T) {
	f := newFixture(t)
	users, err := f.svc.SearchUsers(context.Background(), 1, "@A")
	require.NoError(t, err)
	assert.Empty(t, users)

	users, err = f.svc.SearchUsers(context.Background(), 2, "al")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "alice", users[0].Handle)
}
