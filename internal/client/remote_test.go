package client

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messenger-service/internal/codec"
	"messenger-service/internal/config"
	"messenger-service/internal/handlers"
	"messenger-service/internal/identity"
	"messenger-service/internal/middleware"
	"messenger-service/internal/models"
	"messenger-service/internal/presence"
	"messenger-service/internal/repositories"
	"messenger-service/internal/service"
	"messenger-service/internal/ws"
)

type liveServer struct {
	url string
	jwt *identity.JWT
}

func newLiveServer(t *testing.T) *liveServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	c, err := codec.New("000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
	require.NoError(t, err)
	users := repositories.NewMemoryUserRepo(
		models.User{ID: 1, Name: "Alice", Handle: "alice"},
		models.User{ID: 2, Name: "Bob", Handle: "bob"},
	)
	registry := presence.NewRegistry(users, zerolog.Nop())
	svc := service.New(repositories.NewMemoryMessageRepo(c, zerolog.Nop()), users, registry, registry, zerolog.Nop(), service.Options{})
	jwt := identity.NewJWT("secret")
	gw := ws.NewGateway(registry, jwt, svc, config.Gateway{SendBuffer: 32, PingInterval: 5 * time.Second}, zerolog.Nop())

	r := gin.New()
	r.GET("/ws", gw.Handle)
	api := r.Group("/api", middleware.AuthMiddleware(jwt))
	handlers.NewConversationHandler(svc, zerolog.Nop()).Register(api)

	server := httptest.NewServer(r)
	t.Cleanup(func() {
		gw.Shutdown()
		server.Close()
	})
	return &liveServer{url: server.URL, jwt: jwt}
}

type connected struct {
	session *Session
	remote  *Remote
}

func (l *liveServer) connect(t *testing.T, userID int) connected {
	t.Helper()
	token, err := l.jwt.Issue(userID, time.Hour)
	require.NoError(t, err)

	remote := NewRemote(l.url, token)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	sock, err := remote.Connect(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sock.Close() })

	s := NewSession(userID, remote, sock, Options{TypingQuiet: 300 * time.Millisecond}, zerolog.Nop())
	go func() { _ = s.Run(ctx) }()
	go func() { _ = sock.Listen(ctx, s.Handle) }()
	s.Refresh()
	return connected{session: s, remote: remote}
}

func peerByID(v View, id int) (Peer, bool) {
	for _, p := range v.Peers {
		if p.User.ID == id {
			return p, true
		}
	}
	return Peer{}, false
}

func TestRemoteConversationRoundTrip(t *testing.T) {
	srv := newLiveServer(t)
	alice := srv.connect(t, 1)
	bob := srv.connect(t, 2)

	eventually(t, alice.session, func(v View) bool {
		p, ok := peerByID(v, 2)
		return !ok || p.Online
	})

	alice.session.Open(2)
	bodies := []string{"first", "second", "third"}
	for _, text := range bodies {
		alice.session.Send(text, "")
	}
	eventually(t, alice.session, func(v View) bool {
		if len(v.Entries) != 3 {
			return false
		}
		for i, e := range v.Entries {
			if e.Status != StatusSent || e.Text != bodies[i] {
				return false
			}
		}
		return true
	})

	eventually(t, bob.session, func(v View) bool {
		p, ok := peerByID(v, 1)
		return ok && p.Unseen == 3 && p.Preview == "third"
	})

	bob.session.Open(1)
	eventually(t, bob.session, func(v View) bool {
		p, _ := peerByID(v, 1)
		if len(v.Entries) != 3 || p.Unseen != 0 {
			return false
		}
		for i, e := range v.Entries {
			if e.Text != bodies[i] {
				return false
			}
		}
		return true
	})

	eventually(t, alice.session, func(v View) bool {
		n := len(v.Entries)
		return n == 3 && v.Entries[n-1].ShowSeen && !v.Entries[0].ShowSeen
	})

	bob.session.Keystroke()
	eventually(t, alice.session, func(v View) bool {
		p, ok := peerByID(v, 2)
		return ok && p.Typing
	})
	eventually(t, alice.session, func(v View) bool {
		p, _ := peerByID(v, 2)
		return !p.Typing
	})

	alice.session.DeleteConversation()
	eventually(t, bob.session, func(v View) bool { return len(v.Entries) == 0 && v.Peer == 1 })
	eventually(t, alice.session, func(v View) bool { return len(v.Entries) == 0 && v.Peer == 2 })
}

func TestRemoteRejectsBadToken(t *testing.T) {
	srv := newLiveServer(t)
	remote := NewRemote(srv.url, "bogus")

	_, err := remote.Sidebar(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 401, apiErr.Status)

	_, err = remote.Connect(context.Background())
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 401, apiErr.Status)
}

func TestRemoteMapsForbiddenDelete(t *testing.T) {
	srv := newLiveServer(t)
	aliceToken, err := srv.jwt.Issue(1, time.Hour)
	require.NoError(t, err)
	bobToken, err := srv.jwt.Issue(2, time.Hour)
	require.NoError(t, err)

	msg, err := NewRemote(srv.url, aliceToken).Send(context.Background(), 2, "mine", "")
	require.NoError(t, err)

	err = NewRemote(srv.url, bobToken).DeleteMessage(context.Background(), msg.ID)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 403, apiErr.Status)
}
