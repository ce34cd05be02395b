package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"

	"messenger-service/internal/config"
	"messenger-service/internal/identity"
	"messenger-service/internal/models"
	"messenger-service/internal/observability"
	"messenger-service/internal/presence"
)

const maxFrameBytes = 128 << 10

// Inbound handles the events clients may send over the socket.
type Inbound interface {
	Typing(userID, peerID int, isTyping bool) error
	MarkSeen(ctx context.Context, userID, messageID int) error
	RelayCallSignal(userID, peerID int, signal json.RawMessage) error
}

// Gateway accepts authenticated websocket connections and keeps the presence
// registry in sync with them.
type Gateway struct {
	registry *presence.Registry
	verifier identity.Verifier
	inbound  Inbound
	cfg      config.Gateway
	log      zerolog.Logger
	upgrader websocket.Upgrader

	// serializes snapshot broadcasts so clients never see an older set after a newer one
	presenceMu sync.Mutex
}

// NewGateway constructs a Gateway.
func NewGateway(registry *presence.Registry, verifier identity.Verifier, inbound Inbound, cfg config.Gateway, log zerolog.Logger) *Gateway {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	return &Gateway{
		registry: registry,
		verifier: verifier,
		inbound:  inbound,
		cfg:      cfg,
		log:      log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handle authenticates the request, upgrades it, and serves the connection.
// A rejected credential never touches the registry.
func (g *Gateway) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("messenger-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()

	token := bearerToken(c.GetHeader("Authorization"), c.Query("token"))
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "missing token"})
		return
	}
	userID, err := g.verifier.Verify(ctx, token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "invalid token"})
		return
	}

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.log.Debug().Err(err).Int("user_id", userID).Msg("websocket upgrade failed")
		return
	}

	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	cl := newClient(conn, info, g.cfg.SendBuffer, g.log)

	g.registry.Register(userID, cl)
	g.broadcastPresence()
	go cl.writePump(g.cfg.PingInterval)

	observability.IncWSActive()
	publishLifecycle(context.WithoutCancel(ctx), "ws_connect", info, "")
	cl.log.Info().Msg("connection open")

	go g.serve(cl)
}

// serve runs the read loop until the connection ends, then deregisters it.
func (g *Gateway) serve(cl *client) {
	reason := g.readLoop(cl)

	if g.registry.UnregisterHandle(cl.info.UserID, cl) {
		g.broadcastPresence()
	}
	cl.Close()

	observability.DecWSActive()
	publishLifecycle(context.Background(), "ws_disconnect", cl.info, reason)
	cl.log.Info().Str("reason", reason).Msg("connection closed")
}

func (g *Gateway) readLoop(cl *client) string {
	conn := cl.conn
	readWait := 2 * g.cfg.PingInterval
	conn.SetReadLimit(maxFrameBytes)
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	limiter := rate.NewLimiter(rate.Limit(g.cfg.InboundRate), g.cfg.InboundBurst)
	if g.cfg.InboundRate <= 0 {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !isClosedByUs(cl) {
				observability.IncWSEvent("ws_error", "error")
				publishLifecycle(context.Background(), "ws_error", cl.info, err.Error())
			}
			return err.Error()
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWait))

		if !limiter.Allow() {
			observability.IncWSEvent("inbound", observability.OutcomeThrottled)
			continue
		}
		g.dispatch(cl, raw)
	}
}

func (g *Gateway) dispatch(cl *client, raw []byte) {
	ev, err := models.DecodeEvent(raw)
	if err != nil {
		cl.log.Debug().Err(err).Msg("inbound event rejected")
		return
	}

	userID := cl.info.UserID
	switch e := ev.(type) {
	case models.Typing:
		err = g.inbound.Typing(userID, e.PeerID, e.IsTyping)
	case models.MessageSeen:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = g.inbound.MarkSeen(ctx, userID, e.MessageID)
		cancel()
	case models.CallSignal:
		err = g.inbound.RelayCallSignal(userID, e.PeerID, e.Signal)
	default:
		err = errors.New("event not accepted from clients")
	}
	if err != nil {
		cl.log.Debug().Err(err).Str("event", string(ev.EventName())).Msg("inbound event failed")
	}
}

func (g *Gateway) broadcastPresence() {
	g.presenceMu.Lock()
	defer g.presenceMu.Unlock()

	snapshot := g.registry.Snapshot()
	observability.SetOnlineUsers(len(snapshot))
	g.registry.Broadcast(models.OnlineUsers(snapshot))
}

// Shutdown closes every open connection.
func (g *Gateway) Shutdown() {
	g.registry.CloseAll()
}

func isClosedByUs(cl *client) bool {
	select {
	case <-cl.done:
		return true
	default:
		return false
	}
}
