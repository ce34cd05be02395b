package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger reports database reachability.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// OnlineCounter reports the connected users.
type OnlineCounter interface {
	Snapshot() []int
}

// StatusHandler reports liveness, database reachability, and the online count.
// db may be nil when running on the in-memory driver.
func StatusHandler(db Pinger, online OnlineCounter) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{"message": "ok", "online": len(online.Snapshot())}
		if db != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				fail(c, http.StatusServiceUnavailable, "database unreachable")
				return
			}
		}
		respond(c, http.StatusOK, body)
	}
}
