package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/parleyhq/relay-server/internal/auth"
	"github.com/parleyhq/relay-server/internal/chat"
	"github.com/parleyhq/relay-server/internal/config"
	"github.com/parleyhq/relay-server/internal/relay"
	"github.com/parleyhq/relay-server/internal/store"
)

// ErrorResponse is the JSON body for HTTP-level failures.
type ErrorResponse struct {
	Error string `json:"error"`
}

// NewServer builds the HTTP server: a health probe and the authenticated
// websocket upgrade endpoint.
func NewServer(st store.Store, rly relay.Relay, verifier auth.TokenVerifier, cfg config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/health", healthHandler)

	ws := NewWSHandler(st, chat.NewProcessor(st), rly, logger, cfg.PingInterval)
	router.GET("/ws", AuthMiddleware(verifier, logger), ws.Handle)

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
