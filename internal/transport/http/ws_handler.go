package http

import (
	stdhttp "net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/parleyhq/relay-server/internal/chat"
	"github.com/parleyhq/relay-server/internal/relay"
	"github.com/parleyhq/relay-server/internal/session"
	"github.com/parleyhq/relay-server/internal/store"
)

// WSHandler is the connection gateway: it checks conversation membership
// before upgrading, then hands the accepted connection to a new session.
type WSHandler struct {
	store        store.ConversationStore
	processor    *chat.Processor
	relay        relay.Relay
	log          *zerolog.Logger
	pingInterval time.Duration
}

// NewWSHandler builds the websocket gateway.
func NewWSHandler(st store.ConversationStore, processor *chat.Processor, rly relay.Relay, logger *zerolog.Logger, pingInterval time.Duration) *WSHandler {
	return &WSHandler{
		store:        st,
		processor:    processor,
		relay:        rly,
		log:          logger,
		pingInterval: pingInterval,
	}
}

// Handle serves GET /ws?conversation_id=<uuid>. The access check runs before
// the protocol switch, so an unauthorized caller never gets a partial
// connection.
func (h *WSHandler) Handle(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		c.JSON(stdhttp.StatusUnauthorized, ErrorResponse{Error: "unauthenticated"})
		return
	}

	conversationID, err := uuid.Parse(c.Query("conversation_id"))
	if err != nil {
		c.JSON(stdhttp.StatusBadRequest, ErrorResponse{Error: "invalid conversation_id"})
		return
	}

	hasAccess, err := h.store.UserHasAccess(c.Request.Context(), conversationID, userID)
	if err != nil {
		h.log.Error().Err(err).Msg("access check failed")
		c.JSON(stdhttp.StatusInternalServerError, ErrorResponse{Error: "internal error"})
		return
	}
	if !hasAccess {
		h.log.Warn().
			Stringer("conversation_id", conversationID).
			Stringer("user_id", userID).
			Msg("rejected ws upgrade")
		c.JSON(stdhttp.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}

	sess := session.New(conn, h.processor, h.relay, conversationID, userID, h.log, h.pingInterval)
	if err := sess.Run(c.Request.Context()); err != nil {
		h.log.Warn().Err(err).Msg("session terminated")
	}
}
