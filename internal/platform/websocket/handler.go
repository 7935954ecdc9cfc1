package websocket

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/dermoai/dermoai/internal/platform/auth"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMessage = 4096
)

var pongMessage = []byte(`{"type":"pong"}`)

// ErrNoRecipient is returned by a RecipientResolver when the user has no
// practitioner profile to register under.
var ErrNoRecipient = errors.New("practitioner profile not found")

// TokenVerifier validates the access token passed as ?token=.
type TokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

// RecipientResolver maps an authenticated user to the recipient id their
// connection is registered under.
type RecipientResolver interface {
	ResolveRecipient(ctx context.Context, userID uuid.UUID) (uuid.UUID, error)
}

// Handler upgrades specialist connections and runs their pumps.
type Handler struct {
	registry   *Registry
	tokens     TokenVerifier
	resolver   RecipientResolver
	log        zerolog.Logger
	sendBuffer int
	upgrader   gorillawebsocket.Upgrader
}

// NewHandler builds the specialist socket handler. sendBuffer sizes each
// client's queue; allowedOrigins is checked against the Origin header.
func NewHandler(registry *Registry, tokens TokenVerifier, resolver RecipientResolver, log zerolog.Logger, sendBuffer int, allowedOrigins []string) *Handler {
	return &Handler{
		registry:   registry,
		tokens:     tokens,
		resolver:   resolver,
		log:        log.With().Str("component", "ws_handler").Logger(),
		sendBuffer: sendBuffer,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

// originChecker accepts requests without an Origin header (native clients)
// and browser requests from an allowed origin. "*" allows all.
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set["*"] || set[origin]
	}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/ws/specialists", h.HandleConnect)
}

// HandleConnect authenticates the ?token= query parameter, resolves the
// caller's practitioner id, upgrades the connection and registers it.
func (h *Handler) HandleConnect(c echo.Context) error {
	identity, err := h.tokens.Verify(c.QueryParam("token"))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
	}

	recipientID, err := h.resolver.ResolveRecipient(c.Request().Context(), identity.UserID)
	if err != nil {
		if errors.Is(err, ErrNoRecipient) {
			return echo.NewHTTPError(http.StatusForbidden, ErrNoRecipient.Error())
		}
		h.log.Error().Err(err).Str("user_id", identity.UserID.String()).Msg("resolve practitioner")
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to resolve practitioner")
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already written the error response.
		return nil
	}

	client := NewClient(&gorillaConnAdapter{ws}, h.sendBuffer)
	h.registry.Register(recipientID, client)
	h.log.Info().
		Str("recipient_id", recipientID.String()).
		Str("client_id", client.ID).
		Msg("specialist connected")

	go h.writePump(client, ws)
	go h.readPump(recipientID, client, ws)

	return nil
}

// readPump answers every inbound message with a pong and unregisters the
// client when the peer goes away.
func (h *Handler) readPump(recipientID uuid.UUID, client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		h.registry.Unregister(recipientID, client)
		client.Close()
		h.log.Info().
			Str("recipient_id", recipientID.String()).
			Str("client_id", client.ID).
			Msg("specialist disconnected")
	}()

	ws.SetReadLimit(maxMessage)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
		ws.SetReadDeadline(time.Now().Add(pongWait))
		if !client.enqueue(pongMessage) {
			return
		}
	}
}

// writePump drains the client's buffer and keeps the connection alive with
// protocol pings.
func (h *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Close()
	}()

	for {
		select {
		case <-client.Done():
			return
		case msg := <-client.send:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// gorillaConnAdapter wraps a gorilla/websocket.Conn to satisfy the Conn interface.
type gorillaConnAdapter struct {
	conn *gorillawebsocket.Conn
}

func (a *gorillaConnAdapter) ReadMessage() (int, []byte, error) {
	return a.conn.ReadMessage()
}

func (a *gorillaConnAdapter) WriteMessage(messageType int, data []byte) error {
	return a.conn.WriteMessage(messageType, data)
}

func (a *gorillaConnAdapter) Close() error {
	return a.conn.Close()
}
