package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/dermoai/dermoai/internal/platform/auth"
)

type stubVerifier map[string]auth.Identity

func (s stubVerifier) Verify(token string) (auth.Identity, error) {
	id, ok := s[token]
	if !ok {
		return auth.Identity{}, auth.ErrInvalidToken
	}
	return id, nil
}

type stubResolver map[uuid.UUID]uuid.UUID

func (s stubResolver) ResolveRecipient(_ context.Context, userID uuid.UUID) (uuid.UUID, error) {
	pid, ok := s[userID]
	if !ok {
		return uuid.Nil, ErrNoRecipient
	}
	return pid, nil
}

type wsFixture struct {
	registry       *Registry
	server         *httptest.Server
	practitionerID uuid.UUID
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	specialistUser := uuid.New()
	patientUser := uuid.New()
	practitionerID := uuid.New()

	verifier := stubVerifier{
		"specialist-token": {UserID: specialistUser, Role: auth.RolePractitioner},
		"patient-token":    {UserID: patientUser, Role: auth.RoleUser},
	}
	resolver := stubResolver{specialistUser: practitionerID}

	reg := NewRegistry(zerolog.Nop())
	h := NewHandler(reg, verifier, resolver, zerolog.Nop(), 8, []string{"http://localhost:3000"})

	e := echo.New()
	h.RegisterRoutes(e.Group("/api/v1"))
	srv := httptest.NewServer(e)
	t.Cleanup(func() {
		reg.Close()
		srv.Close()
	})

	return &wsFixture{registry: reg, server: srv, practitionerID: practitionerID}
}

func (f *wsFixture) url(token string) string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http") + "/api/v1/ws/specialists?token=" + token
}

func (f *wsFixture) dial(t *testing.T, token string, header http.Header) (*gorillawebsocket.Conn, *http.Response, error) {
	t.Helper()
	return gorillawebsocket.DefaultDialer.Dial(f.url(token), header)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func readJSON(t *testing.T, conn *gorillawebsocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return out
}

func TestHandler_RegisterRoutes(t *testing.T) {
	h := NewHandler(NewRegistry(zerolog.Nop()), stubVerifier{}, stubResolver{}, zerolog.Nop(), 8, nil)
	e := echo.New()
	h.RegisterRoutes(e.Group("/api/v1"))

	for _, r := range e.Routes() {
		if r.Path == "/api/v1/ws/specialists" && r.Method == http.MethodGet {
			return
		}
	}
	t.Fatal("expected GET /api/v1/ws/specialists route to be registered")
}

func TestHandler_ConnectRegistersUnderPractitioner(t *testing.T) {
	f := newWSFixture(t)

	conn, _, err := f.dial(t, "specialist-token", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	waitFor(t, "registration", func() bool { return f.registry.ConnectionCount(f.practitionerID) == 1 })
}

func TestHandler_PingGetsPong(t *testing.T) {
	f := newWSFixture(t)
	conn, _, err := f.dial(t, "specialist-token", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(gorillawebsocket.TextMessage, []byte("ping")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := readJSON(t, conn); msg["type"] != "pong" {
		t.Fatalf("expected pong, got %v", msg)
	}
}

func TestHandler_DeliversRegistryEvents(t *testing.T) {
	f := newWSFixture(t)
	conn, _, err := f.dial(t, "specialist-token", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	waitFor(t, "registration", func() bool { return f.registry.ConnectionCount(f.practitionerID) == 1 })

	tcID := uuid.NewString()
	f.registry.SendToRecipient(f.practitionerID, map[string]string{
		"type":                "teleconsultation_request",
		"teleconsultation_id": tcID,
	})

	msg := readJSON(t, conn)
	if msg["type"] != "teleconsultation_request" || msg["teleconsultation_id"] != tcID {
		t.Fatalf("unexpected event %v", msg)
	}
}

func TestHandler_DisconnectUnregisters(t *testing.T) {
	f := newWSFixture(t)
	conn, _, err := f.dial(t, "specialist-token", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	waitFor(t, "registration", func() bool { return f.registry.ConnectionCount(f.practitionerID) == 1 })

	conn.Close()

	waitFor(t, "unregistration", func() bool { return f.registry.RecipientCount() == 0 })
}

func TestHandler_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		token  string
		origin string
		status int
	}{
		{"missing token", "", "", http.StatusUnauthorized},
		{"unknown token", "forged", "", http.StatusUnauthorized},
		{"no practitioner profile", "patient-token", "", http.StatusForbidden},
		{"foreign origin", "specialist-token", "https://evil.example", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newWSFixture(t)
			header := http.Header{}
			if tt.origin != "" {
				header.Set("Origin", tt.origin)
			}
			conn, resp, err := f.dial(t, tt.token, header)
			if err == nil {
				conn.Close()
				t.Fatal("expected handshake to fail")
			}
			if !errors.Is(err, gorillawebsocket.ErrBadHandshake) {
				t.Fatalf("expected bad handshake, got %v", err)
			}
			if resp.StatusCode != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, resp.StatusCode)
			}
			if f.registry.RecipientCount() != 0 {
				t.Fatal("rejected connection must not be registered")
			}
		})
	}
}

func TestHandler_AllowedOrigin(t *testing.T) {
	f := newWSFixture(t)
	conn, _, err := f.dial(t, "specialist-token", http.Header{"Origin": []string{"http://localhost:3000"}})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.Close()
}
