package api

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ticketTTL is how long a WebSocket ticket is valid.
const ticketTTL = 60 * time.Second

// loginRequest is the request body for POST /auth/login.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// loginResponse is the response body for POST /auth/login.
type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// handleLogin checks the configured admin credentials and returns a JWT.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	userOK := subtle.ConstantTimeCompare(
		[]byte(req.Username), []byte(s.secCfg.Admin.Username)) == 1
	passOK := subtle.ConstantTimeCompare(
		[]byte(req.Password), []byte(s.secCfg.Admin.Password)) == 1
	if !userOK || !passOK {
		writeUnauthorized(w, "invalid credentials")
		return
	}

	ttl := s.secCfg.JWT.AccessTokenTTL
	if ttl == 0 {
		ttl = 15 // minutes
	}

	claims := jwt.MapClaims{
		"sub": req.Username,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Duration(ttl) * time.Minute).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.secCfg.JWT.Secret))
	if err != nil {
		writeInternalError(w, "failed to generate token")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   ttl * 60, // seconds
	})
}

// handleWSTicket generates a single-use WebSocket authentication ticket.
// The client uses it to authenticate the upgrade without exposing the
// JWT in the URL.
func (s *Server) handleWSTicket(w http.ResponseWriter, _ *http.Request) {
	ticket := s.tickets.issue()
	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":     ticket,
		"expires_in": int(ticketTTL.Seconds()),
	})
}

// ticketBytes is the number of random bytes in a WebSocket ticket.
const ticketBytes = 32

// ticketStore holds pending single-use WebSocket tickets.
type ticketStore struct {
	mu      sync.Mutex
	tickets map[string]time.Time // ticket -> expiry
}

func newTicketStore() *ticketStore {
	return &ticketStore{tickets: make(map[string]time.Time)}
}

// issue mints and records a cryptographically random ticket.
func (t *ticketStore) issue() string {
	b := make([]byte, ticketBytes)
	//nolint:errcheck // crypto/rand.Read always returns len(b) on supported platforms
	rand.Read(b)
	ticket := hex.EncodeToString(b)

	t.mu.Lock()
	t.tickets[ticket] = time.Now().Add(ticketTTL)
	t.mu.Unlock()
	return ticket
}

// consume checks and burns a ticket. A ticket validates at most once.
func (t *ticketStore) consume(ticket string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	expiry, ok := t.tickets[ticket]
	if !ok {
		return false
	}
	delete(t.tickets, ticket)
	return time.Now().Before(expiry)
}

// cleanLoop evicts expired tickets until the context is cancelled.
func (t *ticketStore) cleanLoop(ctx context.Context) {
	ticker := time.NewTicker(ticketTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.mu.Lock()
			now := time.Now()
			for ticket, expiry := range t.tickets {
				if now.After(expiry) {
					delete(t.tickets, ticket)
				}
			}
			t.mu.Unlock()
		}
	}
}
