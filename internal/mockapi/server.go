// Package mockapi is an in-memory backend implementing the parking REST
// contract. It is used by tests and for local development of the client.
package mockapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"parkwise/internal/metrics"
	"parkwise/internal/models"
)

// Options configures the mock backend.
type Options struct {
	JWTSecret []byte
	TokenTTL  time.Duration
	QRTTL     time.Duration
	Now       func() time.Time
	Logger    zerolog.Logger
}

// Call is a request observed by the server.
type Call struct {
	Method        string
	Path          string
	Authorization string
	Body          []byte
}

type account struct {
	user     models.User
	password string
}

type qrRecord struct {
	bookingID int64
	expiresAt time.Time
	used      bool
}

type failure struct {
	status  int
	message string
}

// HourlyRates are used to compute revenue in the admin statistics.
var HourlyRates = map[models.SlotType]float64{
	models.SlotRegular:     2.0,
	models.SlotVIP:         5.0,
	models.SlotHandicapped: 1.0,
}

// Server is the mock backend. It is safe for concurrent use.
type Server struct {
	opts   Options
	router chi.Router
	logger zerolog.Logger

	mu            sync.Mutex
	accounts      []*account
	slots         []models.Slot
	bookings      []models.Booking
	qrs           map[string]*qrRecord
	nextUserID    int64
	nextSlotID    int64
	nextBookingID int64
	calls         []Call
	failures      map[string]failure
}

type ctxKey struct{}

type claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

func New(opts Options) *Server {
	if len(opts.JWTSecret) == 0 {
		opts.JWTSecret = []byte("parkwise-dev-secret")
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 24 * time.Hour
	}
	if opts.QRTTL <= 0 {
		opts.QRTTL = 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Server{
		opts:          opts,
		logger:        opts.Logger.With().Str("component", "mockapi").Logger(),
		qrs:           make(map[string]*qrRecord),
		failures:      make(map[string]failure),
		nextUserID:    1,
		nextSlotID:    1,
		nextBookingID: 1,
	}
	s.router = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(s.record)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/signup", s.handleSignup)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)

			r.Get("/slots", s.handleListSlots)
			r.Get("/slots/available", s.handleAvailableSlots)
			r.Get("/slots/{id}", s.handleGetSlot)

			r.Post("/bookings/reserve", s.handleReserve)
			r.Get("/bookings/user/{userId}", s.handleUserBookings)
			r.Post("/bookings/cancel", s.handleCancel)

			r.Post("/qr/generate", s.handleGenerateQR)
			r.Post("/qr/validate", s.handleValidateQR)

			r.Group(func(r chi.Router) {
				r.Use(s.requireAdmin)
				r.Post("/slots", s.handleCreateSlot)
				r.Put("/slots/{id}", s.handleUpdateSlot)
				r.Delete("/slots/{id}", s.handleDeleteSlot)
				r.Get("/bookings", s.handleAllBookings)
				r.Get("/admin/stats", s.handleStats)
			})
		})
	})
	return r
}

// record keeps every request for assertions and applies injected failures.
func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(body))

		s.mu.Lock()
		s.calls = append(s.calls, Call{
			Method:        r.Method,
			Path:          r.URL.Path,
			Authorization: r.Header.Get("Authorization"),
			Body:          body,
		})
		key := r.Method + " " + r.URL.Path
		f, fail := s.failures[key]
		if fail {
			delete(s.failures, key)
		}
		s.mu.Unlock()

		if fail {
			writeError(w, f.status, f.message)
			return
		}

		next.ServeHTTP(w, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		metrics.IncMockRequest(route)
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		var c claims
		_, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) {
			return s.opts.JWTSecret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.opts.Now))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		userID, err := strconv.ParseInt(c.Subject, 10, 64)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token subject")
			return
		}
		user := models.User{UserID: userID, Role: models.ParseRole(c.Role)}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, user)))
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !caller(r).IsAdmin() {
			writeError(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func caller(r *http.Request) *models.User {
	user, ok := r.Context().Value(ctxKey{}).(models.User)
	if !ok {
		return nil
	}
	return &user
}

func (s *Server) issueToken(user models.User) (string, error) {
	now := s.opts.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Role: string(user.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(user.UserID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.opts.TokenTTL)),
		},
	})
	return token.SignedString(s.opts.JWTSecret)
}

// Token issues a bearer token for an existing user.
func (s *Server) Token(userID int64) (string, error) {
	s.mu.Lock()
	acc := s.accountByID(userID)
	s.mu.Unlock()
	if acc == nil {
		return "", fmt.Errorf("unknown user %d", userID)
	}
	return s.issueToken(acc.user)
}

// FailNext makes the next request matching method and path fail with status
// and a JSON message body.
func (s *Server) FailNext(method, path string, status int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method+" "+path] = failure{status: status, message: message}
}

// Calls returns a copy of every request observed so far.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallCount counts observed requests with the given method and path.
func (s *Server) CallCount(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Method == method && c.Path == path {
			n++
		}
	}
	return n
}

func (s *Server) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return errors.New("invalid JSON body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "message": message})
}
