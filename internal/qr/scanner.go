package qr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"parkwise/internal/api"
	"parkwise/internal/events"
	"parkwise/internal/metrics"
)

// DefaultScanInterval paces validation calls from a continuous scanner feed.
const DefaultScanInterval = 300 * time.Millisecond

const MsgScanError = "Invalid QR Code or scan error."

var (
	ErrEmptyScan    = errors.New("scan result is empty")
	ErrScanInFlight = errors.New("a scan is already being validated")
)

// Validator checks a scanned payload against the backend.
type Validator interface {
	ValidateQR(ctx context.Context, code string) (*api.QRValidateResponse, error)
}

// Verdict is the result of validating one scan.
type Verdict struct {
	Valid     bool
	Message   string
	BookingID *int64
}

func (v Verdict) String() string {
	if v.Valid {
		if v.BookingID != nil {
			return fmt.Sprintf("%s (booking #%d)", v.Message, *v.BookingID)
		}
		return v.Message
	}
	return "Error: " + v.Message
}

// Scanner validates scanned payloads with at most one validation in flight.
// Scans arriving while one is pending are discarded.
type Scanner struct {
	validator Validator
	limiter   *rate.Limiter
	bus       *events.EventBus
	logger    zerolog.Logger

	inFlight atomic.Bool

	mu   sync.RWMutex
	last *Verdict
}

// NewScanner builds a scanner issuing at most one validation per interval.
// A zero interval disables pacing.
func NewScanner(validator Validator, interval time.Duration, bus *events.EventBus, logger zerolog.Logger) *Scanner {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Scanner{
		validator: validator,
		limiter:   rate.NewLimiter(limit, 1),
		bus:       bus,
		logger:    logger.With().Str("component", "qr_scanner").Logger(),
	}
}

// Scan validates one scanned payload, sent to the backend exactly as read. It
// returns ErrScanInFlight without contacting the backend while a previous scan
// is still pending.
func (s *Scanner) Scan(ctx context.Context, text string) (Verdict, error) {
	if strings.TrimSpace(text) == "" {
		return Verdict{}, ErrEmptyScan
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		s.logger.Debug().Msg("scan discarded, validation pending")
		return Verdict{}, ErrScanInFlight
	}
	defer s.inFlight.Store(false)

	if err := s.limiter.Wait(ctx); err != nil {
		return Verdict{}, fmt.Errorf("scan: %w", err)
	}

	resp, err := s.validator.ValidateQR(ctx, text)
	var verdict Verdict
	if err != nil {
		verdict = Verdict{Message: api.UserMessage(err, MsgScanError)}
		s.logger.Warn().Err(err).Msg("validation call failed")
	} else {
		verdict = Verdict{Valid: resp.Valid, Message: resp.Message, BookingID: resp.BookingID}
		if verdict.Message == "" && !verdict.Valid {
			verdict.Message = MsgScanError
		}
	}
	if !verdict.Valid {
		verdict.BookingID = nil
	}

	s.mu.Lock()
	s.last = &verdict
	s.mu.Unlock()

	metrics.IncQRValidation(verdict.Valid)
	log := s.logger.Info()
	if verdict.BookingID != nil {
		log = log.Int64("booking_id", *verdict.BookingID)
	}
	log.Bool("valid", verdict.Valid).Str("message", verdict.Message).Msg("scan validated")

	if pubErr := s.bus.Publish(events.QRValidated, verdict); pubErr != nil {
		s.logger.Warn().Err(pubErr).Msg("event handler failed")
	}
	if err != nil {
		return verdict, fmt.Errorf("validate scan: %w", err)
	}
	return verdict, nil
}

// Last is the verdict of the most recent completed scan.
func (s *Scanner) Last() (Verdict, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return Verdict{}, false
	}
	return *s.last, true
}

// Reset clears the last verdict.
func (s *Scanner) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = nil
}
