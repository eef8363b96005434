// Package bookings shows a user's bookings, most recent first, and drives
// cancellation and access-code requests for them.
package bookings

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"parkwise/internal/api"
	"parkwise/internal/confirm"
	"parkwise/internal/events"
	"parkwise/internal/metrics"
	"parkwise/internal/models"
)

// AllStatuses disables the status filter.
const AllStatuses models.BookingStatus = "ALL"

// MsgCancelFailed is shown when a cancellation fails without a server message.
const MsgCancelFailed = "Failed to cancel booking."

var (
	ErrNotActive      = errors.New("only active bookings can be cancelled or given an access code")
	ErrUnknownBooking = errors.New("booking is not in the current list")
	ErrBusy           = errors.New("a cancellation is already in progress")
	ErrCancelRejected = errors.New("cancellation rejected")
	ErrNoAccessIssuer = errors.New("access codes are not available")
)

// Backend is the booking API used by the list.
type Backend interface {
	ListUserBookings(ctx context.Context, userID int64) ([]models.Booking, error)
	CancelBooking(ctx context.Context, bookingID int64) (*api.StatusResponse, error)
}

// AccessIssuer requests an access code image for a booking.
type AccessIssuer interface {
	RequestAccessCode(ctx context.Context, bookingID int64) error
}

// SortByStartDesc returns a copy of bookings ordered by start time, latest
// first. Bookings with equal start keep their relative order.
func SortByStartDesc(bookings []models.Booking) []models.Booking {
	out := append([]models.Booking(nil), bookings...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartTime.After(out[j].StartTime.Time)
	})
	return out
}

// FilterByStatus keeps bookings with the given status; empty or AllStatuses
// keeps all of them.
func FilterByStatus(bookings []models.Booking, status models.BookingStatus) []models.Booking {
	if status == "" || status == AllStatuses {
		return append([]models.Booking(nil), bookings...)
	}
	out := make([]models.Booking, 0, len(bookings))
	for _, b := range bookings {
		if b.Status == status {
			out = append(out, b)
		}
	}
	return out
}

// List holds one user's bookings. Cancellation is staged and only issued on
// explicit confirmation; after a successful cancel the list is re-fetched.
type List struct {
	backend Backend
	issuer  AccessIssuer
	userID  int64
	bus     *events.EventBus
	logger  zerolog.Logger

	busy          atomic.Bool
	pendingCancel confirm.Action[models.Booking]

	mu       sync.RWMutex
	bookings []models.Booking
	filter   models.BookingStatus
	notice   string
}

func NewList(backend Backend, issuer AccessIssuer, userID int64, bus *events.EventBus, logger zerolog.Logger) *List {
	return &List{
		backend: backend,
		issuer:  issuer,
		userID:  userID,
		bus:     bus,
		logger:  logger.With().Str("component", "booking_list").Int64("user_id", userID).Logger(),
		filter:  AllStatuses,
	}
}

// ListForUser fetches the user's bookings and returns them sorted by start
// time, latest first.
func (l *List) ListForUser(ctx context.Context) ([]models.Booking, error) {
	if err := l.Refresh(ctx); err != nil {
		return nil, err
	}
	return l.All(), nil
}

func (l *List) Refresh(ctx context.Context) error {
	bookings, err := l.backend.ListUserBookings(ctx, l.userID)
	if err != nil {
		l.logger.Error().Err(err).Msg("failed to fetch bookings")
		return fmt.Errorf("list bookings: %w", err)
	}
	sorted := SortByStartDesc(bookings)

	l.mu.Lock()
	l.bookings = sorted
	l.mu.Unlock()
	return nil
}

// All returns every fetched booking in display order.
func (l *List) All() []models.Booking {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]models.Booking(nil), l.bookings...)
}

func (l *List) SetFilter(status models.BookingStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.filter = status
}

// Visible returns the sorted bookings matching the active status filter.
func (l *List) Visible() []models.Booking {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return FilterByStatus(l.bookings, l.filter)
}

func (l *List) Counts() models.BookingCounts {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return models.CountBookings(l.bookings)
}

// Notice is the last message for the user.
func (l *List) Notice() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.notice
}

func (l *List) find(bookingID int64) (models.Booking, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, b := range l.bookings {
		if b.BookingID == bookingID {
			return b, nil
		}
	}
	return models.Booking{}, fmt.Errorf("booking %d: %w", bookingID, ErrUnknownBooking)
}

// StageCancel marks an active booking for cancellation. Nothing is sent.
func (l *List) StageCancel(bookingID int64) error {
	b, err := l.find(bookingID)
	if err != nil {
		return err
	}
	if !b.IsActive() {
		return fmt.Errorf("booking %d is %s: %w", bookingID, b.Status, ErrNotActive)
	}
	l.pendingCancel.Stage(b)
	return nil
}

func (l *List) PendingCancel() (models.Booking, bool) {
	return l.pendingCancel.Staged()
}

func (l *List) DiscardCancel() {
	l.pendingCancel.Discard()
}

// ConfirmCancel issues the cancellation for the staged booking and re-fetches
// the list on success.
func (l *List) ConfirmCancel(ctx context.Context) error {
	if !l.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer l.busy.Store(false)

	var (
		target   models.Booking
		rejected string
	)
	err := l.pendingCancel.Confirm(ctx, func(ctx context.Context, b models.Booking) error {
		target = b
		resp, err := l.backend.CancelBooking(ctx, b.BookingID)
		if err != nil {
			return err
		}
		if resp.Rejected() {
			rejected = resp.Message
			if rejected == "" {
				rejected = MsgCancelFailed
			}
			return fmt.Errorf("%w: %s", ErrCancelRejected, rejected)
		}
		return nil
	})
	if errors.Is(err, confirm.ErrNothingStaged) {
		return err
	}
	if err != nil {
		notice := rejected
		if notice == "" {
			notice = api.UserMessage(err, MsgCancelFailed)
		}
		l.setNotice(notice)
		l.logger.Warn().Err(err).Int64("booking_id", target.BookingID).Msg("cancellation failed")
		return fmt.Errorf("cancel booking %d: %w", target.BookingID, err)
	}

	metrics.IncBookingCancelled()
	l.setNotice("")
	l.logger.Info().Int64("booking_id", target.BookingID).Msg("booking cancelled")
	if err := l.bus.Publish(events.BookingCancelled, target); err != nil {
		l.logger.Warn().Err(err).Msg("event handler failed")
	}
	if err := l.Refresh(ctx); err != nil {
		l.logger.Warn().Err(err).Msg("booking list is stale after cancellation")
	}
	return nil
}

// RequestAccessCode asks the issuer for an access code of an active booking.
func (l *List) RequestAccessCode(ctx context.Context, bookingID int64) error {
	if l.issuer == nil {
		return ErrNoAccessIssuer
	}
	b, err := l.find(bookingID)
	if err != nil {
		return err
	}
	if !b.IsActive() {
		return fmt.Errorf("booking %d is %s: %w", bookingID, b.Status, ErrNotActive)
	}
	return l.issuer.RequestAccessCode(ctx, bookingID)
}

func (l *List) setNotice(msg string) {
	l.mu.Lock()
	l.notice = msg
	l.mu.Unlock()
}
