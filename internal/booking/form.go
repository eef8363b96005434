package booking

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"parkwise/internal/api"
	"parkwise/internal/events"
	"parkwise/internal/metrics"
	"parkwise/internal/models"
)

// Notices shown to the user.
const (
	MsgSelectSlot     = "Please select a slot."
	MsgSelectTimes    = "Please select a start and end time."
	MsgEndAfterStart  = "End time must be after start time."
	MsgStartInPast    = "Start time cannot be in the past."
	MsgSuccess        = `Booking successful! View in "My Bookings".`
	MsgBookingFailed  = "Booking failed."
	MsgBookingError   = "An error occurred during booking."
	MsgAlreadyPending = "A booking is already being submitted."
)

var (
	ErrNoSlotSelected   = errors.New(MsgSelectSlot)
	ErrTimesRequired    = errors.New(MsgSelectTimes)
	ErrEndNotAfterStart = errors.New(MsgEndAfterStart)
	ErrStartInPast      = errors.New(MsgStartInPast)
	ErrBusy             = errors.New(MsgAlreadyPending)
	// ErrRejected wraps a reservation the backend declined.
	ErrRejected = errors.New("booking rejected")
)

// Reserver creates bookings on the backend.
type Reserver interface {
	Reserve(ctx context.Context, req api.ReserveRequest) (*api.ReserveResponse, error)
}

// SlotSource supplies the selected slot and is refreshed after a booking.
type SlotSource interface {
	Selected() (models.Slot, bool)
	ClearSelection()
	Refresh(ctx context.Context) error
}

type Options struct {
	UserID int64
	// MinAdvance is added to the current time when checking the start time.
	MinAdvance time.Duration
	Now        func() time.Time
	Bus        *events.EventBus
	Logger     zerolog.Logger
}

// Form collects a start and end time for the selected slot and submits it.
type Form struct {
	reserver Reserver
	slots    SlotSource
	fsm      *FSM
	opts     Options
	logger   zerolog.Logger

	mu     sync.Mutex
	state  State
	start  time.Time
	end    time.Time
	notice string
}

func NewForm(reserver Reserver, slots SlotSource, opts Options) *Form {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Form{
		reserver: reserver,
		slots:    slots,
		fsm:      NewFSM(),
		opts:     opts,
		logger:   opts.Logger.With().Str("component", "booking_form").Int64("user_id", opts.UserID).Logger(),
		state:    StateIdle,
	}
}

// SetStart sets the start time. It may not be earlier than the current time
// (minute precision) plus the configured minimum advance.
func (f *Form) SetStart(t time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateSubmitting {
		return ErrBusy
	}
	earliest := f.opts.Now().Truncate(time.Minute).Add(f.opts.MinAdvance)
	if t.Before(earliest) {
		return ErrStartInPast
	}
	f.start = t
	f.edited()
	return nil
}

// SetEnd sets the end time, which must be strictly after the start time when
// one is set.
func (f *Form) SetEnd(t time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateSubmitting {
		return ErrBusy
	}
	if !f.start.IsZero() && !t.After(f.start) {
		return ErrEndNotAfterStart
	}
	f.end = t
	f.edited()
	return nil
}

// edited drops a finished attempt back to idle. Caller holds mu.
func (f *Form) edited() {
	if f.state == StateSuccess || f.state == StateFailed {
		f.state = StateIdle
	}
}

func (f *Form) Times() (start, end time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.start, f.end
}

// Duration is the absolute span between the two times in hours with one
// decimal, or "" until both are set.
func (f *Form) Duration() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.start.IsZero() || f.end.IsZero() {
		return ""
	}
	return FormatHours(f.end.Sub(f.start))
}

// FormatHours renders the absolute value of d in hours with one decimal.
func FormatHours(d time.Duration) string {
	return fmt.Sprintf("%.1f", math.Abs(d.Hours()))
}

func (f *Form) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Notice is the last message for the user.
func (f *Form) Notice() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.notice
}

// Reset abandons the form: the slot selection, times and notice are cleared
// and the form returns to idle. It does nothing while a submission is pending.
func (f *Form) Reset() {
	f.mu.Lock()
	if f.state == StateSubmitting {
		f.mu.Unlock()
		return
	}
	f.start, f.end = time.Time{}, time.Time{}
	f.notice = ""
	f.state = StateIdle
	f.mu.Unlock()

	f.slots.ClearSelection()
}

// Submit validates the form and, when valid, issues exactly one reservation
// call. Validation failures never reach the backend. On failure every field
// is kept so the user can retry.
func (f *Form) Submit(ctx context.Context) (*models.Booking, error) {
	f.mu.Lock()
	if f.state == StateSubmitting {
		f.mu.Unlock()
		return nil, ErrBusy
	}
	slot, err := f.validate()
	if err != nil {
		f.notice = err.Error()
		f.mu.Unlock()
		f.logger.Warn().Err(err).Msg("booking form incomplete")
		metrics.IncBookingSubmission("invalid")
		return nil, err
	}
	if !f.fsm.CanTransition(f.state, StateSubmitting) {
		f.mu.Unlock()
		return nil, fmt.Errorf("cannot submit from state %s", f.state)
	}
	f.state = StateSubmitting
	f.notice = ""
	req := api.ReserveRequest{
		UserID:    f.opts.UserID,
		SlotID:    slot.SlotID,
		StartTime: models.NewTimestamp(f.start.UTC()),
		EndTime:   models.NewTimestamp(f.end.UTC()),
	}
	f.mu.Unlock()

	resp, err := f.reserver.Reserve(ctx, req)
	switch {
	case err != nil:
		f.logger.Error().Err(err).Int64("slot_id", slot.SlotID).Msg("reservation call failed")
		metrics.IncBookingSubmission("error")
		return nil, f.fail(api.UserMessage(err, MsgBookingError), err)
	case !resp.Success:
		msg := resp.Message
		if msg == "" {
			msg = MsgBookingFailed
		}
		f.logger.Warn().Int64("slot_id", slot.SlotID).Str("message", msg).Msg("reservation rejected")
		metrics.IncBookingSubmission("rejected")
		return nil, f.fail(msg, fmt.Errorf("%w: %s", ErrRejected, msg))
	}

	f.slots.ClearSelection()
	if err := f.slots.Refresh(ctx); err != nil {
		f.logger.Warn().Err(err).Msg("available slots are stale after booking")
	}

	f.mu.Lock()
	f.start, f.end = time.Time{}, time.Time{}
	f.notice = MsgSuccess
	f.state = StateSuccess
	f.mu.Unlock()

	booking := resp.Booking
	if booking == nil {
		booking = &models.Booking{
			UserID:    req.UserID,
			SlotID:    req.SlotID,
			StartTime: req.StartTime,
			EndTime:   req.EndTime,
			Status:    models.BookingActive,
		}
	}
	metrics.IncBookingSubmission("success")
	f.logger.Info().Int64("slot_id", slot.SlotID).Int64("booking_id", booking.BookingID).Msg("booking created")
	if err := f.opts.Bus.Publish(events.BookingCreated, *booking); err != nil {
		f.logger.Warn().Err(err).Msg("event handler failed")
	}
	return booking, nil
}

// validate checks the submission preconditions. Caller holds mu.
func (f *Form) validate() (models.Slot, error) {
	slot, ok := f.slots.Selected()
	if !ok {
		return models.Slot{}, ErrNoSlotSelected
	}
	if f.start.IsZero() || f.end.IsZero() {
		return models.Slot{}, ErrTimesRequired
	}
	if !f.end.After(f.start) {
		return models.Slot{}, ErrEndNotAfterStart
	}
	return slot, nil
}

func (f *Form) fail(notice string, err error) error {
	f.mu.Lock()
	f.notice = notice
	f.state = StateFailed
	f.mu.Unlock()
	return err
}
