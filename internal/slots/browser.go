// Package slots lists, filters and selects parking slots, and administers them
// for ADMIN users.
package slots

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"parkwise/internal/models"
)

// AllTypes disables the type filter.
const AllTypes models.SlotType = "ALL"

var (
	ErrUnknownSlot = errors.New("slot is not in the current list")
	ErrBusy        = errors.New("another slot change is in progress")
)

// Lister fetches the slots the backend reports as available.
type Lister interface {
	ListAvailableSlots(ctx context.Context) ([]models.Slot, error)
}

// Filter narrows a slot list by type and free-text search.
type Filter struct {
	// Type is matched exactly; empty or AllTypes matches every type.
	Type models.SlotType
	// Search is matched case-insensitively against slot number and location.
	Search string
}

func (f Filter) Match(slot models.Slot) bool {
	if f.Type != "" && f.Type != AllTypes && slot.Type != f.Type {
		return false
	}
	q := strings.ToLower(strings.TrimSpace(f.Search))
	if q == "" {
		return true
	}
	return strings.Contains(strings.ToLower(slot.SlotNumber), q) ||
		strings.Contains(strings.ToLower(slot.Location), q)
}

// Apply returns the slots matching f in their original order.
func (f Filter) Apply(slots []models.Slot) []models.Slot {
	out := make([]models.Slot, 0, len(slots))
	for _, slot := range slots {
		if f.Match(slot) {
			out = append(out, slot)
		}
	}
	return out
}

// Browser holds the last fetched available-slot list, the active filter and
// at most one selected slot.
type Browser struct {
	lister Lister
	logger zerolog.Logger

	mu       sync.RWMutex
	slots    []models.Slot
	filter   Filter
	selected *models.Slot
}

func NewBrowser(lister Lister, logger zerolog.Logger) *Browser {
	return &Browser{
		lister: lister,
		logger: logger.With().Str("component", "slot_browser").Logger(),
	}
}

// ListAvailable fetches available slots and returns those matching filter, in
// server order. The filter becomes the browser's active filter.
func (b *Browser) ListAvailable(ctx context.Context, filter Filter) ([]models.Slot, error) {
	b.SetFilter(filter)
	if err := b.Refresh(ctx); err != nil {
		return nil, err
	}
	return b.Visible(), nil
}

// Refresh re-fetches the available slots. The previous list is kept on failure.
func (b *Browser) Refresh(ctx context.Context) error {
	slots, err := b.lister.ListAvailableSlots(ctx)
	if err != nil {
		b.logger.Error().Err(err).Msg("failed to fetch available slots")
		return fmt.Errorf("list available slots: %w", err)
	}

	b.mu.Lock()
	b.slots = slots
	b.mu.Unlock()

	b.logger.Debug().Int("count", len(slots)).Msg("available slots refreshed")
	return nil
}

func (b *Browser) SetFilter(filter Filter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.filter = filter
}

func (b *Browser) Filter() Filter {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.filter
}

// Visible returns the fetched slots matching the active filter.
func (b *Browser) Visible() []models.Slot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.filter.Apply(b.slots)
}

// Select makes slotID the single selected slot. The slot must be in the last
// fetched list.
func (b *Browser) Select(slotID int64) (models.Slot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, slot := range b.slots {
		if slot.SlotID == slotID {
			selected := slot
			b.selected = &selected
			return slot, nil
		}
	}
	return models.Slot{}, fmt.Errorf("select slot %d: %w", slotID, ErrUnknownSlot)
}

// SelectNumber selects a slot by its display number, case-insensitively.
func (b *Browser) SelectNumber(number string) (models.Slot, error) {
	b.mu.RLock()
	var id int64
	for _, slot := range b.slots {
		if strings.EqualFold(slot.SlotNumber, strings.TrimSpace(number)) {
			id = slot.SlotID
			break
		}
	}
	b.mu.RUnlock()
	if id == 0 {
		return models.Slot{}, fmt.Errorf("select slot %q: %w", number, ErrUnknownSlot)
	}
	return b.Select(id)
}

func (b *Browser) Selected() (models.Slot, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.selected == nil {
		return models.Slot{}, false
	}
	return *b.selected, true
}

func (b *Browser) ClearSelection() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.selected = nil
}
