package slots

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"parkwise/internal/confirm"
	"parkwise/internal/events"
	"parkwise/internal/metrics"
	"parkwise/internal/models"
)

var ErrSlotNumberRequired = errors.New("slot number is required")

// AllStatuses disables the status filter.
const AllStatuses models.SlotStatus = "ALL"

// Admin is the backend surface used by the slot manager.
type Admin interface {
	ListSlots(ctx context.Context) ([]models.Slot, error)
	CreateSlot(ctx context.Context, slot models.Slot) (*models.Slot, error)
	UpdateSlot(ctx context.Context, slotID int64, slot models.Slot) (*models.Slot, error)
	DeleteSlot(ctx context.Context, slotID int64) error
}

// ManagerFilter extends Filter with a status constraint.
type ManagerFilter struct {
	Filter
	Status models.SlotStatus
}

func (f ManagerFilter) Match(slot models.Slot) bool {
	if f.Status != "" && f.Status != AllStatuses && slot.Status != f.Status {
		return false
	}
	return f.Filter.Match(slot)
}

// Manager is the administrative slot view. At most one mutation runs at a
// time and deletions go through a staged confirmation.
type Manager struct {
	admin  Admin
	bus    *events.EventBus
	logger zerolog.Logger

	busy          atomic.Bool
	pendingDelete confirm.Action[models.Slot]

	mu    sync.RWMutex
	slots []models.Slot
}

func NewManager(admin Admin, bus *events.EventBus, logger zerolog.Logger) *Manager {
	return &Manager{
		admin:  admin,
		bus:    bus,
		logger: logger.With().Str("component", "slot_manager").Logger(),
	}
}

// Refresh fetches every slot regardless of status.
func (m *Manager) Refresh(ctx context.Context) error {
	slots, err := m.admin.ListSlots(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to fetch slots")
		return fmt.Errorf("list slots: %w", err)
	}
	m.mu.Lock()
	m.slots = slots
	m.mu.Unlock()
	return nil
}

func (m *Manager) Slots() []models.Slot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Slot(nil), m.slots...)
}

// Visible returns the fetched slots matching filter.
func (m *Manager) Visible(filter ManagerFilter) []models.Slot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Slot, 0, len(m.slots))
	for _, slot := range m.slots {
		if filter.Match(slot) {
			out = append(out, slot)
		}
	}
	return out
}

// Save creates slot when it has no id and updates it otherwise, then
// re-fetches the list.
func (m *Manager) Save(ctx context.Context, slot models.Slot) (*models.Slot, error) {
	slot.SlotNumber = strings.TrimSpace(slot.SlotNumber)
	slot.Location = strings.TrimSpace(slot.Location)
	if slot.SlotNumber == "" {
		return nil, ErrSlotNumberRequired
	}
	if slot.Type == "" {
		slot.Type = models.SlotRegular
	}
	if slot.Status == "" {
		slot.Status = models.SlotAvailable
	}
	if !slot.Type.Valid() {
		return nil, fmt.Errorf("invalid slot type %q", slot.Type)
	}
	if !slot.Status.Valid() {
		return nil, fmt.Errorf("invalid slot status %q", slot.Status)
	}

	if !m.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer m.busy.Store(false)

	action := "update"
	var (
		saved *models.Slot
		err   error
	)
	if slot.SlotID == 0 {
		action = "create"
		saved, err = m.admin.CreateSlot(ctx, slot)
	} else {
		saved, err = m.admin.UpdateSlot(ctx, slot.SlotID, slot)
	}
	if err != nil {
		m.logger.Warn().Err(err).Str("action", action).Str("slot_number", slot.SlotNumber).Msg("slot save failed")
		return nil, fmt.Errorf("%s slot: %w", action, err)
	}
	if saved == nil {
		saved = &slot
	}

	metrics.IncSlotMutation(action)
	m.logger.Info().Str("action", action).Int64("slot_id", saved.SlotID).Msg("slot saved")
	m.publish(events.SlotSaved, *saved)
	m.refreshAfterMutation(ctx)
	return saved, nil
}

// StageDelete marks a listed slot for deletion without contacting the backend.
func (m *Manager) StageDelete(slotID int64) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, slot := range m.slots {
		if slot.SlotID == slotID {
			m.pendingDelete.Stage(slot)
			return nil
		}
	}
	return fmt.Errorf("stage delete %d: %w", slotID, ErrUnknownSlot)
}

func (m *Manager) PendingDelete() (models.Slot, bool) {
	return m.pendingDelete.Staged()
}

func (m *Manager) DiscardDelete() {
	m.pendingDelete.Discard()
}

// ConfirmDelete deletes the staged slot and re-fetches the list.
func (m *Manager) ConfirmDelete(ctx context.Context) error {
	if !m.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer m.busy.Store(false)

	var deleted models.Slot
	err := m.pendingDelete.Confirm(ctx, func(ctx context.Context, slot models.Slot) error {
		deleted = slot
		return m.admin.DeleteSlot(ctx, slot.SlotID)
	})
	if err != nil {
		if !errors.Is(err, confirm.ErrNothingStaged) {
			m.logger.Warn().Err(err).Int64("slot_id", deleted.SlotID).Msg("slot delete failed")
		}
		return fmt.Errorf("delete slot: %w", err)
	}

	metrics.IncSlotMutation("delete")
	m.logger.Info().Int64("slot_id", deleted.SlotID).Msg("slot deleted")
	m.publish(events.SlotDeleted, deleted)
	m.refreshAfterMutation(ctx)
	return nil
}

func (m *Manager) refreshAfterMutation(ctx context.Context) {
	if err := m.Refresh(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("slot list is stale after mutation")
	}
}

func (m *Manager) publish(eventType string, slot models.Slot) {
	if err := m.bus.Publish(eventType, slot); err != nil {
		m.logger.Warn().Err(err).Str("event", eventType).Msg("event handler failed")
	}
}
