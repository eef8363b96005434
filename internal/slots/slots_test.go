package slots

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"parkwise/internal/confirm"
	"parkwise/internal/events"
	"parkwise/internal/models"
)

type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) ListAvailableSlots(ctx context.Context) ([]models.Slot, error) {
	args := m.Called(ctx)
	return args.Get(0).([]models.Slot), args.Error(1)
}

func (m *mockBackend) ListSlots(ctx context.Context) ([]models.Slot, error) {
	args := m.Called(ctx)
	return args.Get(0).([]models.Slot), args.Error(1)
}

func (m *mockBackend) CreateSlot(ctx context.Context, slot models.Slot) (*models.Slot, error) {
	args := m.Called(ctx, slot)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Slot), args.Error(1)
}

func (m *mockBackend) UpdateSlot(ctx context.Context, id int64, slot models.Slot) (*models.Slot, error) {
	args := m.Called(ctx, id, slot)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Slot), args.Error(1)
}

func (m *mockBackend) DeleteSlot(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

var fixtureSlots = []models.Slot{
	{SlotID: 1, SlotNumber: "A-101", Location: "Level 1", Type: models.SlotRegular, Status: models.SlotAvailable},
	{SlotID: 2, SlotNumber: "B-201", Location: "North Garage", Type: models.SlotVIP, Status: models.SlotAvailable},
	{SlotID: 3, SlotNumber: "a-102", Location: "Level 1", Type: models.SlotHandicapped, Status: models.SlotAvailable},
	{SlotID: 4, SlotNumber: "C-301", Location: "Rooftop", Type: models.SlotRegular, Status: models.SlotOccupied},
}

func slotIDs(slots []models.Slot) []int64 {
	ids := make([]int64, 0, len(slots))
	for _, s := range slots {
		ids = append(ids, s.SlotID)
	}
	return ids
}

func TestFilter(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		want   []int64
	}{
		{"empty filter keeps everything", Filter{}, []int64{1, 2, 3, 4}},
		{"ALL type", Filter{Type: AllTypes}, []int64{1, 2, 3, 4}},
		{"by type", Filter{Type: models.SlotRegular}, []int64{1, 4}},
		{"search number case-insensitive", Filter{Search: "A-10"}, []int64{1, 3}},
		{"search location", Filter{Search: "garage"}, []int64{2}},
		{"type and search", Filter{Type: models.SlotHandicapped, Search: "level"}, []int64{3}},
		{"no match", Filter{Search: "zzz"}, []int64{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, slotIDs(tt.filter.Apply(fixtureSlots)))
		})
	}
}

func TestBrowser_ListAvailableKeepsServerOrder(t *testing.T) {
	backend := new(mockBackend)
	backend.On("ListAvailableSlots", mock.Anything).Return([]models.Slot{fixtureSlots[2], fixtureSlots[0], fixtureSlots[1]}, nil)

	b := NewBrowser(backend, zerolog.Nop())
	got, err := b.ListAvailable(context.Background(), Filter{Search: "level"})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1}, slotIDs(got))

	b.SetFilter(Filter{})
	assert.Equal(t, []int64{3, 1, 2}, slotIDs(b.Visible()))
	backend.AssertNumberOfCalls(t, "ListAvailableSlots", 1)
}

func TestBrowser_RefreshFailureKeepsList(t *testing.T) {
	backend := new(mockBackend)
	backend.On("ListAvailableSlots", mock.Anything).Return(fixtureSlots[:2], nil).Once()
	backend.On("ListAvailableSlots", mock.Anything).Return([]models.Slot(nil), errors.New("offline")).Once()

	b := NewBrowser(backend, zerolog.Nop())
	require.NoError(t, b.Refresh(context.Background()))
	require.Error(t, b.Refresh(context.Background()))
	assert.Len(t, b.Visible(), 2)
}

func TestBrowser_Selection(t *testing.T) {
	backend := new(mockBackend)
	backend.On("ListAvailableSlots", mock.Anything).Return(fixtureSlots, nil)

	b := NewBrowser(backend, zerolog.Nop())
	require.NoError(t, b.Refresh(context.Background()))

	_, ok := b.Selected()
	assert.False(t, ok)

	_, err := b.Select(99)
	assert.ErrorIs(t, err, ErrUnknownSlot)

	slot, err := b.SelectNumber("b-201")
	require.NoError(t, err)
	assert.Equal(t, int64(2), slot.SlotID)

	slot, err = b.Select(1)
	require.NoError(t, err)
	selected, ok := b.Selected()
	require.True(t, ok)
	assert.Equal(t, slot, selected)

	b.ClearSelection()
	_, ok = b.Selected()
	assert.False(t, ok)
}

func newLoadedManager(t *testing.T, backend *mockBackend, bus *events.EventBus) *Manager {
	t.Helper()
	backend.On("ListSlots", mock.Anything).Return(fixtureSlots, nil)
	m := NewManager(backend, bus, zerolog.Nop())
	require.NoError(t, m.Refresh(context.Background()))
	return m
}

func TestManager_VisibleByStatus(t *testing.T) {
	m := newLoadedManager(t, new(mockBackend), nil)

	assert.Equal(t, []int64{4}, slotIDs(m.Visible(ManagerFilter{Status: models.SlotOccupied})))
	assert.Equal(t, []int64{1}, slotIDs(m.Visible(ManagerFilter{
		Filter: Filter{Type: models.SlotRegular},
		Status: models.SlotAvailable,
	})))
	assert.Len(t, m.Visible(ManagerFilter{Status: AllStatuses}), 4)
}

func TestManager_SaveCreatesOrUpdates(t *testing.T) {
	backend := new(mockBackend)
	bus := events.NewEventBus()
	var saved []models.Slot
	bus.Subscribe(events.SlotSaved, func(e events.Event) error {
		saved = append(saved, e.Payload.(models.Slot))
		return nil
	})
	m := newLoadedManager(t, backend, bus)

	newSlot := models.Slot{SlotNumber: "D-1", Location: "Gate", Type: models.SlotRegular, Status: models.SlotAvailable}
	backend.On("CreateSlot", mock.Anything, newSlot).Return(&models.Slot{SlotID: 9, SlotNumber: "D-1"}, nil).Once()
	got, err := m.Save(context.Background(), models.Slot{SlotNumber: " D-1 ", Location: "Gate"})
	require.NoError(t, err)
	assert.Equal(t, int64(9), got.SlotID)

	existing := fixtureSlots[0]
	existing.Location = "Level 2"
	backend.On("UpdateSlot", mock.Anything, int64(1), existing).Return(&existing, nil).Once()
	_, err = m.Save(context.Background(), existing)
	require.NoError(t, err)

	backend.AssertExpectations(t)
	backend.AssertNumberOfCalls(t, "ListSlots", 3)
	assert.Len(t, saved, 2)
}

func TestManager_SaveValidates(t *testing.T) {
	backend := new(mockBackend)
	m := NewManager(backend, nil, zerolog.Nop())

	_, err := m.Save(context.Background(), models.Slot{SlotNumber: "  "})
	assert.ErrorIs(t, err, ErrSlotNumberRequired)

	_, err = m.Save(context.Background(), models.Slot{SlotNumber: "X", Type: "TRUCK"})
	assert.Error(t, err)
	backend.AssertNotCalled(t, "CreateSlot", mock.Anything, mock.Anything)
}

func TestManager_DeleteRequiresConfirmation(t *testing.T) {
	backend := new(mockBackend)
	m := newLoadedManager(t, backend, nil)

	require.NoError(t, m.StageDelete(2))
	pending, ok := m.PendingDelete()
	require.True(t, ok)
	assert.Equal(t, "B-201", pending.SlotNumber)
	backend.AssertNotCalled(t, "DeleteSlot", mock.Anything, mock.Anything)

	m.DiscardDelete()
	assert.ErrorIs(t, m.ConfirmDelete(context.Background()), confirm.ErrNothingStaged)
	backend.AssertNotCalled(t, "DeleteSlot", mock.Anything, mock.Anything)

	backend.On("DeleteSlot", mock.Anything, int64(2)).Return(nil).Once()
	require.NoError(t, m.StageDelete(2))
	require.NoError(t, m.ConfirmDelete(context.Background()))
	backend.AssertExpectations(t)

	_, ok = m.PendingDelete()
	assert.False(t, ok)
}

func TestManager_StageUnknownSlot(t *testing.T) {
	m := newLoadedManager(t, new(mockBackend), nil)
	assert.ErrorIs(t, m.StageDelete(42), ErrUnknownSlot)
}

func TestManager_Busy(t *testing.T) {
	m := newLoadedManager(t, new(mockBackend), nil)
	m.busy.Store(true)

	_, err := m.Save(context.Background(), models.Slot{SlotNumber: "Z"})
	assert.ErrorIs(t, err, ErrBusy)

	require.NoError(t, m.StageDelete(1))
	assert.ErrorIs(t, m.ConfirmDelete(context.Background()), ErrBusy)
}
