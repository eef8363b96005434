package mockapi

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parkwise/internal/api"
	"parkwise/internal/models"
)

type tokenHolder struct{ token string }

func (h *tokenHolder) Token() string { return h.token }

type fixture struct {
	server *Server
	client *api.Client
	tokens *tokenHolder
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC), tokens: &tokenHolder{}}
	f.server = New(Options{Now: func() time.Time { return f.now }, QRTTL: time.Hour})
	srv := httptest.NewServer(f.server)
	t.Cleanup(srv.Close)
	f.client = api.NewClient(srv.URL, f.tokens, zerolog.Nop())
	return f
}

func (f *fixture) loginAs(t *testing.T, user models.User) {
	t.Helper()
	token, err := f.server.Token(user.UserID)
	require.NoError(t, err)
	f.tokens.token = token
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	f.server.AddUser(models.User{Name: "Ann", Email: "ann@example.com", Role: models.RoleAdmin}, "secret")

	resp, err := f.client.Login(context.Background(), api.LoginRequest{Email: "ANN@example.com", Password: "secret"})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, models.RoleAdmin, resp.User().Role)

	_, err = f.client.Login(context.Background(), api.LoginRequest{Email: "ann@example.com", Password: "nope"})
	require.Error(t, err)
	assert.True(t, api.IsUnauthorized(err))
	assert.Equal(t, "Invalid email or password", api.UserMessage(err, ""))
}

func TestSignup_DuplicateEmail(t *testing.T) {
	f := newFixture(t)
	resp, err := f.client.Signup(context.Background(), api.SignupRequest{Name: "Bo", Email: "bo@example.com", Password: "pw"})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.NotZero(t, resp.UserID)

	_, err = f.client.Signup(context.Background(), api.SignupRequest{Name: "Bo", Email: "bo@example.com", Password: "pw"})
	require.Error(t, err)
	assert.Equal(t, "Email already registered", api.UserMessage(err, ""))
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	f := newFixture(t)
	_, err := f.client.ListSlots(context.Background())
	assert.True(t, api.IsUnauthorized(err))
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	f := newFixture(t)
	user := f.server.AddUser(models.User{Name: "U", Email: "u@example.com"}, "pw")
	f.loginAs(t, user)

	_, err := f.client.AdminStats(context.Background())
	assert.True(t, api.IsStatus(err, http.StatusForbidden))

	_, err = f.client.CreateSlot(context.Background(), models.Slot{SlotNumber: "Z-1"})
	assert.True(t, api.IsStatus(err, http.StatusForbidden))
}

func TestReserveAndCancel(t *testing.T) {
	f := newFixture(t)
	user := f.server.AddUser(models.User{Name: "U", Email: "u@example.com"}, "pw")
	slot := f.server.AddSlot(models.Slot{SlotNumber: "A-1", Location: "L1"})
	f.loginAs(t, user)
	ctx := context.Background()

	start := f.now.Add(time.Hour)
	resp, err := f.client.Reserve(ctx, api.ReserveRequest{
		UserID:    user.UserID,
		SlotID:    slot.SlotID,
		StartTime: models.NewTimestamp(start),
		EndTime:   models.NewTimestamp(start.Add(2 * time.Hour)),
	})
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.NotNil(t, resp.Booking)
	assert.Equal(t, models.BookingActive, resp.Booking.Status)

	stored, _ := f.server.Slot(slot.SlotID)
	assert.Equal(t, models.SlotReserved, stored.Status)

	available, err := f.client.ListAvailableSlots(ctx)
	require.NoError(t, err)
	assert.Empty(t, available)

	again, err := f.client.Reserve(ctx, api.ReserveRequest{
		UserID:    user.UserID,
		SlotID:    slot.SlotID,
		StartTime: models.NewTimestamp(start),
		EndTime:   models.NewTimestamp(start.Add(time.Hour)),
	})
	require.NoError(t, err)
	assert.False(t, again.Success)
	assert.Equal(t, "Slot is not available", again.Message)

	status, err := f.client.CancelBooking(ctx, resp.Booking.BookingID)
	require.NoError(t, err)
	assert.False(t, status.Rejected())

	b, _ := f.server.Booking(resp.Booking.BookingID)
	assert.Equal(t, models.BookingCancelled, b.Status)
	stored, _ = f.server.Slot(slot.SlotID)
	assert.Equal(t, models.SlotAvailable, stored.Status)

	_, err = f.client.CancelBooking(ctx, resp.Booking.BookingID)
	assert.True(t, api.IsStatus(err, http.StatusConflict))
}

func TestReserve_RejectsOtherUser(t *testing.T) {
	f := newFixture(t)
	a := f.server.AddUser(models.User{Email: "a@example.com"}, "pw")
	b := f.server.AddUser(models.User{Email: "b@example.com"}, "pw")
	slot := f.server.AddSlot(models.Slot{SlotNumber: "A-1"})
	f.loginAs(t, a)

	_, err := f.client.Reserve(context.Background(), api.ReserveRequest{
		UserID:    b.UserID,
		SlotID:    slot.SlotID,
		StartTime: models.NewTimestamp(f.now),
		EndTime:   models.NewTimestamp(f.now.Add(time.Hour)),
	})
	assert.True(t, api.IsStatus(err, http.StatusForbidden))
}

func TestBookingsCompleteAfterEnd(t *testing.T) {
	f := newFixture(t)
	user := f.server.AddUser(models.User{Email: "u@example.com"}, "pw")
	slot := f.server.AddSlot(models.Slot{SlotNumber: "A-1"})
	booking := f.server.AddBooking(models.Booking{
		UserID:    user.UserID,
		SlotID:    slot.SlotID,
		StartTime: models.NewTimestamp(f.now),
		EndTime:   models.NewTimestamp(f.now.Add(time.Hour)),
	})
	f.loginAs(t, user)

	f.now = f.now.Add(2 * time.Hour)
	list, err := f.client.ListUserBookings(context.Background(), user.UserID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, booking.BookingID, list[0].BookingID)
	assert.Equal(t, models.BookingCompleted, list[0].Status)
}

func TestQRLifecycle(t *testing.T) {
	f := newFixture(t)
	user := f.server.AddUser(models.User{Email: "u@example.com"}, "pw")
	slot := f.server.AddSlot(models.Slot{SlotNumber: "A-1"})
	booking := f.server.AddBooking(models.Booking{
		UserID:    user.UserID,
		SlotID:    slot.SlotID,
		StartTime: models.NewTimestamp(f.now),
		EndTime:   models.NewTimestamp(f.now.Add(8 * time.Hour)),
	})
	f.loginAs(t, user)
	ctx := context.Background()

	gen, err := f.client.GenerateQR(ctx, booking.BookingID)
	require.NoError(t, err)
	require.True(t, gen.Success)
	require.True(t, strings.HasPrefix(gen.QRImage, "data:image/png;base64,"))
	png, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(gen.QRImage, "data:image/png;base64,"))
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG", string(png[:4]))

	verdict, err := f.client.ValidateQR(ctx, gen.QRCode)
	require.NoError(t, err)
	assert.True(t, verdict.Valid)
	assert.Equal(t, "QR code validated successfully", verdict.Message)
	require.NotNil(t, verdict.BookingID)
	assert.Equal(t, booking.BookingID, *verdict.BookingID)

	verdict, err = f.client.ValidateQR(ctx, gen.QRCode)
	require.NoError(t, err)
	assert.False(t, verdict.Valid)
	assert.Equal(t, "QR code already used", verdict.Message)

	verdict, err = f.client.ValidateQR(ctx, "not-a-code")
	require.NoError(t, err)
	assert.Equal(t, "Invalid QR code", verdict.Message)
}

func TestQRExpires(t *testing.T) {
	f := newFixture(t)
	user := f.server.AddUser(models.User{Email: "u@example.com"}, "pw")
	slot := f.server.AddSlot(models.Slot{SlotNumber: "A-1"})
	booking := f.server.AddBooking(models.Booking{
		UserID:    user.UserID,
		SlotID:    slot.SlotID,
		StartTime: models.NewTimestamp(f.now),
		EndTime:   models.NewTimestamp(f.now.Add(8 * time.Hour)),
	})
	f.loginAs(t, user)

	gen, err := f.client.GenerateQR(context.Background(), booking.BookingID)
	require.NoError(t, err)

	f.now = f.now.Add(2 * time.Hour)
	verdict, err := f.client.ValidateQR(context.Background(), gen.QRCode)
	require.NoError(t, err)
	assert.False(t, verdict.Valid)
	assert.Equal(t, "QR code expired", verdict.Message)
}

func TestSlotAdministration(t *testing.T) {
	f := newFixture(t)
	admin := f.server.AddUser(models.User{Email: "root@example.com", Role: models.RoleAdmin}, "pw")
	f.loginAs(t, admin)
	ctx := context.Background()

	created, err := f.client.CreateSlot(ctx, models.Slot{SlotNumber: "V-1", Location: "Gate", Type: models.SlotVIP})
	require.NoError(t, err)
	assert.NotZero(t, created.SlotID)
	assert.Equal(t, models.SlotAvailable, created.Status)

	_, err = f.client.CreateSlot(ctx, models.Slot{SlotNumber: "v-1"})
	assert.True(t, api.IsStatus(err, http.StatusBadRequest))

	created.Location = "Main gate"
	updated, err := f.client.UpdateSlot(ctx, created.SlotID, *created)
	require.NoError(t, err)
	assert.Equal(t, "Main gate", updated.Location)

	require.NoError(t, f.client.DeleteSlot(ctx, created.SlotID))
	_, err = f.client.GetSlot(ctx, created.SlotID)
	assert.True(t, api.IsStatus(err, http.StatusNotFound))
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	admin := f.server.AddUser(models.User{Email: "root@example.com", Role: models.RoleAdmin}, "pw")
	vip := f.server.AddSlot(models.Slot{SlotNumber: "V-1", Type: models.SlotVIP})
	f.server.AddSlot(models.Slot{SlotNumber: "R-1", Status: models.SlotOccupied})
	f.server.AddBooking(models.Booking{
		UserID:    admin.UserID,
		SlotID:    vip.SlotID,
		StartTime: models.NewTimestamp(f.now),
		EndTime:   models.NewTimestamp(f.now.Add(2 * time.Hour)),
	})
	f.loginAs(t, admin)

	stats, err := f.client.AdminStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalSlots)
	assert.Equal(t, 0, stats.AvailableSlots)
	assert.Equal(t, 1, stats.OccupiedSlots)
	assert.Equal(t, 1, stats.ActiveBookings)
	assert.InDelta(t, 10.0, stats.Revenue, 0.001)
}

func TestFailNext(t *testing.T) {
	f := newFixture(t)
	user := f.server.AddUser(models.User{Email: "u@example.com"}, "pw")
	f.loginAs(t, user)

	f.server.FailNext(http.MethodGet, "/api/slots", http.StatusInternalServerError, "database down")
	_, err := f.client.ListSlots(context.Background())
	assert.Equal(t, "database down", api.UserMessage(err, ""))

	_, err = f.client.ListSlots(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 2, f.server.CallCount(http.MethodGet, "/api/slots"))
}

func TestSeed(t *testing.T) {
	f := newFixture(t)
	f.server.Seed()

	resp, err := f.client.Login(context.Background(), api.LoginRequest{Email: "driver@parkwise.local", Password: "driver123"})
	require.NoError(t, err)
	f.tokens.token = resp.Token

	list, err := f.client.ListUserBookings(context.Background(), resp.UserID)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
