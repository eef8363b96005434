package qr

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"parkwise/internal/api"
	"parkwise/internal/events"
	"parkwise/internal/mockapi"
	"parkwise/internal/models"
)

type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) GenerateQR(ctx context.Context, bookingID int64) (*api.QRGenerateResponse, error) {
	args := m.Called(ctx, bookingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*api.QRGenerateResponse), args.Error(1)
}

func (m *mockBackend) ValidateQR(ctx context.Context, code string) (*api.QRValidateResponse, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*api.QRValidateResponse), args.Error(1)
}

func TestDecodeDataURL(t *testing.T) {
	raw := []byte{0x89, 'P', 'N', 'G'}
	enc := base64.StdEncoding.EncodeToString(raw)

	got, err := DecodeDataURL("data:image/png;base64," + enc)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	got, err = DecodeDataURL(enc)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	_, err = DecodeDataURL("data:image/png," + enc)
	assert.Error(t, err)
	_, err = DecodeDataURL("data:image/png;base64")
	assert.Error(t, err)
}

func TestIssuer_Success(t *testing.T) {
	backend := new(mockBackend)
	img := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("png"))
	backend.On("GenerateQR", mock.Anything, int64(5)).Return(&api.QRGenerateResponse{Success: true, QRImage: img, QRCode: "abc"}, nil)

	i := NewIssuer(backend, zerolog.Nop())
	require.NoError(t, i.RequestAccessCode(context.Background(), 5))

	code, ok := i.Current()
	require.True(t, ok)
	assert.Equal(t, int64(5), code.BookingID)
	assert.Equal(t, "abc", code.Code)
	assert.Equal(t, []byte("png"), code.PNG)

	i.Dismiss()
	_, ok = i.Current()
	assert.False(t, ok)
}

func TestIssuer_FailureLeavesNoCode(t *testing.T) {
	backend := new(mockBackend)
	img := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("png"))
	backend.On("GenerateQR", mock.Anything, int64(1)).Return(&api.QRGenerateResponse{Success: true, QRImage: img}, nil).Once()
	backend.On("GenerateQR", mock.Anything, int64(2)).Return(&api.QRGenerateResponse{Success: false, Message: "Booking not active"}, nil).Once()
	backend.On("GenerateQR", mock.Anything, int64(3)).Return(&api.QRGenerateResponse{Success: false}, nil).Once()
	backend.On("GenerateQR", mock.Anything, int64(4)).Return(nil, errors.New("timeout")).Once()

	i := NewIssuer(backend, zerolog.Nop())
	ctx := context.Background()
	require.NoError(t, i.RequestAccessCode(ctx, 1))

	err := i.RequestAccessCode(ctx, 2)
	assert.ErrorIs(t, err, ErrGenerateRejected)
	assert.Equal(t, "Booking not active", i.Notice())
	_, ok := i.Current()
	assert.False(t, ok)

	require.Error(t, i.RequestAccessCode(ctx, 3))
	assert.Equal(t, MsgGenerateFailed, i.Notice())

	require.Error(t, i.RequestAccessCode(ctx, 4))
	assert.Equal(t, MsgFetchFailed, i.Notice())
	_, ok = i.Current()
	assert.False(t, ok)
}

func TestVerdictString(t *testing.T) {
	id := int64(12)
	assert.Equal(t, "Error: expired", Verdict{Message: "expired"}.String())
	assert.Equal(t, "QR code validated successfully (booking #12)", Verdict{Valid: true, Message: "QR code validated successfully", BookingID: &id}.String())
	assert.Equal(t, "ok", Verdict{Valid: true, Message: "ok"}.String())
}

func TestScanner_InvalidVerdict(t *testing.T) {
	backend := new(mockBackend)
	backend.On("ValidateQR", mock.Anything, "abc").Return(&api.QRValidateResponse{Valid: false, Message: "expired"}, nil).Once()

	s := NewScanner(backend, 0, nil, zerolog.Nop())
	v, err := s.Scan(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "Error: expired", v.String())

	last, ok := s.Last()
	require.True(t, ok)
	assert.Equal(t, v, last)
	backend.AssertNumberOfCalls(t, "ValidateQR", 1)

	s.Reset()
	_, ok = s.Last()
	assert.False(t, ok)
}

func TestScanner_SendsPayloadUnchanged(t *testing.T) {
	backend := new(mockBackend)
	backend.On("ValidateQR", mock.Anything, "  CODE\n").Return(&api.QRValidateResponse{Valid: false, Message: "Invalid QR code"}, nil).Once()

	s := NewScanner(backend, 0, nil, zerolog.Nop())
	_, err := s.Scan(context.Background(), "  CODE\n")
	require.NoError(t, err)
	backend.AssertExpectations(t)
	backend.AssertNotCalled(t, "ValidateQR", mock.Anything, "CODE")
}

func TestScanner_EmptyScan(t *testing.T) {
	backend := new(mockBackend)
	s := NewScanner(backend, 0, nil, zerolog.Nop())
	_, err := s.Scan(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyScan)
	backend.AssertNotCalled(t, "ValidateQR", mock.Anything, mock.Anything)
}

func TestScanner_TransportError(t *testing.T) {
	backend := new(mockBackend)
	backend.On("ValidateQR", mock.Anything, "abc").Return(nil, errors.New("reset by peer")).Once()

	s := NewScanner(backend, 0, nil, zerolog.Nop())
	v, err := s.Scan(context.Background(), "abc")
	require.Error(t, err)
	assert.False(t, v.Valid)
	assert.Equal(t, "Error: "+MsgScanError, v.String())
}

func TestScanner_DiscardsScansWhilePending(t *testing.T) {
	backend := new(mockBackend)
	entered := make(chan struct{})
	release := make(chan struct{})
	id := int64(3)
	backend.On("ValidateQR", mock.Anything, "first").Run(func(mock.Arguments) {
		close(entered)
		<-release
	}).Return(&api.QRValidateResponse{Valid: true, Message: "ok", BookingID: &id}, nil).Once()

	s := NewScanner(backend, 0, nil, zerolog.Nop())

	var wg sync.WaitGroup
	wg.Add(1)
	var first Verdict
	go func() {
		defer wg.Done()
		first, _ = s.Scan(context.Background(), "first")
	}()
	<-entered

	for range 5 {
		_, err := s.Scan(context.Background(), "second")
		assert.ErrorIs(t, err, ErrScanInFlight)
	}
	close(release)
	wg.Wait()

	assert.True(t, first.Valid)
	backend.AssertNumberOfCalls(t, "ValidateQR", 1)
}

func TestScanner_PacesValidations(t *testing.T) {
	backend := new(mockBackend)
	backend.On("ValidateQR", mock.Anything, mock.Anything).Return(&api.QRValidateResponse{Valid: false, Message: "Invalid QR code"}, nil)

	s := NewScanner(backend, 50*time.Millisecond, nil, zerolog.Nop())
	start := time.Now()
	for range 3 {
		_, err := s.Scan(context.Background(), "x")
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

type staticToken string

func (s staticToken) Token() string { return string(s) }

func TestScanner_AgainstBackend(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	backend := mockapi.New(mockapi.Options{Now: func() time.Time { return now }})
	user := backend.AddUser(models.User{Email: "u@example.com"}, "pw")
	slot := backend.AddSlot(models.Slot{SlotNumber: "A-1"})
	booking := backend.AddBooking(models.Booking{
		UserID:    user.UserID,
		SlotID:    slot.SlotID,
		StartTime: models.NewTimestamp(now),
		EndTime:   models.NewTimestamp(now.Add(2 * time.Hour)),
	})
	token, err := backend.Token(user.UserID)
	require.NoError(t, err)
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)
	client := api.NewClient(srv.URL, staticToken(token), zerolog.Nop())

	issuer := NewIssuer(client, zerolog.Nop())
	require.NoError(t, issuer.RequestAccessCode(context.Background(), booking.BookingID))
	code, ok := issuer.Current()
	require.True(t, ok)
	require.NotEmpty(t, code.Code)

	bus := events.NewEventBus()
	var verdicts []Verdict
	bus.Subscribe(events.QRValidated, func(e events.Event) error {
		verdicts = append(verdicts, e.Payload.(Verdict))
		return nil
	})

	s := NewScanner(client, 0, bus, zerolog.Nop())
	backend.ResetCalls()
	v, err := s.Scan(context.Background(), code.Code)
	require.NoError(t, err)
	assert.True(t, v.Valid)
	require.NotNil(t, v.BookingID)
	assert.Equal(t, booking.BookingID, *v.BookingID)

	v, err = s.Scan(context.Background(), code.Code)
	require.NoError(t, err)
	assert.Equal(t, "Error: QR code already used", v.String())

	assert.Equal(t, 2, backend.CallCount(http.MethodPost, "/api/qr/validate"))
	assert.Len(t, verdicts, 2)
}
