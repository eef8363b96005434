// Package api is a typed HTTP client for the parking backend REST contract.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"parkwise/internal/metrics"
	"parkwise/internal/models"
)

const (
	DefaultTimeout = 10 * time.Second
	maxErrorBody   = 64 << 10
)

// TokenSource supplies the bearer credential for outgoing requests.
type TokenSource interface {
	Token() string
}

// Client calls the backend. Every call is a single round trip bounded by the
// client timeout; failures are returned to the caller as is.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	timeout    time.Duration
	logger     zerolog.Logger
}

// NewClient constructs a client for baseURL. tokens may be nil.
func NewClient(baseURL string, tokens TokenSource, logger zerolog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
		logger:     logger.With().Str("component", "api").Logger(),
	}
}

// SetTimeout bounds every request. Non-positive values disable the bound.
func (c *Client) SetTimeout(d time.Duration) {
	c.timeout = d
}

// Login exchanges credentials for a token and profile.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	var resp AuthResponse
	if err := c.call(ctx, "login", http.MethodPost, "/api/auth/login", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Signup(ctx context.Context, req SignupRequest) (*SignupResponse, error) {
	var resp SignupResponse
	if err := c.call(ctx, "signup", http.MethodPost, "/api/auth/signup", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) ListSlots(ctx context.Context) ([]models.Slot, error) {
	var slots []models.Slot
	if err := c.call(ctx, "list_slots", http.MethodGet, "/api/slots", nil, &slots); err != nil {
		return nil, err
	}
	return slots, nil
}

// ListAvailableSlots returns the slots the server reports as available, in server order.
func (c *Client) ListAvailableSlots(ctx context.Context) ([]models.Slot, error) {
	var slots []models.Slot
	if err := c.call(ctx, "list_available_slots", http.MethodGet, "/api/slots/available", nil, &slots); err != nil {
		return nil, err
	}
	return slots, nil
}

func (c *Client) GetSlot(ctx context.Context, slotID int64) (*models.Slot, error) {
	var slot models.Slot
	if err := c.call(ctx, "get_slot", http.MethodGet, fmt.Sprintf("/api/slots/%d", slotID), nil, &slot); err != nil {
		return nil, err
	}
	return &slot, nil
}

func (c *Client) CreateSlot(ctx context.Context, slot models.Slot) (*models.Slot, error) {
	slot.SlotID = 0
	var created models.Slot
	if err := c.call(ctx, "create_slot", http.MethodPost, "/api/slots", slot, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) UpdateSlot(ctx context.Context, slotID int64, slot models.Slot) (*models.Slot, error) {
	var updated models.Slot
	if err := c.call(ctx, "update_slot", http.MethodPut, fmt.Sprintf("/api/slots/%d", slotID), slot, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (c *Client) DeleteSlot(ctx context.Context, slotID int64) error {
	return c.call(ctx, "delete_slot", http.MethodDelete, fmt.Sprintf("/api/slots/%d", slotID), nil, nil)
}

// Reserve creates a booking. A business rejection comes back as Success=false
// with a nil error.
func (c *Client) Reserve(ctx context.Context, req ReserveRequest) (*ReserveResponse, error) {
	var resp ReserveResponse
	if err := c.call(ctx, "reserve", http.MethodPost, "/api/bookings/reserve", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) ListUserBookings(ctx context.Context, userID int64) ([]models.Booking, error) {
	var bookings []models.Booking
	path := fmt.Sprintf("/api/bookings/user/%d", userID)
	if err := c.call(ctx, "list_user_bookings", http.MethodGet, path, nil, &bookings); err != nil {
		return nil, err
	}
	return bookings, nil
}

func (c *Client) CancelBooking(ctx context.Context, bookingID int64) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.call(ctx, "cancel_booking", http.MethodPost, "/api/bookings/cancel", CancelRequest{BookingID: bookingID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) ListBookings(ctx context.Context) ([]models.Booking, error) {
	var bookings []models.Booking
	if err := c.call(ctx, "list_bookings", http.MethodGet, "/api/bookings", nil, &bookings); err != nil {
		return nil, err
	}
	return bookings, nil
}

func (c *Client) GenerateQR(ctx context.Context, bookingID int64) (*QRGenerateResponse, error) {
	var resp QRGenerateResponse
	if err := c.call(ctx, "generate_qr", http.MethodPost, "/api/qr/generate", QRGenerateRequest{BookingID: bookingID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ValidateQR submits a raw scanned payload for validation.
func (c *Client) ValidateQR(ctx context.Context, code string) (*QRValidateResponse, error) {
	var resp QRValidateResponse
	if err := c.call(ctx, "validate_qr", http.MethodPost, "/api/qr/validate", QRValidateRequest{Code: code}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) AdminStats(ctx context.Context) (*models.AdminStats, error) {
	var stats models.AdminStats
	if err := c.call(ctx, "admin_stats", http.MethodGet, "/api/admin/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (c *Client) call(ctx context.Context, op, method, path string, body, out any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.addHeaders(req)

	start := time.Now()
	code, err := c.do(req, out)
	metrics.ObserveAPIRequest(op, code)

	log := c.logger.Debug()
	if err != nil {
		log = c.logger.Warn().Err(err)
	}
	log.Str("operation", op).
		Str("request_id", req.Header.Get("X-Request-ID")).
		Int("status", code).
		Dur("elapsed", time.Since(start)).
		Msg("api call")

	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (c *Client) do(req *http.Request, out any) (int, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return resp.StatusCode, &HTTPError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}
	if out == nil {
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return resp.StatusCode, nil
}

func (c *Client) addHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.tokens == nil {
		return
	}
	if token := c.tokens.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}
