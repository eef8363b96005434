// Package qr requests booking access codes and validates scanned ones.
package qr

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"parkwise/internal/api"
)

const (
	MsgGenerateFailed = "Failed to generate QR code."
	MsgFetchFailed    = "Error fetching QR code."
)

var ErrGenerateRejected = errors.New("access code not issued")

// Generator asks the backend for an access code image.
type Generator interface {
	GenerateQR(ctx context.Context, bookingID int64) (*api.QRGenerateResponse, error)
}

// AccessCode is a displayed access code. It is held in memory only.
type AccessCode struct {
	BookingID int64
	// Code is the encoded payload when the backend returns it.
	Code    string
	DataURL string
	PNG     []byte
}

// Issuer holds at most one displayed access code.
type Issuer struct {
	gen    Generator
	logger zerolog.Logger

	mu      sync.RWMutex
	current *AccessCode
	notice  string
}

func NewIssuer(gen Generator, logger zerolog.Logger) *Issuer {
	return &Issuer{
		gen:    gen,
		logger: logger.With().Str("component", "qr_issuer").Logger(),
	}
}

// RequestAccessCode replaces the displayed code with a fresh one for
// bookingID. On any failure no code is left displayed.
func (i *Issuer) RequestAccessCode(ctx context.Context, bookingID int64) error {
	i.Dismiss()

	resp, err := i.gen.GenerateQR(ctx, bookingID)
	if err != nil {
		i.setNotice(api.UserMessage(err, MsgFetchFailed))
		i.logger.Error().Err(err).Int64("booking_id", bookingID).Msg("access code request failed")
		return fmt.Errorf("generate access code: %w", err)
	}
	if !resp.Success || resp.QRImage == "" {
		msg := resp.Message
		if msg == "" {
			msg = MsgGenerateFailed
		}
		i.setNotice(msg)
		i.logger.Warn().Int64("booking_id", bookingID).Str("message", msg).Msg("access code not issued")
		return fmt.Errorf("%w: %s", ErrGenerateRejected, msg)
	}

	png, err := DecodeDataURL(resp.QRImage)
	if err != nil {
		i.setNotice(MsgGenerateFailed)
		return fmt.Errorf("decode access code image: %w", err)
	}

	i.mu.Lock()
	i.current = &AccessCode{BookingID: bookingID, Code: resp.QRCode, DataURL: resp.QRImage, PNG: png}
	i.notice = ""
	i.mu.Unlock()

	i.logger.Info().Int64("booking_id", bookingID).Msg("access code issued")
	return nil
}

func (i *Issuer) Current() (AccessCode, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.current == nil {
		return AccessCode{}, false
	}
	return *i.current, true
}

// Dismiss removes the displayed code.
func (i *Issuer) Dismiss() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.current = nil
}

func (i *Issuer) Notice() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.notice
}

func (i *Issuer) setNotice(msg string) {
	i.mu.Lock()
	i.notice = msg
	i.mu.Unlock()
}

// DecodeDataURL returns the bytes of a base64 data URL. A bare base64 string
// is accepted too.
func DecodeDataURL(s string) ([]byte, error) {
	payload := strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(payload, "data:"); ok {
		meta, data, found := strings.Cut(rest, ",")
		if !found {
			return nil, errors.New("malformed data URL")
		}
		if !strings.HasSuffix(meta, ";base64") {
			return nil, fmt.Errorf("unsupported data URL encoding %q", meta)
		}
		payload = data
	}
	out, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return out, nil
}
