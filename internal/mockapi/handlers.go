package mockapi

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"

	"parkwise/internal/api"
	"parkwise/internal/models"
)

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req api.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	acc := s.accountByEmail(req.Email)
	s.mu.Unlock()

	if acc == nil || acc.password != req.Password {
		writeJSON(w, http.StatusUnauthorized, api.AuthResponse{Success: false, Message: "Invalid email or password"})
		return
	}
	token, err := s.issueToken(acc.user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	writeJSON(w, http.StatusOK, api.AuthResponse{
		Success: true,
		Token:   token,
		Email:   acc.user.Email,
		Name:    acc.user.Name,
		Role:    string(acc.user.Role),
		UserID:  acc.user.UserID,
	})
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req api.SignupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "name, email and password are required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.accountByEmail(req.Email) != nil {
		writeError(w, http.StatusBadRequest, "Email already registered")
		return
	}
	user := s.addAccountLocked(models.User{
		Name:  req.Name,
		Email: req.Email,
		Role:  models.ParseRole(string(req.Role)),
	}, req.Password)
	writeJSON(w, http.StatusCreated, api.SignupResponse{Success: true, UserID: user.UserID, Message: "User registered successfully"})
}

func (s *Server) handleListSlots(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	s.expireLocked()
	slots := append([]models.Slot{}, s.slots...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, slots)
}

func (s *Server) handleAvailableSlots(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	s.expireLocked()
	slots := make([]models.Slot, 0, len(s.slots))
	for _, slot := range s.slots {
		if slot.Status == models.SlotAvailable {
			slots = append(slots, slot)
		}
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, slots)
}

func (s *Server) handleGetSlot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	s.mu.Lock()
	slot := s.slotByID(id)
	var out models.Slot
	if slot != nil {
		out = *slot
	}
	s.mu.Unlock()

	if slot == nil {
		writeError(w, http.StatusNotFound, "Slot not found")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateSlot(w http.ResponseWriter, r *http.Request) {
	var slot models.Slot
	if err := decodeJSON(r, &slot); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if msg := normalizeSlot(&slot); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.slotByNumber(slot.SlotNumber, 0) != nil {
		writeError(w, http.StatusBadRequest, "Slot number already exists")
		return
	}
	writeJSON(w, http.StatusCreated, s.addSlotLocked(slot))
}

func (s *Server) handleUpdateSlot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var update models.Slot
	if err := decodeJSON(r, &update); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if msg := normalizeSlot(&update); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	slot := s.slotByID(id)
	if slot == nil {
		writeError(w, http.StatusNotFound, "Slot not found")
		return
	}
	if s.slotByNumber(update.SlotNumber, id) != nil {
		writeError(w, http.StatusBadRequest, "Slot number already exists")
		return
	}
	update.SlotID = id
	*slot = update
	writeJSON(w, http.StatusOK, *slot)
}

func (s *Server) handleDeleteSlot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.slots {
		if s.slots[i].SlotID == id {
			s.slots = append(s.slots[:i], s.slots[i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	writeError(w, http.StatusNotFound, "Slot not found")
}

func (s *Server) handleReserve(w http.ResponseWriter, r *http.Request) {
	var req api.ReserveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !mayActFor(caller(r), req.UserID) {
		writeError(w, http.StatusForbidden, "cannot book on behalf of another user")
		return
	}
	if req.StartTime.IsZero() || req.EndTime.IsZero() {
		writeJSON(w, http.StatusOK, api.ReserveResponse{Message: "Start and end time are required"})
		return
	}
	if !req.EndTime.After(req.StartTime.Time) {
		writeJSON(w, http.StatusOK, api.ReserveResponse{Message: "End time must be after start time"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked()

	slot := s.slotByID(req.SlotID)
	if slot == nil {
		writeJSON(w, http.StatusOK, api.ReserveResponse{Message: "Slot not found"})
		return
	}
	if slot.Status != models.SlotAvailable {
		writeJSON(w, http.StatusOK, api.ReserveResponse{Message: "Slot is not available"})
		return
	}

	booking := s.addBookingLocked(models.Booking{
		UserID:    req.UserID,
		SlotID:    req.SlotID,
		StartTime: models.NewTimestamp(req.StartTime.UTC()),
		EndTime:   models.NewTimestamp(req.EndTime.UTC()),
		Status:    models.BookingActive,
	})
	slot.Status = models.SlotReserved

	s.logger.Debug().Int64("booking_id", booking.BookingID).Int64("slot_id", slot.SlotID).Msg("booking created")
	writeJSON(w, http.StatusOK, api.ReserveResponse{Success: true, Message: "Booking created successfully", Booking: &booking})
}

func (s *Server) handleUserBookings(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userId")
	if !ok {
		return
	}
	if !mayActFor(caller(r), userID) {
		writeError(w, http.StatusForbidden, "cannot list bookings of another user")
		return
	}

	s.mu.Lock()
	s.expireLocked()
	out := make([]models.Booking, 0)
	for _, b := range s.bookings {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAllBookings(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	s.expireLocked()
	out := append([]models.Booking{}, s.bookings...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req api.CancelRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked()

	b := s.bookingByID(req.BookingID)
	if b == nil {
		writeError(w, http.StatusNotFound, "Booking not found")
		return
	}
	if !mayActFor(caller(r), b.UserID) {
		writeError(w, http.StatusForbidden, "cannot cancel another user's booking")
		return
	}
	if b.Status != models.BookingActive {
		writeError(w, http.StatusConflict, "Only active bookings can be cancelled")
		return
	}
	s.releaseLocked(b, models.BookingCancelled)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Booking cancelled successfully"})
}

func (s *Server) handleGenerateQR(w http.ResponseWriter, r *http.Request) {
	var req api.QRGenerateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	s.expireLocked()
	b := s.bookingByID(req.BookingID)
	var booking models.Booking
	if b != nil {
		booking = *b
	}
	s.mu.Unlock()

	if b == nil {
		writeJSON(w, http.StatusOK, api.QRGenerateResponse{Message: "Booking not found"})
		return
	}
	if !mayActFor(caller(r), booking.UserID) {
		writeError(w, http.StatusForbidden, "cannot issue a code for another user's booking")
		return
	}
	if booking.Status != models.BookingActive {
		writeJSON(w, http.StatusOK, api.QRGenerateResponse{Message: "QR codes are only issued for active bookings"})
		return
	}

	code := uuid.NewString()
	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		writeJSON(w, http.StatusOK, api.QRGenerateResponse{Message: "Failed to generate QR code: " + err.Error()})
		return
	}

	s.mu.Lock()
	s.qrs[code] = &qrRecord{bookingID: booking.BookingID, expiresAt: s.opts.Now().Add(s.opts.QRTTL)}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, api.QRGenerateResponse{
		Success: true,
		QRCode:  code,
		QRImage: "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
	})
}

func (s *Server) handleValidateQR(w http.ResponseWriter, r *http.Request) {
	var req api.QRValidateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked()

	rec, ok := s.qrs[strings.TrimSpace(req.Code)]
	switch {
	case !ok:
		writeJSON(w, http.StatusOK, api.QRValidateResponse{Message: "Invalid QR code"})
		return
	case rec.used:
		writeJSON(w, http.StatusOK, api.QRValidateResponse{Message: "QR code already used"})
		return
	case !s.opts.Now().Before(rec.expiresAt):
		writeJSON(w, http.StatusOK, api.QRValidateResponse{Message: "QR code expired"})
		return
	}
	b := s.bookingByID(rec.bookingID)
	if b == nil || b.Status != models.BookingActive {
		writeJSON(w, http.StatusOK, api.QRValidateResponse{Message: "Booking is not active"})
		return
	}

	rec.used = true
	id := rec.bookingID
	writeJSON(w, http.StatusOK, api.QRValidateResponse{Valid: true, Message: "QR code validated successfully", BookingID: &id})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	s.expireLocked()
	stats := s.statsLocked()
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) statsLocked() models.AdminStats {
	stats := models.AdminStats{TotalSlots: len(s.slots), TotalBookings: len(s.bookings)}
	slotTypes := make(map[int64]models.SlotType, len(s.slots))
	for _, slot := range s.slots {
		slotTypes[slot.SlotID] = slot.Type
		switch slot.Status {
		case models.SlotAvailable:
			stats.AvailableSlots++
		case models.SlotOccupied:
			stats.OccupiedSlots++
		}
	}
	for i := range s.bookings {
		b := &s.bookings[i]
		if b.Status == models.BookingActive {
			stats.ActiveBookings++
		}
		if b.Status == models.BookingCancelled {
			continue
		}
		rate, ok := HourlyRates[slotTypes[b.SlotID]]
		if !ok {
			rate = HourlyRates[models.SlotRegular]
		}
		stats.Revenue += b.Duration().Hours() * rate
	}
	return stats
}

// expireLocked completes active bookings whose end time has passed.
func (s *Server) expireLocked() {
	now := s.opts.Now()
	for i := range s.bookings {
		b := &s.bookings[i]
		if b.Status == models.BookingActive && !now.Before(b.EndTime.Time) {
			s.releaseLocked(b, models.BookingCompleted)
		}
	}
}

func (s *Server) releaseLocked(b *models.Booking, status models.BookingStatus) {
	b.Status = status
	if slot := s.slotByID(b.SlotID); slot != nil && slot.Status == models.SlotReserved {
		slot.Status = models.SlotAvailable
	}
}

func normalizeSlot(slot *models.Slot) string {
	slot.SlotNumber = strings.TrimSpace(slot.SlotNumber)
	slot.Location = strings.TrimSpace(slot.Location)
	if slot.SlotNumber == "" {
		return "slotNumber is required"
	}
	if slot.Type == "" {
		slot.Type = models.SlotRegular
	}
	if slot.Status == "" {
		slot.Status = models.SlotAvailable
	}
	if !slot.Type.Valid() {
		return "invalid slot type"
	}
	if !slot.Status.Valid() {
		return "invalid slot status"
	}
	return ""
}

func mayActFor(user *models.User, userID int64) bool {
	return user != nil && (user.IsAdmin() || user.UserID == userID)
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid "+param)
		return 0, false
	}
	return id, true
}
