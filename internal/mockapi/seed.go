package mockapi

import (
	"strings"
	"time"

	"parkwise/internal/models"
)

// AddUser registers an account and returns the stored user with its id.
func (s *Server) AddUser(user models.User, password string) models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addAccountLocked(user, password)
}

// AddSlot stores a slot and returns it with its assigned id.
func (s *Server) AddSlot(slot models.Slot) models.Slot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addSlotLocked(slot)
}

// AddBooking stores a booking as-is, without availability checks. Active
// bookings reserve their slot.
func (s *Server) AddBooking(b models.Booking) models.Booking {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.Status == "" {
		b.Status = models.BookingActive
	}
	b = s.addBookingLocked(b)
	if b.Status == models.BookingActive {
		if slot := s.slotByID(b.SlotID); slot != nil {
			slot.Status = models.SlotReserved
		}
	}
	return b
}

// CompleteBooking marks an active booking completed and frees its slot.
func (s *Server) CompleteBooking(bookingID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.bookingByID(bookingID)
	if b == nil || b.Status != models.BookingActive {
		return false
	}
	s.releaseLocked(b, models.BookingCompleted)
	return true
}

func (s *Server) Slot(id int64) (models.Slot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot := s.slotByID(id)
	if slot == nil {
		return models.Slot{}, false
	}
	return *slot, true
}

func (s *Server) Booking(id int64) (models.Booking, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.bookingByID(id)
	if b == nil {
		return models.Booking{}, false
	}
	return *b, true
}

func (s *Server) Stats() models.AdminStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked()
	return s.statsLocked()
}

// Seed loads a small demo data set: one admin, one driver and a handful of
// slots across all types.
func (s *Server) Seed() {
	s.AddUser(models.User{Name: "Admin", Email: "admin@parkwise.local", Role: models.RoleAdmin}, "admin123")
	driver := s.AddUser(models.User{Name: "Demo Driver", Email: "driver@parkwise.local", Role: models.RoleUser}, "driver123")

	slots := []models.Slot{
		{SlotNumber: "A-101", Location: "Level 1, North", Type: models.SlotRegular, Status: models.SlotAvailable},
		{SlotNumber: "A-102", Location: "Level 1, North", Type: models.SlotRegular, Status: models.SlotAvailable},
		{SlotNumber: "A-103", Location: "Level 1, North", Type: models.SlotHandicapped, Status: models.SlotAvailable},
		{SlotNumber: "B-201", Location: "Level 2, South", Type: models.SlotVIP, Status: models.SlotAvailable},
		{SlotNumber: "B-202", Location: "Level 2, South", Type: models.SlotRegular, Status: models.SlotOccupied},
		{SlotNumber: "C-301", Location: "Rooftop", Type: models.SlotRegular, Status: models.SlotAvailable},
	}
	var ids []int64
	for _, slot := range slots {
		ids = append(ids, s.AddSlot(slot).SlotID)
	}

	now := s.opts.Now().UTC().Truncate(time.Hour)
	s.AddBooking(models.Booking{
		UserID:    driver.UserID,
		SlotID:    ids[5],
		StartTime: models.NewTimestamp(now.Add(-72 * time.Hour)),
		EndTime:   models.NewTimestamp(now.Add(-70 * time.Hour)),
		Status:    models.BookingCompleted,
	})
	s.AddBooking(models.Booking{
		UserID:    driver.UserID,
		SlotID:    ids[1],
		StartTime: models.NewTimestamp(now.Add(24 * time.Hour)),
		EndTime:   models.NewTimestamp(now.Add(27 * time.Hour)),
		Status:    models.BookingActive,
	})
}

func (s *Server) addAccountLocked(user models.User, password string) models.User {
	user.UserID = s.nextUserID
	s.nextUserID++
	if !user.Role.Valid() {
		user.Role = models.RoleUser
	}
	s.accounts = append(s.accounts, &account{user: user, password: password})
	return user
}

func (s *Server) addSlotLocked(slot models.Slot) models.Slot {
	slot.SlotID = s.nextSlotID
	s.nextSlotID++
	if slot.Type == "" {
		slot.Type = models.SlotRegular
	}
	if slot.Status == "" {
		slot.Status = models.SlotAvailable
	}
	s.slots = append(s.slots, slot)
	return slot
}

func (s *Server) addBookingLocked(b models.Booking) models.Booking {
	b.BookingID = s.nextBookingID
	s.nextBookingID++
	s.bookings = append(s.bookings, b)
	return b
}

func (s *Server) accountByID(id int64) *account {
	for _, acc := range s.accounts {
		if acc.user.UserID == id {
			return acc
		}
	}
	return nil
}

func (s *Server) accountByEmail(email string) *account {
	email = strings.TrimSpace(email)
	for _, acc := range s.accounts {
		if strings.EqualFold(acc.user.Email, email) {
			return acc
		}
	}
	return nil
}

func (s *Server) slotByID(id int64) *models.Slot {
	for i := range s.slots {
		if s.slots[i].SlotID == id {
			return &s.slots[i]
		}
	}
	return nil
}

// slotByNumber finds a slot by number, ignoring the slot with id except.
func (s *Server) slotByNumber(number string, except int64) *models.Slot {
	for i := range s.slots {
		if s.slots[i].SlotID != except && strings.EqualFold(s.slots[i].SlotNumber, number) {
			return &s.slots[i]
		}
	}
	return nil
}

func (s *Server) bookingByID(id int64) *models.Booking {
	for i := range s.bookings {
		if s.bookings[i].BookingID == id {
			return &s.bookings[i]
		}
	}
	return nil
}
