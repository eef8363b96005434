// Package models holds the client-side view of parking slots, bookings and users.
package models

import (
	"strings"
	"time"
)

// Role is the authorization role carried by a user profile.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// ParseRole normalizes a role string. Unknown values map to RoleUser.
func ParseRole(s string) Role {
	if Role(strings.ToUpper(strings.TrimSpace(s))) == RoleAdmin {
		return RoleAdmin
	}
	return RoleUser
}

type SlotType string

const (
	SlotRegular     SlotType = "REGULAR"
	SlotVIP         SlotType = "VIP"
	SlotHandicapped SlotType = "HANDICAPPED"
)

// SlotTypes lists slot types in display order.
var SlotTypes = []SlotType{SlotRegular, SlotVIP, SlotHandicapped}

func (t SlotType) Valid() bool {
	switch t {
	case SlotRegular, SlotVIP, SlotHandicapped:
		return true
	}
	return false
}

type SlotStatus string

const (
	SlotAvailable SlotStatus = "AVAILABLE"
	SlotOccupied  SlotStatus = "OCCUPIED"
	SlotReserved  SlotStatus = "RESERVED"
)

var SlotStatuses = []SlotStatus{SlotAvailable, SlotOccupied, SlotReserved}

func (s SlotStatus) Valid() bool {
	switch s {
	case SlotAvailable, SlotOccupied, SlotReserved:
		return true
	}
	return false
}

type BookingStatus string

const (
	BookingActive    BookingStatus = "ACTIVE"
	BookingCompleted BookingStatus = "COMPLETED"
	BookingCancelled BookingStatus = "CANCELLED"
)

var BookingStatuses = []BookingStatus{BookingActive, BookingCompleted, BookingCancelled}

func (s BookingStatus) Valid() bool {
	switch s {
	case BookingActive, BookingCompleted, BookingCancelled:
		return true
	}
	return false
}

// Slot is a single parking space.
type Slot struct {
	SlotID     int64      `json:"slotId,omitempty"`
	SlotNumber string     `json:"slotNumber"`
	Location   string     `json:"location"`
	Type       SlotType   `json:"type"`
	Status     SlotStatus `json:"status"`
}

// Booking is a time-bounded reservation of one slot by one user.
type Booking struct {
	BookingID int64         `json:"bookingId"`
	UserID    int64         `json:"userId"`
	SlotID    int64         `json:"slotId"`
	StartTime Timestamp     `json:"startTime"`
	EndTime   Timestamp     `json:"endTime"`
	Status    BookingStatus `json:"status"`
}

// IsActive reports whether the booking may still be cancelled or given an access code.
func (b *Booking) IsActive() bool {
	return b.Status == BookingActive
}

func (b *Booking) Duration() time.Duration {
	return b.EndTime.Sub(b.StartTime.Time)
}

// User is the authenticated profile held by a session.
type User struct {
	UserID int64  `json:"userId"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Role   Role   `json:"role"`
}

func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// BookingCounts summarizes a booking list per status.
type BookingCounts struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Cancelled int `json:"cancelled"`
}

// CountBookings tallies bookings by status.
func CountBookings(bookings []Booking) BookingCounts {
	c := BookingCounts{Total: len(bookings)}
	for i := range bookings {
		switch bookings[i].Status {
		case BookingActive:
			c.Active++
		case BookingCompleted:
			c.Completed++
		case BookingCancelled:
			c.Cancelled++
		}
	}
	return c
}
