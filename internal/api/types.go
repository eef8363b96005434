package api

import "parkwise/internal/models"

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse is the response from POST /api/auth/login.
type AuthResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token,omitempty"`
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
	Role    string `json:"role,omitempty"`
	UserID  int64  `json:"userId,omitempty"`
	Message string `json:"message,omitempty"`
}

// User extracts the profile carried by a successful login.
func (r *AuthResponse) User() models.User {
	return models.User{
		UserID: r.UserID,
		Name:   r.Name,
		Email:  r.Email,
		Role:   models.ParseRole(r.Role),
	}
}

// SignupRequest is the body of POST /api/auth/signup.
type SignupRequest struct {
	Name     string      `json:"name"`
	Email    string      `json:"email"`
	Password string      `json:"password"`
	Role     models.Role `json:"role,omitempty"`
}

type SignupResponse struct {
	Success bool   `json:"success"`
	UserID  int64  `json:"userId,omitempty"`
	Message string `json:"message,omitempty"`
}

// ReserveRequest is the body of POST /api/bookings/reserve.
type ReserveRequest struct {
	UserID    int64            `json:"userId"`
	SlotID    int64            `json:"slotId"`
	StartTime models.Timestamp `json:"startTime"`
	EndTime   models.Timestamp `json:"endTime"`
}

type ReserveResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Booking *models.Booking `json:"booking,omitempty"`
}

type CancelRequest struct {
	BookingID int64 `json:"bookingId"`
}

// StatusResponse is the loosely specified body of mutating endpoints. A nil
// Success means the server did not say; only an explicit false is a rejection.
type StatusResponse struct {
	Success *bool  `json:"success,omitempty"`
	Message string `json:"message,omitempty"`
}

func (r *StatusResponse) Rejected() bool {
	return r != nil && r.Success != nil && !*r.Success
}

type QRGenerateRequest struct {
	BookingID int64 `json:"bookingId"`
}

// QRGenerateResponse carries the access code image as a data URL.
type QRGenerateResponse struct {
	Success bool   `json:"success"`
	QRImage string `json:"qrImage,omitempty"`
	QRCode  string `json:"qrCode,omitempty"`
	Message string `json:"message,omitempty"`
}

type QRValidateRequest struct {
	Code string `json:"code"`
}

type QRValidateResponse struct {
	Valid     bool   `json:"valid"`
	Message   string `json:"message"`
	BookingID *int64 `json:"bookingId,omitempty"`
}
