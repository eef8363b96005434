// Package access provides the authorization checks shared by every protected view.
package access

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"parkwise/internal/models"
)

// Route names the view a denied request is sent to.
type Route string

const (
	RouteLogin     Route = "login"
	RouteDashboard Route = "dashboard"
)

// Identity exposes the current user, nil when logged out.
type Identity interface {
	User() *models.User
}

// DeniedError is returned when access is denied.
type DeniedError struct {
	Reason   string
	Redirect Route
}

func (e *DeniedError) Error() string {
	return e.Reason
}

// IsDenied checks if error is access denied and returns it.
func IsDenied(err error) (*DeniedError, bool) {
	var denied *DeniedError
	if errors.As(err, &denied) {
		return denied, true
	}
	return nil, false
}

// Authorize decides whether user may open a view requiring role. A nil user is
// sent to login; a user lacking the role is sent back to the dashboard.
func Authorize(user *models.User, required models.Role) error {
	if user == nil {
		return &DeniedError{Reason: "Please log in to continue.", Redirect: RouteLogin}
	}
	if required == models.RoleAdmin && user.Role != models.RoleAdmin {
		return &DeniedError{Reason: "This page is available to administrators only.", Redirect: RouteDashboard}
	}
	return nil
}

// Guard evaluates Authorize against the live session.
type Guard struct {
	identity Identity
	logger   zerolog.Logger
}

func NewGuard(identity Identity, logger zerolog.Logger) *Guard {
	return &Guard{
		identity: identity,
		logger:   logger.With().Str("component", "access").Logger(),
	}
}

// RequireUser returns the current user or a DeniedError redirecting to login.
func (g *Guard) RequireUser() (*models.User, error) {
	return g.require(models.RoleUser)
}

// RequireAdmin returns the current user when it holds the ADMIN role.
func (g *Guard) RequireAdmin() (*models.User, error) {
	return g.require(models.RoleAdmin)
}

func (g *Guard) require(role models.Role) (*models.User, error) {
	user := g.identity.User()
	if err := Authorize(user, role); err != nil {
		ev := g.logger.Warn().Str("required_role", string(role))
		if user != nil {
			ev = ev.Int64("user_id", user.UserID)
		}
		ev.Msg("access denied")
		return nil, fmt.Errorf("%s view: %w", role, err)
	}
	return user, nil
}
