// Package dashboard builds the landing summaries: a per-user overview and the
// administrative statistics view.
package dashboard

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"parkwise/internal/models"
)

// Backend is the read-only API surface the dashboards need.
type Backend interface {
	ListAvailableSlots(ctx context.Context) ([]models.Slot, error)
	ListUserBookings(ctx context.Context, userID int64) ([]models.Booking, error)
	AdminStats(ctx context.Context) (*models.AdminStats, error)
}

// Guard authorizes the current user.
type Guard interface {
	RequireUser() (*models.User, error)
	RequireAdmin() (*models.User, error)
}

// UserSummary is the overview shown to a signed-in user.
type UserSummary struct {
	User           models.User
	AvailableSlots int
	Bookings       models.BookingCounts
}

// AdminView is the statistics aggregate with its derived rates.
type AdminView struct {
	Stats             models.AdminStats
	OccupancyRate     float64
	AvailabilityRate  float64
	CompletionRate    float64
	CompletedBookings int
	AverageRevenue    float64
}

type Service struct {
	backend Backend
	guard   Guard
	logger  zerolog.Logger
}

func NewService(backend Backend, guard Guard, logger zerolog.Logger) *Service {
	return &Service{
		backend: backend,
		guard:   guard,
		logger:  logger.With().Str("component", "dashboard").Logger(),
	}
}

// UserSummary fetches available slots and the user's bookings concurrently.
func (s *Service) UserSummary(ctx context.Context) (*UserSummary, error) {
	user, err := s.guard.RequireUser()
	if err != nil {
		return nil, err
	}

	var (
		slots    []models.Slot
		bookings []models.Booking
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		slots, err = s.backend.ListAvailableSlots(gctx)
		if err != nil {
			return fmt.Errorf("list available slots: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		bookings, err = s.backend.ListUserBookings(gctx, user.UserID)
		if err != nil {
			return fmt.Errorf("list bookings: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		s.logger.Error().Err(err).Int64("user_id", user.UserID).Msg("failed to build user summary")
		return nil, err
	}

	return &UserSummary{
		User:           *user,
		AvailableSlots: len(slots),
		Bookings:       models.CountBookings(bookings),
	}, nil
}

// AdminView fetches the statistics aggregate. It requires the ADMIN role.
func (s *Service) AdminView(ctx context.Context) (*AdminView, error) {
	if _, err := s.guard.RequireAdmin(); err != nil {
		return nil, err
	}
	stats, err := s.backend.AdminStats(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to fetch admin stats")
		return nil, fmt.Errorf("admin stats: %w", err)
	}
	return NewAdminView(*stats), nil
}

func NewAdminView(stats models.AdminStats) *AdminView {
	return &AdminView{
		Stats:             stats,
		OccupancyRate:     stats.OccupancyRate(),
		AvailabilityRate:  stats.AvailabilityRate(),
		CompletionRate:    stats.CompletionRate(),
		CompletedBookings: stats.CompletedBookings(),
		AverageRevenue:    stats.AverageRevenue(),
	}
}
