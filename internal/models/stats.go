package models

// AdminStats is the aggregate returned by the admin statistics endpoint.
type AdminStats struct {
	TotalSlots     int     `json:"totalSlots"`
	AvailableSlots int     `json:"availableSlots"`
	OccupiedSlots  int     `json:"occupiedSlots"`
	ActiveBookings int     `json:"activeBookings"`
	TotalBookings  int     `json:"totalBookings"`
	Revenue        float64 `json:"revenue"`
}

// OccupancyRate counts occupied slots plus active bookings against all slots, in percent.
func (s *AdminStats) OccupancyRate() float64 {
	return percent(s.OccupiedSlots+s.ActiveBookings, s.TotalSlots)
}

func (s *AdminStats) AvailabilityRate() float64 {
	return percent(s.AvailableSlots, s.TotalSlots)
}

// CompletedBookings is every booking that is no longer active.
func (s *AdminStats) CompletedBookings() int {
	return s.TotalBookings - s.ActiveBookings
}

func (s *AdminStats) CompletionRate() float64 {
	return percent(s.CompletedBookings(), s.TotalBookings)
}

// AverageRevenue is revenue per booking, 0 when there are no bookings.
func (s *AdminStats) AverageRevenue() float64 {
	if s.TotalBookings == 0 {
		return 0
	}
	return s.Revenue / float64(s.TotalBookings)
}

func percent(part, whole int) float64 {
	if whole <= 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}
