// Package report exports bookings and statistics to xlsx workbooks.
package report

import (
	"fmt"
	"io"
	"math"
	"time"

	"parkwise/internal/models"
)

// Sheet names.
const (
	SheetBookings = "Bookings"
	SheetSummary  = "Summary"
	SheetStats    = "Statistics"
)

var bookingColumns = []string{"Booking ID", "User ID", "Slot", "Location", "Type", "Start (UTC)", "End (UTC)", "Hours", "Status"}

// Filename builds an export file name such as "bookings_2024-03.xlsx".
func Filename(kind string, t time.Time) string {
	return fmt.Sprintf("%s_%s.xlsx", kind, t.UTC().Format("2006-01"))
}

// ExportBookings writes bookings, in the given order, followed by a summary
// sheet with per-status counts. slots resolves slot ids to their details;
// unknown ids are written by number only.
func ExportBookings(out io.Writer, bookings []models.Booking, slots []models.Slot) error {
	w := NewWriter()
	defer w.Close()

	bySlot := make(map[int64]models.Slot, len(slots))
	for _, s := range slots {
		bySlot[s.SlotID] = s
	}

	if err := w.AddSheet(SheetBookings); err != nil {
		return err
	}
	if err := w.WriteHeader(bookingColumns...); err != nil {
		return err
	}
	for i := range bookings {
		b := &bookings[i]
		slot, ok := bySlot[b.SlotID]
		number := slot.SlotNumber
		if !ok {
			number = fmt.Sprintf("#%d", b.SlotID)
		}
		if err := w.WriteRow(
			b.BookingID,
			b.UserID,
			number,
			slot.Location,
			string(slot.Type),
			b.StartTime.String(),
			b.EndTime.String(),
			roundHours(b.Duration()),
			string(b.Status),
		); err != nil {
			return err
		}
	}

	counts := models.CountBookings(bookings)
	if err := w.AddSheet(SheetSummary); err != nil {
		return err
	}
	if err := w.WriteHeader("Status", "Count"); err != nil {
		return err
	}
	for _, row := range [][]any{
		{"Total", counts.Total},
		{string(models.BookingActive), counts.Active},
		{string(models.BookingCompleted), counts.Completed},
		{string(models.BookingCancelled), counts.Cancelled},
	} {
		if err := w.WriteRow(row...); err != nil {
			return err
		}
	}

	if err := w.Save(out); err != nil {
		return fmt.Errorf("save bookings workbook: %w", err)
	}
	return nil
}

// ExportStats writes the admin statistics and their derived rates.
func ExportStats(out io.Writer, stats models.AdminStats) error {
	w := NewWriter()
	defer w.Close()

	if err := w.AddSheet(SheetStats); err != nil {
		return err
	}
	if err := w.WriteHeader("Metric", "Value"); err != nil {
		return err
	}
	for _, row := range [][]any{
		{"Total slots", stats.TotalSlots},
		{"Available slots", stats.AvailableSlots},
		{"Occupied slots", stats.OccupiedSlots},
		{"Active bookings", stats.ActiveBookings},
		{"Total bookings", stats.TotalBookings},
		{"Completed bookings", stats.CompletedBookings()},
		{"Revenue", stats.Revenue},
		{"Occupancy rate %", round1(stats.OccupancyRate())},
		{"Availability rate %", round1(stats.AvailabilityRate())},
		{"Completion rate %", round1(stats.CompletionRate())},
		{"Average revenue", round2(stats.AverageRevenue())},
	} {
		if err := w.WriteRow(row...); err != nil {
			return err
		}
	}

	if err := w.Save(out); err != nil {
		return fmt.Errorf("save stats workbook: %w", err)
	}
	return nil
}

func roundHours(d time.Duration) float64 {
	return round1(d.Hours())
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
