package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"parkwise/internal/bookings"
	"parkwise/internal/dashboard"
	"parkwise/internal/models"
	"parkwise/internal/report"
	"parkwise/internal/slots"
)

var adminCommands = map[string]func(ctx context.Context, a *app, args []string) error{
	"stats":       cmdAdminStats,
	"slots":       cmdAdminSlots,
	"slot-save":   cmdAdminSlotSave,
	"slot-delete": cmdAdminSlotDelete,
	"export":      cmdAdminExport,
}

func cmdAdmin(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: parkctl admin stats|slots|slot-save|slot-delete|export [flags]")
	}
	run, ok := adminCommands[args[0]]
	if !ok {
		return fmt.Errorf("unknown admin command %q", args[0])
	}
	if _, err := a.guard.RequireAdmin(); err != nil {
		return err
	}
	return run(ctx, a, args[1:])
}

func cmdAdminStats(ctx context.Context, a *app, _ []string) error {
	view, err := dashboard.NewService(a.client, a.guard, a.logger).AdminView(ctx)
	if err != nil {
		return apiFailure(err, "Failed to load statistics.")
	}
	printAdminView(a.out, view)
	return nil
}

func cmdAdminSlots(ctx context.Context, a *app, args []string) error {
	fs := newFlags("admin slots")
	slotType := fs.String("type", string(slots.AllTypes), "ALL, REGULAR, VIP or HANDICAPPED")
	status := fs.String("status", string(slots.AllStatuses), "ALL, AVAILABLE, OCCUPIED or RESERVED")
	search := fs.String("search", "", "match slot number or location")
	if err := fs.Parse(args); err != nil {
		return err
	}

	m := slots.NewManager(a.client, a.bus, a.logger)
	if err := m.Refresh(ctx); err != nil {
		return apiFailure(err, "Failed to load slots.")
	}
	printSlots(a.out, m.Visible(slots.ManagerFilter{
		Filter: slots.Filter{Type: models.SlotType(strings.ToUpper(*slotType)), Search: *search},
		Status: models.SlotStatus(strings.ToUpper(*status)),
	}))
	return nil
}

func cmdAdminSlotSave(ctx context.Context, a *app, args []string) error {
	fs := newFlags("admin slot-save")
	id := fs.Int64("id", 0, "slot id to update; omit to create")
	number := fs.String("number", "", "slot number")
	location := fs.String("location", "", "location")
	slotType := fs.String("type", string(models.SlotRegular), "REGULAR, VIP or HANDICAPPED")
	status := fs.String("status", string(models.SlotAvailable), "AVAILABLE, OCCUPIED or RESERVED")
	if err := fs.Parse(args); err != nil {
		return err
	}

	m := slots.NewManager(a.client, a.bus, a.logger)
	saved, err := m.Save(ctx, models.Slot{
		SlotID:     *id,
		SlotNumber: *number,
		Location:   *location,
		Type:       models.SlotType(strings.ToUpper(*slotType)),
		Status:     models.SlotStatus(strings.ToUpper(*status)),
	})
	if err != nil {
		return apiFailure(err, err.Error())
	}
	fmt.Fprintf(a.out, "Saved slot %s (id %d).\n", saved.SlotNumber, saved.SlotID)
	return nil
}

func cmdAdminSlotDelete(ctx context.Context, a *app, args []string) error {
	fs := newFlags("admin slot-delete")
	id := fs.Int64("id", 0, "slot id")
	yes := fs.Bool("yes", false, "confirm without prompting")
	if err := fs.Parse(args); err != nil {
		return err
	}

	m := slots.NewManager(a.client, a.bus, a.logger)
	if err := m.Refresh(ctx); err != nil {
		return apiFailure(err, "Failed to load slots.")
	}
	if err := m.StageDelete(*id); err != nil {
		return err
	}
	staged, _ := m.PendingDelete()

	ok := *yes
	if !ok {
		var err error
		ok, err = confirmPrompt(a, fmt.Sprintf("Delete slot %s (%s)?", staged.SlotNumber, staged.Location))
		if err != nil {
			return err
		}
	}
	if !ok {
		m.DiscardDelete()
		fmt.Fprintln(a.out, "Nothing deleted.")
		return nil
	}
	if err := m.ConfirmDelete(ctx); err != nil {
		return apiFailure(err, "Failed to delete slot.")
	}
	fmt.Fprintf(a.out, "Slot %s deleted.\n", staged.SlotNumber)
	return nil
}

func cmdAdminExport(ctx context.Context, a *app, args []string) error {
	fs := newFlags("admin export")
	out := fs.String("out", report.Filename("all_bookings", time.Now()), "bookings .xlsx file")
	statsOut := fs.String("stats", "", "also write statistics to this .xlsx file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	all, err := a.client.ListBookings(ctx)
	if err != nil {
		return apiFailure(err, "Failed to load bookings.")
	}
	allSlots, err := a.client.ListSlots(ctx)
	if err != nil {
		return apiFailure(err, "Failed to load slots.")
	}
	sorted := bookings.SortByStartDesc(all)
	if err := writeFile(a, *out, func(w io.Writer) error {
		return report.ExportBookings(w, sorted, allSlots)
	}); err != nil {
		return err
	}

	if *statsOut == "" {
		return nil
	}
	stats, err := a.client.AdminStats(ctx)
	if err != nil {
		return apiFailure(err, "Failed to load statistics.")
	}
	return writeFile(a, *statsOut, func(w io.Writer) error {
		return report.ExportStats(w, *stats)
	})
}
