package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/skip2/go-qrcode"

	"parkwise/internal/access"
	"parkwise/internal/api"
	"parkwise/internal/booking"
	"parkwise/internal/bookings"
	"parkwise/internal/dashboard"
	"parkwise/internal/models"
	"parkwise/internal/qr"
	"parkwise/internal/report"
	"parkwise/internal/slots"
)

func newFlags(name string) *flag.FlagSet {
	return flag.NewFlagSet(name, flag.ContinueOnError)
}

func cmdLogin(ctx context.Context, a *app, args []string) error {
	fs := newFlags("login")
	email := fs.String("email", "", "account email")
	password := fs.String("password", os.Getenv("PARKWISE_PASSWORD"), "account password (or PARKWISE_PASSWORD)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		return errors.New("-email is required")
	}
	if *password == "" {
		pw, err := prompt(a, "Password: ")
		if err != nil {
			return err
		}
		*password = pw
	}

	resp, err := a.client.Login(ctx, api.LoginRequest{Email: *email, Password: *password})
	if err != nil {
		return errors.New(api.UserMessage(err, "Login failed."))
	}
	if !resp.Success || resp.Token == "" {
		msg := resp.Message
		if msg == "" {
			msg = "Login failed."
		}
		return errors.New(msg)
	}
	user := resp.User()
	if err := a.session.Login(ctx, user, resp.Token); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Signed in as %s (%s)\n", displayName(user), user.Role)
	return nil
}

func cmdLogout(ctx context.Context, a *app, _ []string) error {
	if err := a.session.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Signed out.")
	return nil
}

func cmdWhoami(ctx context.Context, a *app, _ []string) error {
	user, err := a.guard.RequireUser()
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s <%s> id=%d role=%s admin=%t\n", displayName(*user), user.Email, user.UserID, user.Role, a.session.IsAdmin(ctx))
	return nil
}

func cmdRegister(ctx context.Context, a *app, args []string) error {
	fs := newFlags("register")
	name := fs.String("name", "", "full name")
	email := fs.String("email", "", "email")
	password := fs.String("password", os.Getenv("PARKWISE_PASSWORD"), "password (or PARKWISE_PASSWORD)")
	role := fs.String("role", string(models.RoleUser), "USER or ADMIN")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" || *email == "" || *password == "" {
		return errors.New("-name, -email and -password are required")
	}

	resp, err := a.client.Signup(ctx, api.SignupRequest{
		Name:     *name,
		Email:    *email,
		Password: *password,
		Role:     models.ParseRole(*role),
	})
	if err != nil {
		return errors.New(api.UserMessage(err, "Registration failed."))
	}
	if !resp.Success {
		return errors.New(orDefault(resp.Message, "Registration failed."))
	}
	fmt.Fprintf(a.out, "Registered %s (user id %d). You can now log in.\n", *email, resp.UserID)
	return nil
}

func cmdSlots(ctx context.Context, a *app, args []string) error {
	fs := newFlags("slots")
	slotType := fs.String("type", string(slots.AllTypes), "ALL, REGULAR, VIP or HANDICAPPED")
	search := fs.String("search", "", "match slot number or location")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := a.guard.RequireUser(); err != nil {
		return err
	}

	browser := slots.NewBrowser(a.client, a.logger)
	list, err := browser.ListAvailable(ctx, slots.Filter{Type: models.SlotType(strings.ToUpper(*slotType)), Search: *search})
	if err != nil {
		return apiFailure(err, "Failed to load slots.")
	}
	printSlots(a.out, list)
	return nil
}

func cmdBook(ctx context.Context, a *app, args []string) error {
	fs := newFlags("book")
	slotRef := fs.String("slot", "", "slot number (e.g. A-101) or id")
	startArg := fs.String("start", "", "start time: ISO-8601 (UTC unless an offset is given) or +duration")
	endArg := fs.String("end", "", "end time: ISO-8601 or +duration")
	if err := fs.Parse(args); err != nil {
		return err
	}
	user, err := a.guard.RequireUser()
	if err != nil {
		return err
	}

	browser := slots.NewBrowser(a.client, a.logger)
	if err := browser.Refresh(ctx); err != nil {
		return apiFailure(err, "Failed to load slots.")
	}
	if *slotRef != "" {
		if id, convErr := strconv.ParseInt(*slotRef, 10, 64); convErr == nil {
			_, err = browser.Select(id)
		} else {
			_, err = browser.SelectNumber(*slotRef)
		}
		if err != nil {
			return fmt.Errorf("slot %s is not available", *slotRef)
		}
	}

	form := booking.NewForm(a.client, browser, booking.Options{
		UserID:     user.UserID,
		MinAdvance: a.cfg.BookingMinAdvance(),
		Now:        a.now,
		Bus:        a.bus,
		Logger:     a.logger,
	})
	defer form.Reset()
	if *startArg != "" {
		start, err := parseWhen(*startArg, a.now())
		if err != nil {
			return err
		}
		if err := form.SetStart(start); err != nil {
			return err
		}
	}
	if *endArg != "" {
		end, err := parseWhen(*endArg, a.now())
		if err != nil {
			return err
		}
		if err := form.SetEnd(end); err != nil {
			return err
		}
	}
	if d := form.Duration(); d != "" {
		fmt.Fprintf(a.out, "Duration: %s hours\n", d)
	}

	created, err := form.Submit(ctx)
	if err != nil {
		return errors.New(orDefault(form.Notice(), err.Error()))
	}
	fmt.Fprintln(a.out, form.Notice())
	if created.BookingID != 0 {
		fmt.Fprintf(a.out, "Booking #%d: %s to %s\n", created.BookingID, created.StartTime, created.EndTime)
	}
	return nil
}

func cmdBookings(ctx context.Context, a *app, args []string) error {
	fs := newFlags("bookings")
	status := fs.String("status", string(bookings.AllStatuses), "ALL, ACTIVE, COMPLETED or CANCELLED")
	if err := fs.Parse(args); err != nil {
		return err
	}
	list, err := userBookings(ctx, a)
	if err != nil {
		return err
	}
	list.SetFilter(models.BookingStatus(strings.ToUpper(*status)))
	printBookings(a.out, list.Visible())

	c := list.Counts()
	fmt.Fprintf(a.out, "\nTotal %d, active %d, completed %d, cancelled %d\n", c.Total, c.Active, c.Completed, c.Cancelled)
	return nil
}

func cmdCancel(ctx context.Context, a *app, args []string) error {
	fs := newFlags("cancel")
	id := fs.Int64("id", 0, "booking id")
	yes := fs.Bool("yes", false, "confirm without prompting")
	if err := fs.Parse(args); err != nil {
		return err
	}
	list, err := userBookings(ctx, a)
	if err != nil {
		return err
	}
	if err := list.StageCancel(*id); err != nil {
		return err
	}
	staged, _ := list.PendingCancel()

	ok := *yes
	if !ok {
		ok, err = confirmPrompt(a, fmt.Sprintf("Cancel booking #%d (%s to %s)?", staged.BookingID, staged.StartTime, staged.EndTime))
		if err != nil {
			return err
		}
	}
	if !ok {
		list.DiscardCancel()
		fmt.Fprintln(a.out, "Nothing cancelled.")
		return nil
	}
	if err := list.ConfirmCancel(ctx); err != nil {
		return errors.New(orDefault(list.Notice(), err.Error()))
	}
	fmt.Fprintf(a.out, "Booking #%d cancelled.\n", staged.BookingID)
	return nil
}

func cmdQR(ctx context.Context, a *app, args []string) error {
	fs := newFlags("qr")
	id := fs.Int64("id", 0, "booking id")
	out := fs.String("out", "", "write the PNG image to this file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	user, err := a.guard.RequireUser()
	if err != nil {
		return err
	}

	issuer := qr.NewIssuer(a.client, a.logger)
	list := bookings.NewList(a.client, issuer, user.UserID, a.bus, a.logger)
	if err := list.Refresh(ctx); err != nil {
		return apiFailure(err, "Failed to load bookings.")
	}
	if err := list.RequestAccessCode(ctx, *id); err != nil {
		if notice := issuer.Notice(); notice != "" {
			return errors.New(notice)
		}
		return err
	}

	code, _ := issuer.Current()
	if *out != "" {
		if err := os.WriteFile(*out, code.PNG, 0o600); err != nil {
			return fmt.Errorf("write %s: %w", *out, err)
		}
		fmt.Fprintf(a.out, "Access code image written to %s\n", *out)
	}
	if code.Code != "" {
		q, err := qrcode.New(code.Code, qrcode.Medium)
		if err != nil {
			return fmt.Errorf("render access code: %w", err)
		}
		fmt.Fprint(a.out, q.ToSmallString(false))
		fmt.Fprintf(a.out, "Code: %s\n", code.Code)
	}
	return nil
}

func cmdValidate(ctx context.Context, a *app, args []string) error {
	fs := newFlags("validate")
	code := fs.String("code", "", "scanned access code")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := a.guard.RequireUser(); err != nil {
		return err
	}
	scanner := qr.NewScanner(a.client, 0, a.bus, a.logger)
	verdict, err := scanner.Scan(ctx, *code)
	switch {
	case errors.Is(err, qr.ErrEmptyScan):
		return errors.New("-code is required")
	case err != nil && verdict.Message == "":
		return err
	}
	fmt.Fprintln(a.out, verdict)
	if !verdict.Valid {
		return errors.New("access code rejected")
	}
	return nil
}

// cmdScan treats every stdin line as a scanner frame. Frames arriving while a
// validation is pending are dropped.
func cmdScan(ctx context.Context, a *app, _ []string) error {
	if _, err := a.guard.RequireUser(); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		out = a.out
	)
	a.session.Subscribe(func(user *models.User) {
		if user == nil {
			mu.Lock()
			fmt.Fprintln(out, "Session ended. Please log in again.")
			mu.Unlock()
			cancel()
		}
	})
	if interval := a.cfg.SessionWatchInterval(); interval > 0 {
		go a.session.Watch(ctx, interval)
	}

	scanner := qr.NewScanner(a.client, a.cfg.ScanInterval(), a.bus, a.logger)
	frames, readErr := readFrames(ctx, a.in)
	fmt.Fprintln(out, "Waiting for scans (Ctrl+D to stop)...")
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return nil
		case text, ok := <-frames:
			if !ok {
				return <-readErr
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				verdict, err := scanner.Scan(ctx, text)
				if errors.Is(err, qr.ErrScanInFlight) || errors.Is(err, qr.ErrEmptyScan) || errors.Is(err, context.Canceled) {
					return
				}
				mu.Lock()
				fmt.Fprintln(out, verdict)
				mu.Unlock()
			}()
		}
	}
}

// readFrames feeds stdin lines into a channel so the caller can stop on ctx
// without waiting for the next line. readErr receives exactly one value.
func readFrames(ctx context.Context, in io.Reader) (frames <-chan string, readErr <-chan error) {
	out := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(out)
		lines := bufio.NewScanner(in)
		for lines.Scan() {
			select {
			case out <- lines.Text():
			case <-ctx.Done():
				errc <- nil
				return
			}
		}
		errc <- lines.Err()
	}()
	return out, errc
}

func cmdDashboard(ctx context.Context, a *app, _ []string) error {
	svc := dashboard.NewService(a.client, a.guard, a.logger)
	summary, err := svc.UserSummary(ctx)
	if err != nil {
		if _, denied := access.IsDenied(err); denied {
			return err
		}
		return apiFailure(err, "Failed to load dashboard.")
	}
	fmt.Fprintf(a.out, "Welcome, %s\n\n", displayName(summary.User))
	fmt.Fprintf(a.out, "Available slots:  %d\n", summary.AvailableSlots)
	fmt.Fprintf(a.out, "Active bookings:  %d\n", summary.Bookings.Active)
	fmt.Fprintf(a.out, "Total bookings:   %d\n", summary.Bookings.Total)

	if summary.User.IsAdmin() {
		view, err := svc.AdminView(ctx)
		if err != nil {
			return apiFailure(err, "Failed to load statistics.")
		}
		fmt.Fprintln(a.out)
		printAdminView(a.out, view)
	}
	return nil
}

func cmdExport(ctx context.Context, a *app, args []string) error {
	fs := newFlags("export")
	out := fs.String("out", report.Filename("bookings", time.Now()), "output .xlsx file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	list, err := userBookings(ctx, a)
	if err != nil {
		return err
	}
	allSlots, err := a.client.ListSlots(ctx)
	if err != nil {
		return apiFailure(err, "Failed to load slots.")
	}
	return writeFile(a, *out, func(w io.Writer) error {
		return report.ExportBookings(w, list.All(), allSlots)
	})
}

func userBookings(ctx context.Context, a *app) (*bookings.List, error) {
	user, err := a.guard.RequireUser()
	if err != nil {
		return nil, err
	}
	list := bookings.NewList(a.client, nil, user.UserID, a.bus, a.logger)
	if _, err := list.ListForUser(ctx); err != nil {
		return nil, apiFailure(err, "Failed to load bookings.")
	}
	return list, nil
}

func writeFile(a *app, path string, fn func(io.Writer) error) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Written %s\n", path)
	return nil
}

// parseWhen accepts an absolute timestamp or "+duration" relative to now.
func parseWhen(s string, now time.Time) (time.Time, error) {
	if rest, ok := strings.CutPrefix(strings.TrimSpace(s), "+"); ok {
		d, err := time.ParseDuration(rest)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid offset %q: %w", s, err)
		}
		return now.Add(d), nil
	}
	t, err := models.ParseTime(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: %w", s, err)
	}
	return t, nil
}

func prompt(a *app, label string) (string, error) {
	fmt.Fprint(a.out, label)
	line, err := bufio.NewReader(a.in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func confirmPrompt(a *app, question string) (bool, error) {
	answer, err := prompt(a, question+" [y/N]: ")
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

func printSlots(w io.Writer, list []models.Slot) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No slots found.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNUMBER\tLOCATION\tTYPE\tSTATUS")
	for _, s := range list {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", s.SlotID, s.SlotNumber, s.Location, s.Type, s.Status)
	}
	_ = tw.Flush()
}

func printBookings(w io.Writer, list []models.Booking) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No bookings found.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSLOT\tSTART\tEND\tHOURS\tSTATUS")
	for i := range list {
		b := &list[i]
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%s\n", b.BookingID, b.SlotID, b.StartTime, b.EndTime, booking.FormatHours(b.Duration()), b.Status)
	}
	_ = tw.Flush()
}

func printAdminView(w io.Writer, v *dashboard.AdminView) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Total slots\t%d\n", v.Stats.TotalSlots)
	fmt.Fprintf(tw, "Available slots\t%d\n", v.Stats.AvailableSlots)
	fmt.Fprintf(tw, "Occupied slots\t%d\n", v.Stats.OccupiedSlots)
	fmt.Fprintf(tw, "Active bookings\t%d\n", v.Stats.ActiveBookings)
	fmt.Fprintf(tw, "Total bookings\t%d\n", v.Stats.TotalBookings)
	fmt.Fprintf(tw, "Completed bookings\t%d\n", v.CompletedBookings)
	fmt.Fprintf(tw, "Revenue\t%.2f\n", v.Stats.Revenue)
	fmt.Fprintf(tw, "Occupancy rate\t%.1f%%\n", v.OccupancyRate)
	fmt.Fprintf(tw, "Availability rate\t%.1f%%\n", v.AvailabilityRate)
	fmt.Fprintf(tw, "Completion rate\t%.1f%%\n", v.CompletionRate)
	fmt.Fprintf(tw, "Average revenue\t%.2f\n", v.AverageRevenue)
	_ = tw.Flush()
}

func displayName(u models.User) string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
