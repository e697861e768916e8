package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"bookingdesk/internal/blocking"
	"bookingdesk/internal/booking"
	"bookingdesk/internal/capability"
	"bookingdesk/internal/models"
	"bookingdesk/internal/scheduler"
	"bookingdesk/internal/slots"
)

func newFlags(name string) *pflag.FlagSet {
	return pflag.NewFlagSet(name, pflag.ContinueOnError)
}

func oneID(fs *pflag.FlagSet) (string, error) {
	if fs.NArg() != 1 || strings.TrimSpace(fs.Arg(0)) == "" {
		return "", fmt.Errorf("%w: expected exactly one booking id", models.ErrValidation)
	}
	return fs.Arg(0), nil
}

func runLogin(ctx context.Context, a *app, args []string) error {
	fs := newFlags("login")
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "password (default $BOOKINGDESK_PASSWORD, else prompted)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *password == "" {
		*password = os.Getenv("BOOKINGDESK_PASSWORD")
	}
	if *password == "" {
		fmt.Fprint(a.out, "password: ")
		line, _ := a.in.ReadString('\n')
		*password = strings.TrimSpace(line)
	}

	user, err := a.auth.Login(ctx, *email, *password)
	if err != nil {
		return err
	}
	role := "visitor"
	if a.store.IsAdmin() {
		role = "admin"
	}
	fmt.Fprintf(a.out, "logged in as %s (%s)\n", user.Email, role)
	return nil
}

func runLogout(ctx context.Context, a *app, args []string) error {
	if err := a.auth.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "logged out")
	return nil
}

func runDay(ctx context.Context, a *app, args []string) error {
	fs := newFlags("day")
	date := fs.String("date", "", "day as YYYY-MM-DD (default today)")
	minutes := fs.Int("duration", 30, "prospective appointment length in minutes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !slots.IsValidDuration(*minutes) {
		return fmt.Errorf("%w: duration must be one of %v", models.ErrValidation, slots.DurationOptions)
	}
	day, err := a.parseDate(*date)
	if err != nil {
		return err
	}

	view := scheduler.NewDayView(a.api, day, a.log)
	if err := view.Refresh(ctx); err != nil {
		return err
	}
	a.printDay(view, *minutes)
	return nil
}

func (a *app) printDay(view *scheduler.DayView, minutes int) {
	c := a.capability()
	fmt.Fprintf(a.out, "%s (%s view, %s)\n", slots.DayKey(view.Day()), c, slots.FormatDuration(minutes))

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	shown := 0
	for _, v := range view.Slots(c, minutes, a.cfg.Buffer()) {
		if !v.Visible {
			continue
		}
		shown++
		line := fmt.Sprintf("%s\t%s\t%s", v.Time, v.Label, actions(v.Action))
		if c == capability.Admin && v.Booking != nil && !v.Booking.IsBlock() {
			line += fmt.Sprintf("\t%s %s (%s)", v.Booking.ID, v.Booking.Type, v.Booking.Name)
		}
		fmt.Fprintln(tw, line)
	}
	_ = tw.Flush()
	if shown == 0 {
		fmt.Fprintln(a.out, "no availability on this day")
	}
}

func actions(act capability.Action) string {
	var names []string
	for _, x := range []struct {
		a    capability.Action
		name string
	}{
		{capability.ActionBook, "book"},
		{capability.ActionBlock, "block"},
		{capability.ActionDetail, "detail"},
		{capability.ActionReview, "review"},
		{capability.ActionUnblock, "unblock"},
	} {
		if act.Has(x.a) {
			names = append(names, x.name)
		}
	}
	return strings.Join(names, ",")
}

func runDurations(ctx context.Context, a *app, args []string) error {
	fs := newFlags("durations")
	at := fs.String("at", "", "slot as \"YYYY-MM-DD HH:MM\"")
	if err := fs.Parse(args); err != nil {
		return err
	}
	slot, err := a.parseDateTime(*at)
	if err != nil {
		return err
	}
	view := scheduler.NewDayView(a.api, slot, a.log)
	if err := view.Refresh(ctx); err != nil {
		return err
	}
	options := view.AllowedDurations(slot)
	if len(options) == 0 {
		fmt.Fprintf(a.out, "%s is not bookable\n", slots.FormatTime(slot))
		return nil
	}
	for _, m := range options {
		fmt.Fprintln(a.out, slots.FormatDuration(m))
	}
	return nil
}

func runBook(ctx context.Context, a *app, args []string) error {
	fs := newFlags("book")
	at := fs.String("at", "", "slot as \"YYYY-MM-DD HH:MM\"")
	minutes := fs.Int("duration", 30, "length in minutes (30, 60 or 90)")
	name := fs.String("name", "", "customer name")
	email := fs.String("email", "", "customer email")
	phone := fs.String("phone", "", "customer phone")
	kind := fs.String("type", booking.ServiceTypes[0], "service: "+strings.Join(booking.ServiceTypes, ", "))
	notes := fs.String("notes", "", "optional notes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	slot, err := a.parseDateTime(*at)
	if err != nil {
		return err
	}

	view := scheduler.NewDayView(a.api, slot, a.log)
	if err := view.Refresh(ctx); err != nil {
		return err
	}
	// the selection follows what is still feasible on the loaded day
	chosen, ok := view.FallbackDuration(slot, *minutes)
	if !ok {
		return fmt.Errorf("%w: %s has no bookable duration left", models.ErrConflict, slots.FormatTime(slot))
	}
	if chosen != *minutes {
		return fmt.Errorf("%w: %s is too long at %s, %s still fits",
			models.ErrConflict, slots.FormatDuration(*minutes), slots.FormatTime(slot), slots.FormatDuration(chosen))
	}

	var created *models.Booking
	err = view.Mutate(ctx, func(ctx context.Context) error {
		var err error
		created, err = a.bookings.Create(ctx, booking.CreateRequest{
			Start: slot, Minutes: *minutes,
			Name: *name, Email: *email, Phone: *phone, Type: *kind, Notes: *notes,
		})
		return err
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "requested %s on %s at %s (%s), awaiting confirmation\n",
		created.ID, slots.DayKey(slot), slots.FormatTime(slot), slots.FormatDuration(*minutes))
	return nil
}

func runConfirm(ctx context.Context, a *app, args []string) error {
	fs := newFlags("confirm")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := oneID(fs)
	if err != nil {
		return err
	}
	if _, err := a.bookings.Confirm(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "confirmed %s\n", id)
	return nil
}

func runReject(ctx context.Context, a *app, args []string) error {
	fs := newFlags("reject")
	message := fs.String("message", "", "note sent to the customer")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := oneID(fs)
	if err != nil {
		return err
	}
	if err := a.bookings.Reject(ctx, id, *message); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "rejected %s\n", id)
	return nil
}

func runDelete(ctx context.Context, a *app, args []string) error {
	fs := newFlags("delete")
	yes := fs.BoolP("yes", "y", false, "skip the confirmation prompt")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := oneID(fs)
	if err != nil {
		return err
	}
	var gate booking.Confirmer = booking.ConfirmFunc(a.confirm)
	if *yes {
		gate = nil
	}
	if err := a.bookings.Remove(ctx, id, gate); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "deleted %s\n", id)
	return nil
}

func runUpdate(ctx context.Context, a *app, args []string) error {
	fs := newFlags("update")
	fs.String("start", "", "new start as \"YYYY-MM-DD HH:MM\"")
	fs.String("end", "", "new end as \"YYYY-MM-DD HH:MM\"")
	fs.String("name", "", "new name")
	fs.String("email", "", "new email")
	fs.String("phone", "", "new phone")
	fs.String("type", "", "new service type")
	fs.String("notes", "", "new notes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := oneID(fs)
	if err != nil {
		return err
	}

	// only flags given on the command line end up in the patch
	var patch models.BookingPatch
	texts := map[string]**string{
		"name": &patch.Name, "email": &patch.Email, "phone": &patch.Phone,
		"type": &patch.Type, "notes": &patch.Notes,
	}
	for flag, dst := range texts {
		if fs.Changed(flag) {
			v, _ := fs.GetString(flag)
			*dst = &v
		}
	}
	times := map[string]**time.Time{"start": &patch.StartTime, "end": &patch.EndTime}
	for flag, dst := range times {
		if !fs.Changed(flag) {
			continue
		}
		raw, _ := fs.GetString(flag)
		t, err := a.parseDateTime(raw)
		if err != nil {
			return err
		}
		*dst = &t
	}

	b, err := a.bookings.Update(ctx, id, patch)
	if err != nil {
		return err
	}
	start, end := b.StartTime.In(a.loc), b.EndTime.In(a.loc)
	fmt.Fprintf(a.out, "updated %s: %s %s-%s\n", b.ID, slots.DayKey(start), slots.FormatTime(start), slots.FormatTime(end))
	return nil
}

func runUnconfirmed(ctx context.Context, a *app, args []string) error {
	list, err := a.bookings.ListUnconfirmed(ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(a.out, "no unconfirmed bookings")
		return nil
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDAY\tTIME\tLENGTH\tTYPE\tNAME\tEMAIL\tPHONE")
	for _, b := range list {
		start := b.StartTime.In(a.loc)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n", b.ID, slots.DayKey(start), slots.FormatTime(start),
			slots.FormatDuration(int(b.Duration()/time.Minute)), b.Type, b.Name, b.Email, b.Phone)
	}
	return tw.Flush()
}

func runBlockDay(ctx context.Context, a *app, args []string) error {
	return bulkDay(ctx, a, "block-day", args, a.blocks.BlockDay)
}

func runUnblockDay(ctx context.Context, a *app, args []string) error {
	return bulkDay(ctx, a, "unblock-day", args, a.blocks.UnblockDay)
}

func bulkDay(ctx context.Context, a *app, name string, args []string, op func(context.Context, time.Time) error) error {
	fs := newFlags(name)
	date := fs.String("date", "", "day as YYYY-MM-DD")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *date == "" {
		return fmt.Errorf("%w: --date is required", models.ErrValidation)
	}
	day, err := a.parseDate(*date)
	if err != nil {
		return err
	}

	view := scheduler.NewDayView(a.api, day, a.log)
	err = view.Mutate(ctx, func(ctx context.Context) error { return op(ctx, day) })
	if err != nil && !errors.Is(err, models.ErrPartialFailure) {
		return err
	}
	a.printDay(view, slots.DurationOptions[0])
	return err
}

func runWeek(ctx context.Context, a *app, args []string) error {
	fs := newFlags("week")
	date := fs.String("date", "", "first day as YYYY-MM-DD (default today)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	start, err := a.parseDate(*date)
	if err != nil {
		return err
	}
	ws, err := a.blocks.WeekStatus(ctx, start)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DAY\tBLOCKED\tBOOKINGS")
	for _, day := range ws.Days {
		key := slots.DayKey(day)
		fmt.Fprintf(tw, "%s\t%s\t%s\n", key, yesNo(ws.IsBlocked[key]), yesNo(ws.HasRealBookings[key]))
	}
	return tw.Flush()
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "-"
}

func runExport(ctx context.Context, a *app, args []string) error {
	fs := newFlags("export")
	date := fs.String("date", "", "first day as YYYY-MM-DD (default today)")
	out := fs.StringP("out", "o", "", "output file (default week-<date>.xlsx)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	start, err := a.parseDate(*date)
	if err != nil {
		return err
	}
	if *out == "" {
		*out = fmt.Sprintf("week-%s.xlsx", start.Format("2006-01-02"))
	}

	f, err := os.Create(*out)
	if err != nil {
		return err
	}
	if err := a.exporter.Export(ctx, start, f); err != nil {
		f.Close()
		_ = os.Remove(*out)
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "wrote %d days to %s\n", blocking.WeekDays, *out)
	return nil
}
