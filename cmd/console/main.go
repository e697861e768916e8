package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"bookingdesk/internal/config"
	"bookingdesk/internal/models"
)

type command struct {
	summary string
	run     func(ctx context.Context, a *app, args []string) error
}

var commands = map[string]command{
	"login":       {"log in as the provider (--email, --password)", runLogin},
	"logout":      {"revoke and clear the stored session", runLogout},
	"day":         {"show the slots of a day (--date, --duration)", runDay},
	"durations":   {"list durations still bookable at a slot (--at)", runDurations},
	"book":        {"request an appointment (--at, --duration, --name, --email, --phone, --type, --notes)", runBook},
	"confirm":     {"confirm a requested booking: confirm ID", runConfirm},
	"reject":      {"reject a requested booking: reject ID [--message]", runReject},
	"delete":      {"delete a booking or block: delete ID [--yes]", runDelete},
	"update":      {"change a booking: update ID [--start, --end, --name, ...]", runUpdate},
	"unconfirmed": {"list bookings awaiting confirmation", runUnconfirmed},
	"block-day":   {"mark every slot of a day unavailable (--date)", runBlockDay},
	"unblock-day": {"remove the blocks of a day (--date)", runUnblockDay},
	"week":        {"show blocked days and days with bookings (--date)", runWeek},
	"export":      {"write the week to an XLSX file (--date, --out)", runExport},
	"serve":       {"run the notifier with health and metrics endpoints", runServe},
}

func main() {
	global := pflag.NewFlagSet("bookingdesk", pflag.ContinueOnError)
	configPath := global.String("config", "", "config file (default $"+config.EnvPath+" or configs/config.yaml)")
	debug := global.Bool("debug", false, "debug logging")
	global.SetInterspersed(false)
	global.Usage = func() { usage(os.Stderr, global) }

	if err := global.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		os.Exit(2)
	}
	if global.NArg() == 0 {
		usage(os.Stderr, global)
		os.Exit(2)
	}
	name, args := global.Arg(0), global.Args()[1:]
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", name)
		usage(os.Stderr, global)
		os.Exit(2)
	}

	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if *debug {
		level = zerolog.DebugLevel
	}
	logger = logger.Level(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, &logger, os.Stdout, os.Stdin)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize")
	}
	defer a.Close()

	if err := cmd.run(ctx, a, args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, describe(err))
		stop()
		a.Close()
		os.Exit(1)
	}
}

func usage(w io.Writer, global *pflag.FlagSet) {
	fmt.Fprintln(w, "usage: bookingdesk [--config FILE] [--debug] <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-12s %s\n", name, commands[name].summary)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "global flags:")
	fmt.Fprint(w, global.FlagUsages())
}

// describe turns the shared error kinds into operator-facing messages.
func describe(err error) string {
	var pf *models.PartialFailureError
	switch {
	case errors.As(err, &pf):
		lines := []string{fmt.Sprintf("%d of %d operations failed; %d succeeded:", len(pf.Failed), pf.Total, pf.Succeeded)}
		for _, f := range pf.Failed {
			lines = append(lines, fmt.Sprintf("  %s %s: %v", f.Slot.Format("Mon Jan 02 15:04"), f.BookingID, f.Err))
		}
		return strings.Join(lines, "\n")
	case errors.Is(err, models.ErrAuthRefresh):
		return "session expired, run `bookingdesk login` again: " + err.Error()
	case errors.Is(err, models.ErrAuthRequired):
		return "admin login required: " + err.Error()
	case errors.Is(err, models.ErrCancelled):
		return "cancelled"
	default:
		return "error: " + err.Error()
	}
}
