package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"parkwise/internal/access"
	"parkwise/internal/api"
	"parkwise/internal/config"
	"parkwise/internal/events"
	"parkwise/internal/session"
	"parkwise/internal/session/storage"
)

type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	bus     *events.EventBus
	client  *api.Client
	session *session.Store
	guard   *access.Guard
	in      io.Reader
	out     io.Writer
	now     func() time.Time
}

type command struct {
	summary string
	run     func(ctx context.Context, a *app, args []string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"login":     {"sign in: -email -password", cmdLogin},
		"logout":    {"sign out", cmdLogout},
		"whoami":    {"show the signed-in user", cmdWhoami},
		"register":  {"create an account: -name -email -password [-role]", cmdRegister},
		"slots":     {"list available slots: [-type] [-search]", cmdSlots},
		"book":      {"reserve a slot: -slot -start -end", cmdBook},
		"bookings":  {"list your bookings: [-status]", cmdBookings},
		"cancel":    {"cancel a booking: -id [-yes]", cmdCancel},
		"qr":        {"get an access code: -id [-out file.png]", cmdQR},
		"validate":  {"validate one access code: -code", cmdValidate},
		"scan":      {"validate codes read line by line from stdin", cmdScan},
		"dashboard": {"show your overview", cmdDashboard},
		"export":    {"export your bookings: -out file.xlsx", cmdExport},
		"admin":     {"administration: stats | slots | slot-save | slot-delete | export", cmdAdmin},
	}
}

func main() {
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger().Level(logLevel())

	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}
	name := os.Args[1]
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", name)
		usage(os.Stderr)
		os.Exit(2)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn().Err(err).Msg("failed to load .env")
	}
	cfg, err := config.Load(config.Path())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, closeFn, err := newApp(ctx, cfg, logger, os.Stdin, os.Stdout)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start")
	}
	defer closeFn()

	if err := cmd.run(ctx, a, os.Args[2:]); err != nil {
		printError(os.Stderr, err)
		stop()
		closeFn()
		os.Exit(1)
	}
}

func logLevel() zerolog.Level {
	if lvl, err := zerolog.ParseLevel(os.Getenv("PARKWISE_LOG_LEVEL")); err == nil && lvl != zerolog.NoLevel {
		return lvl
	}
	return zerolog.WarnLevel
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger, in io.Reader, out io.Writer) (*app, func(), error) {
	store, closeStorage, err := openStorage(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	bus := events.NewEventBus()
	sess := session.NewStore(store, bus, logger)
	if err := sess.Init(ctx); err != nil {
		_ = closeStorage()
		return nil, nil, err
	}

	client := api.NewClient(cfg.API.BaseURL, sess, logger)
	client.SetTimeout(cfg.APITimeout())

	a := &app{
		cfg:     cfg,
		logger:  logger,
		bus:     bus,
		client:  client,
		session: sess,
		guard:   access.NewGuard(sess, logger),
		in:      in,
		out:     out,
		now:     time.Now,
	}
	closeFn := func() {
		if err := closeStorage(); err != nil {
			logger.Warn().Err(err).Msg("failed to close session storage")
		}
	}
	return a, closeFn, nil
}

func openStorage(ctx context.Context, cfg *config.Config) (session.Storage, func() error, error) {
	switch cfg.Session.Backend {
	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Address, err)
		}
		s := storage.NewRedis(rdb, cfg.RedisKeyPrefix())
		return s, s.Close, nil
	case config.BackendSQLite:
		s, err := storage.NewSQLite(cfg.Session.Path)
		if err != nil {
			return nil, nil, err
		}
		if err := s.PingContext(ctx); err != nil {
			_ = s.Close()
			return nil, nil, fmt.Errorf("open sqlite session %s: %w", cfg.Session.Path, err)
		}
		return s, s.Close, nil
	default:
		s, err := storage.NewFile(cfg.Session.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: parkctl <command> [flags]")
	fmt.Fprintln(w)
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-10s %s\n", name, commands[name].summary)
	}
}

// apiFailure turns an API error into the message shown to the user. A 401 on
// a protected call means the stored token is no longer accepted.
func apiFailure(err error, fallback string) error {
	if api.IsUnauthorized(err) {
		return &access.DeniedError{Reason: "Your session has expired.", Redirect: access.RouteLogin}
	}
	return errors.New(api.UserMessage(err, fallback))
}

func printError(w io.Writer, err error) {
	if denied, ok := access.IsDenied(err); ok {
		switch denied.Redirect {
		case access.RouteLogin:
			fmt.Fprintf(w, "%s Run: parkctl login -email <email>\n", denied.Reason)
		default:
			fmt.Fprintf(w, "%s Run: parkctl dashboard\n", denied.Reason)
		}
		return
	}
	fmt.Fprintln(w, "error:", err)
}
