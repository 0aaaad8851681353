package chat

import (
	"errors"
	"log/slog"
	"time"
)

const (
	// DefaultReapInterval is the reaper period and, unless overridden, the inactivity window.
	DefaultReapInterval = 15 * time.Second
)

type options struct {
	log      *slog.Logger
	now      func() time.Time
	notifier Notifier
	observer SweepObserver

	interval   time.Duration
	inactivity time.Duration
}

// Option configures Registry, Ledger and Reaper.
type Option func(*options) error

// WithLogger sets the structured logger (default: slog.Default()).
func WithLogger(log *slog.Logger) Option {
	return func(o *options) error {
		if log != nil {
			o.log = log
		}
		return nil
	}
}

// WithClock overrides time.Now. Used by tests to drive the reaper.
func WithClock(now func() time.Time) Option {
	return func(o *options) error {
		if now == nil {
			return errors.New("chat: nil clock")
		}
		o.now = now
		return nil
	}
}

// WithNotifier sets the receiver of ledger events.
func WithNotifier(n Notifier) Option {
	return func(o *options) error {
		if n != nil {
			o.notifier = n
		}
		return nil
	}
}

// WithSweepObserver sets the receiver of reaper sweep results.
func WithSweepObserver(obs SweepObserver) Option {
	return func(o *options) error {
		if obs != nil {
			o.observer = obs
		}
		return nil
	}
}

// WithInterval sets the reaper period.
func WithInterval(d time.Duration) Option {
	return func(o *options) error {
		if d <= 0 {
			return errors.New("chat: reaper interval must be positive")
		}
		o.interval = d
		return nil
	}
}

// WithInactivityTimeout sets how long a participant may go without a heartbeat.
func WithInactivityTimeout(d time.Duration) Option {
	return func(o *options) error {
		if d <= 0 {
			return errors.New("chat: inactivity timeout must be positive")
		}
		o.inactivity = d
		return nil
	}
}

func buildOptions(opts []Option) (options, error) {
	o := options{
		log:      slog.Default(),
		now:      time.Now,
		notifier: nopNotifier{},
		observer: nopObserver{},
		interval: DefaultReapInterval,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&o); err != nil {
			return options{}, err
		}
	}
	if o.inactivity <= 0 {
		o.inactivity = o.interval
	}
	return o, nil
}
