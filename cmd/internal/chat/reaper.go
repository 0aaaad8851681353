package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

// SweepResult describes one reaper tick.
type SweepResult struct {
	Cutoff         time.Time
	Removed        []string
	Deleted        int64
	NoticeFailures int
	Skipped        bool
}

// SweepObserver receives every finished sweep (metrics).
type SweepObserver interface {
	ObserveSweep(res SweepResult, elapsed time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveSweep(SweepResult, time.Duration, error) {}

// Reaper expires participants whose last heartbeat is older than the
// inactivity window and posts a leave notice for each of them.
//
// Ticks never overlap: Run drives sweeps from a single goroutine and Sweep
// refuses to start while another sweep is in progress.
type Reaper struct {
	participants ParticipantStore
	messages     MessageStore

	log      *slog.Logger
	now      func() time.Time
	notifier Notifier
	observer SweepObserver

	interval   time.Duration
	inactivity time.Duration

	running atomic.Bool
}

// NewReaper constructs a Reaper.
func NewReaper(participants ParticipantStore, messages MessageStore, opts ...Option) (*Reaper, error) {
	if participants == nil || messages == nil {
		return nil, errors.New("chat: nil store")
	}
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Reaper{
		participants: participants,
		messages:     messages,
		log:          o.log,
		now:          o.now,
		notifier:     o.notifier,
		observer:     o.observer,
		interval:     o.interval,
		inactivity:   o.inactivity,
	}, nil
}

// Interval returns the sweep period.
func (r *Reaper) Interval() time.Duration { return r.interval }

// Run sweeps every interval until ctx is done. It always returns nil:
// a failing sweep is logged and the next tick runs as usual.
func (r *Reaper) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()

	r.log.Info("reaper.start", "interval", r.interval, "inactivity", r.inactivity)
	for {
		select {
		case <-ctx.Done():
			r.log.Info("reaper.stop")
			return nil
		case <-t.C:
			r.tick(ctx)
		}
	}
}

func (r *Reaper) tick(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("reaper.sweep.panic", "panic", rec)
		}
	}()
	if _, err := r.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
		r.log.Error("reaper.sweep.fail", "err", err)
	}
}

// Sweep runs one expiry pass at the current clock time.
func (r *Reaper) Sweep(ctx context.Context) (SweepResult, error) {
	if !r.running.CompareAndSwap(false, true) {
		r.log.Warn("reaper.sweep.skipped", "reason", "in_progress")
		return SweepResult{Skipped: true}, nil
	}
	defer r.running.Store(false)

	start := time.Now()
	res, err := r.sweep(ctx, r.now())
	r.observer.ObserveSweep(res, time.Since(start), err)
	return res, err
}

func (r *Reaper) sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	const op = "chat.Reaper.Sweep"

	cutoff := now.Add(-r.inactivity)
	res := SweepResult{Cutoff: cutoff}
	cut := cutoff.UnixMilli()

	// The delete primitive does not return what it removed, so the departing
	// set is captured first and every notice is based on it.
	stale, err := r.participants.ListStale(ctx, cut)
	if err != nil {
		return res, storeErr(op, err)
	}
	if len(stale) == 0 {
		return res, nil
	}

	deleted, err := r.participants.DeleteStale(ctx, cut)
	if err != nil {
		return res, storeErr(op, err)
	}
	res.Deleted = deleted
	r.log.Info("reaper.participants.removed", "count", deleted, "cutoff_ms", cut)

	for _, p := range stale {
		res.Removed = append(res.Removed, p.Name)
	}
	// The participants are gone already; their notices are written even if
	// ctx is cancelled meanwhile.
	noticeCtx := context.WithoutCancel(ctx)
	for _, p := range stale {
		notice, err := r.messages.AppendMessage(noticeCtx, statusNotice(p.Name, LeaveText, now))
		if err != nil {
			res.NoticeFailures++
			r.log.Error("reaper.notice.fail", "name", p.Name, "err", err)
			continue
		}
		r.log.Info("reaper.notice.sent", "name", p.Name)
		r.notifier.Publish(Event{Kind: EventMessageNew, Message: notice, At: now})
	}
	return res, nil
}
