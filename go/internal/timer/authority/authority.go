// Package authority runs the single writer of a session's timer state. It
// consumes the pending command queue in sentAtMs order, applies each command
// through the state machine exactly once, and fires overtime beeps from a local
// ticker.
package authority

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/cuecard/go/internal/models"
	"github.com/mcdev12/cuecard/go/internal/timer/command"
	"github.com/mcdev12/cuecard/go/internal/timer/derive"
	"github.com/mcdev12/cuecard/go/internal/timer/events"
	"github.com/mcdev12/cuecard/go/internal/timer/machine"
	"github.com/mcdev12/cuecard/go/internal/timer/store"
)

const eventBuffer = 256

// Store is what the authority needs from the shared store.
type Store interface {
	store.SessionReader
	store.StateWriter
	store.ConfigWriter
	store.CommandQueue
}

type Config struct {
	TickInterval time.Duration // How often derived values are evaluated
	CommandTTL   time.Duration // Commands older than this are dropped; 0 disables
	Resume       machine.ResumeMode
}

func DefaultConfig() Config {
	return Config{
		TickInterval: 250 * time.Millisecond,
		Resume:       machine.ResumeContinue,
	}
}

type Option func(*Authority)

func WithClock(c clockwork.Clock) Option      { return func(a *Authority) { a.clock = c } }
func WithAlarm(al Alarm) Option               { return func(a *Authority) { a.alarm = al } }
func WithPublisher(p events.Publisher) Option { return func(a *Authority) { a.publisher = p } }
func WithMetrics(m MetricsCollector) Option   { return func(a *Authority) { a.metrics = m } }

// Authority owns one session's state. It is not safe for concurrent use; all
// work happens on the goroutine running Run.
type Authority struct {
	sessionID  string
	store      Store
	machine    *machine.Machine
	cfg        Config
	clock      clockwork.Clock
	alarm      Alarm
	publisher  events.Publisher
	metrics    MetricsCollector
	instanceID string

	session *models.Session
	pending []models.Command
	retry   bool

	// applied holds every command id finished by this process. Ids are never
	// removed so a redelivered command is only deleted again.
	applied map[string]struct{}

	// patched is the config last written by this process, kept until a snapshot
	// carries it. Config writes do not advance seq.
	patched *models.SessionConfig

	eventCh chan events.Event
}

// New creates an authority for sessionID.
func New(sessionID string, st Store, cfg Config, opts ...Option) (*Authority, error) {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultConfig().TickInterval
	}
	if cfg.CommandTTL < 0 {
		return nil, fmt.Errorf("command ttl must not be negative, got %s", cfg.CommandTTL)
	}
	m, err := machine.New(cfg.Resume)
	if err != nil {
		return nil, err
	}
	a := &Authority{
		sessionID:  sessionID,
		store:      st,
		machine:    m,
		cfg:        cfg,
		clock:      clockwork.NewRealClock(),
		alarm:      LogAlarm{},
		publisher:  events.LogPublisher{},
		metrics:    NoOpMetricsCollector{},
		instanceID: uuid.New().String()[:8],
		applied:    make(map[string]struct{}),
		eventCh:    make(chan events.Event, eventBuffer),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Run processes the session until ctx is done.
func (a *Authority) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sessions, err := a.store.SubscribeSession(ctx, a.sessionID)
	if err != nil {
		return fmt.Errorf("subscribe session %s: %w", a.sessionID, err)
	}
	commands, err := a.store.SubscribeCommands(ctx, a.sessionID)
	if err != nil {
		return fmt.Errorf("subscribe commands %s: %w", a.sessionID, err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.publishLoop(ctx)
	}()
	defer wg.Wait()

	ticker := a.clock.NewTicker(a.cfg.TickInterval)
	defer ticker.Stop()

	log.Info().
		Str("session_id", a.sessionID).
		Str("instance", a.instanceID).
		Dur("tick", a.cfg.TickInterval).
		Dur("command_ttl", a.cfg.CommandTTL).
		Msg("authority started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("session_id", a.sessionID).Str("instance", a.instanceID).Msg("authority shutting down")
			return nil
		case snap, ok := <-sessions:
			if !ok {
				return nil
			}
			a.handleSession(ctx, snap)
		case snap, ok := <-commands:
			if !ok {
				return nil
			}
			a.handleCommands(ctx, snap)
		case <-ticker.Chan():
			a.tick(ctx)
		}
	}
}

func (a *Authority) handleSession(ctx context.Context, snap store.SessionSnapshot) {
	if snap.Err != nil {
		log.Warn().Err(snap.Err).Str("session_id", a.sessionID).Msg("session subscription error; keeping last state")
		return
	}
	if snap.Session == nil {
		if a.session != nil {
			log.Warn().Str("session_id", a.sessionID).Msg("session document is gone")
		}
		a.session = nil
		a.patched = nil
		return
	}
	if a.session != nil && snap.Session.State.Seq < a.session.State.Seq {
		log.Debug().
			Str("session_id", a.sessionID).
			Int64("seq", snap.Session.State.Seq).
			Int64("local_seq", a.session.State.Seq).
			Msg("ignoring stale session snapshot")
		return
	}
	first := a.session == nil
	next := snap.Session.Clone()
	if a.patched != nil && !first {
		switch {
		case next.State.Seq > a.session.State.Seq, reflect.DeepEqual(next.Config, *a.patched):
			a.patched = nil
		default:
			next.Config = a.patched.Clone()
		}
	}
	a.session = next
	if first || a.retry {
		a.processPending(ctx)
	}
}

func (a *Authority) handleCommands(ctx context.Context, snap store.CommandSnapshot) {
	if snap.Err != nil {
		log.Warn().Err(snap.Err).Str("session_id", a.sessionID).Msg("command subscription error; waiting for next snapshot")
		return
	}
	a.pending = snap.Commands
	a.processPending(ctx)
}

func (a *Authority) tick(ctx context.Context) {
	if a.retry {
		a.processPending(ctx)
	}
	a.evaluateOvertime(ctx)
}

// Order returns cmds sorted by sentAtMs, ties broken by id.
func Order(cmds []models.Command) []models.Command {
	out := slices.Clone(cmds)
	slices.SortStableFunc(out, func(x, y models.Command) int {
		if c := cmp.Compare(x.SentAtMs, y.SentAtMs); c != 0 {
			return c
		}
		return cmp.Compare(x.ID, y.ID)
	})
	return out
}

// processPending walks the last command snapshot in order. It stops at the first
// failed state write so later commands never overtake an earlier one.
func (a *Authority) processPending(ctx context.Context) {
	if a.session == nil {
		a.retry = len(a.pending) > 0
		return
	}
	start := a.clock.Now()
	a.retry = false

	ordered := Order(a.pending)
	for _, c := range ordered {
		if !a.processOne(ctx, c) {
			a.retry = true
			break
		}
	}
	if len(ordered) > 0 {
		a.metrics.RecordBatchProcessed(len(ordered), a.clock.Since(start))
	}
}

// processOne handles a single command and reports whether the batch may go on.
func (a *Authority) processOne(ctx context.Context, c models.Command) bool {
	logger := log.With().
		Str("session_id", a.sessionID).
		Str("command_id", c.ID).
		Str("command_type", string(c.Type)).
		Logger()

	if _, done := a.applied[c.ID]; done {
		a.deleteCommand(ctx, c)
		return true
	}

	now := a.clock.Now()
	if a.cfg.CommandTTL > 0 && now.UnixMilli()-c.SentAtMs > a.cfg.CommandTTL.Milliseconds() {
		logger.Warn().Int64("sent_at_ms", c.SentAtMs).Msg("dropping expired command")
		a.finish(ctx, c, events.OutcomeExpired, "older than command ttl")
		return true
	}

	intent, err := command.Decode(c)
	if err != nil {
		logger.Warn().Err(err).Msg("rejecting command")
		a.finish(ctx, c, events.OutcomeRejected, err.Error())
		return true
	}

	res := a.machine.Apply(a.session, intent, now)
	if res.StateChanged {
		if err := a.store.UpdateState(ctx, a.sessionID, res.State); err != nil {
			logger.Error().Err(err).Msg("failed to write state; command stays pending")
			a.metrics.RecordWriteFailure("update_state")
			return false
		}
		a.session.State = res.State
	}
	if res.ConfigChanged {
		patch := intent.Payload.(command.UpdateConfig).ConfigPatch
		if err := a.store.PatchConfig(ctx, a.sessionID, patch); err != nil {
			logger.Error().Err(err).Msg("failed to patch config; command stays pending")
			a.metrics.RecordWriteFailure("patch_config")
			return false
		}
		a.session.Config = res.Config
		patched := res.Config.Clone()
		a.patched = &patched
	}

	outcome := events.OutcomeApplied
	if res.NoOp {
		outcome = events.OutcomeNoOp
	}
	logger.Info().
		Str("outcome", outcome).
		Str("from", string(res.From)).
		Str("to", string(res.To)).
		Int64("seq", a.session.State.Seq).
		Msg("command processed")

	a.finish(ctx, c, outcome, "")
	if res.StateChanged {
		a.emit(events.TypeStateChanged, events.StateChangedPayload{From: res.From, To: res.To, State: res.State})
	}
	if res.ConfigChanged {
		a.emit(events.TypeConfigChanged, events.ConfigChangedPayload{Config: res.Config})
	}
	return true
}

// finish records c as applied and removes it from the queue.
func (a *Authority) finish(ctx context.Context, c models.Command, outcome, reason string) {
	a.applied[c.ID] = struct{}{}
	a.metrics.RecordCommand(string(c.Type), outcome)
	a.emit(events.TypeCommandApplied, events.CommandAppliedPayload{
		CommandID:   c.ID,
		CommandType: string(c.Type),
		OriginID:    c.OriginID,
		SentAtMs:    c.SentAtMs,
		Outcome:     outcome,
		Reason:      reason,
	})
	a.deleteCommand(ctx, c)
}

func (a *Authority) deleteCommand(ctx context.Context, c models.Command) {
	if err := a.store.DeleteCommand(ctx, a.sessionID, c.ID); err != nil {
		log.Error().
			Err(err).
			Str("session_id", a.sessionID).
			Str("command_id", c.ID).
			Msg("failed to delete applied command")
		a.metrics.RecordWriteFailure("delete_command")
		a.retry = true
	}
}

// evaluateOvertime fires a beep when one is due. The beep is persisted before the
// alarm sounds so a failed write never repeats it.
func (a *Authority) evaluateOvertime(ctx context.Context) {
	s := a.session
	if s == nil || s.State.Status != models.TimerStatusRunning {
		return
	}
	elapsed := derive.StateElapsed(s.State, a.clock.Now())
	if !derive.ShouldBeep(elapsed, s.State.UpperSec, s.State.Beeped, s.State.BeepCount, s.Config.OvertimeMode) {
		return
	}

	next := derive.Beep(s.State.Clone())
	next.Seq++
	if err := a.store.UpdateState(ctx, a.sessionID, next); err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			a.session = nil
		}
		log.Error().Err(err).Str("session_id", a.sessionID).Msg("failed to record beep")
		a.metrics.RecordWriteFailure("update_state")
		return
	}
	a.session.State = next

	a.alarm.Beep(ctx, a.sessionID, next.BeepCount)
	a.metrics.RecordBeep(string(s.Config.OvertimeMode))
	a.emit(events.TypeOvertimeAlert, events.OvertimeAlertPayload{
		BeepCount:  next.BeepCount,
		ElapsedSec: elapsed,
		UpperSec:   next.UpperSec,
		Mode:       s.Config.OvertimeMode,
	})
}

// emit queues an event without blocking the loop. Events are dropped when the
// publisher falls behind.
func (a *Authority) emit(eventType string, payload any) {
	ev, err := events.New(a.sessionID, eventType, payload, a.clock.Now())
	if err != nil {
		log.Error().Err(err).Str("session_id", a.sessionID).Msg("failed to build event")
		return
	}
	select {
	case a.eventCh <- ev:
	default:
		log.Warn().Str("session_id", a.sessionID).Str("event_type", eventType).Msg("event buffer full; dropping event")
	}
}

func (a *Authority) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-a.eventCh:
			if err := a.publisher.Publish(ctx, ev); err != nil {
				log.Error().
					Err(err).
					Str("event_id", ev.ID).
					Str("event_type", ev.Type).
					Msg("failed to publish event")
			}
		}
	}
}
