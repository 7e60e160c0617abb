package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"brand-diagnosis/internal/pipeline"
	"brand-diagnosis/internal/protocol"
	"brand-diagnosis/internal/util"
)

// PushTransport opens a persistent stage stream for one run.
type PushTransport interface {
	Connect(ctx context.Context, sessionID, runID string) (PushStream, error)
}

// PushStream yields typed messages until the run ends or the stream breaks.
type PushStream interface {
	Recv(ctx context.Context) (protocol.Message, error)
	Close() error
}

// PollTransport fetches the current status of one run.
type PollTransport interface {
	RequestStatus(ctx context.Context, runID string) (protocol.StatusResponse, error)
}

// State is the controller's connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StatePushing      State = "pushing"
	StateDegraded     State = "degraded"
	StatePolling      State = "polling"
	StateTerminal     State = "terminal"
)

// EventType names the events delivered to the caller.
type EventType string

const (
	EventConnected    EventType = "connected"
	EventProgress     EventType = "progress"
	EventStagePayload EventType = "stage-payload"
	EventComplete     EventType = "complete"
	EventError        EventType = "error"
)

// Event is one delivery notification. Complete and error events are terminal.
type Event struct {
	Type         EventType       `json:"type"`
	Percent      int             `json:"percent,omitempty"`
	Stage        string          `json:"stage,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	Report       json.RawMessage `json:"report,omitempty"`
	Partial      bool            `json:"partial,omitempty"`
	Kind         ErrorKind       `json:"kind,omitempty"`
	Message      string          `json:"message,omitempty"`
	FallbackHint string          `json:"fallbackHint,omitempty"`
}

// Config tunes one controller. Zero values fall back to defaults.
type Config struct {
	RunID     string `yaml:"-"`
	SessionID string `yaml:"-"`

	HardTimeout              time.Duration `yaml:"hard_timeout"`
	StallTimeout             time.Duration `yaml:"stall_timeout"`
	ReconnectBaseDelay       time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMultiplier      float64       `yaml:"reconnect_multiplier"`
	MaxReconnectAttempts     int           `yaml:"max_reconnect_attempts"`
	AuthFailureThreshold     int           `yaml:"auth_failure_threshold"`
	MaxConsecutivePollErrors int           `yaml:"max_consecutive_poll_errors"`
	MinPollInterval          time.Duration `yaml:"min_poll_interval"`
	MaxPollInterval          time.Duration `yaml:"max_poll_interval"`

	Logger *logrus.Entry `yaml:"-"`
}

// DefaultConfig returns the stock delivery settings.
func DefaultConfig() Config {
	return Config{
		HardTimeout:              10 * time.Minute,
		StallTimeout:             2 * time.Minute,
		ReconnectBaseDelay:       time.Second,
		ReconnectMultiplier:      2,
		MaxReconnectAttempts:     5,
		AuthFailureThreshold:     2,
		MaxConsecutivePollErrors: 10,
		MinPollInterval:          DefaultMinPollInterval,
		MaxPollInterval:          DefaultMaxPollInterval,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HardTimeout <= 0 {
		c.HardTimeout = d.HardTimeout
	}
	if c.StallTimeout <= 0 {
		c.StallTimeout = d.StallTimeout
	}
	if c.ReconnectBaseDelay <= 0 {
		c.ReconnectBaseDelay = d.ReconnectBaseDelay
	}
	if c.ReconnectMultiplier < 1 {
		c.ReconnectMultiplier = d.ReconnectMultiplier
	}
	if c.MaxReconnectAttempts < 0 {
		c.MaxReconnectAttempts = d.MaxReconnectAttempts
	}
	if c.AuthFailureThreshold <= 0 {
		c.AuthFailureThreshold = d.AuthFailureThreshold
	}
	if c.MaxConsecutivePollErrors <= 0 {
		c.MaxConsecutivePollErrors = d.MaxConsecutivePollErrors
	}
	if c.MinPollInterval <= 0 {
		c.MinPollInterval = d.MinPollInterval
	}
	if c.MaxPollInterval <= 0 {
		c.MaxPollInterval = d.MaxPollInterval
	}
	if c.MaxPollInterval < c.MinPollInterval {
		c.MaxPollInterval = c.MinPollInterval
	}
	return c
}

var errHardTimeout = errors.New("run exceeded its time budget")

// Controller delivers one run's events to the caller, preferring push and
// falling back to adaptive polling. All transport work happens on a single
// goroutine, so at most one network operation is outstanding.
type Controller struct {
	cfg  Config
	push PushTransport
	poll PollTransport
	log  *logrus.Entry

	events chan Event
	done   chan struct{}

	mu      sync.Mutex
	state   State
	started bool
	stopCtx context.Context
	stop    context.CancelFunc
}

// New constructs a controller. push may be nil to poll from the start.
func New(cfg Config, push PushTransport, poll PollTransport) *Controller {
	cfg = cfg.withDefaults()
	log := cfg.Logger
	if log == nil {
		log = logrus.WithField("component", "delivery")
	}
	return &Controller{
		cfg:    cfg,
		push:   push,
		poll:   poll,
		log:    log.WithField("run_id", cfg.RunID),
		events: make(chan Event, 32),
		done:   make(chan struct{}),
		state:  StateDisconnected,
	}
}

// Events returns the event channel. It is closed after the terminal event or
// after Stop.
func (c *Controller) Events() <-chan Event {
	return c.events
}

// Done is closed once the controller has released all of its resources.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// State reports the current connection state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	if prev != s {
		c.log.WithFields(logrus.Fields{"from": prev, "to": s}).Debug("delivery state changed")
	}
}

// Start begins delivery. Calling it more than once has no effect.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.stopCtx, c.stop = context.WithCancel(ctx)
	stopCtx := c.stopCtx
	c.mu.Unlock()

	go c.run(stopCtx)
}

// Stop cancels delivery and waits until timers and connections are released.
// No events are emitted after Stop returns.
func (c *Controller) Stop() {
	c.mu.Lock()
	started := c.started
	stop := c.stop
	if !started {
		c.started = true
		c.state = StateTerminal
		close(c.events)
		close(c.done)
	}
	c.mu.Unlock()
	if !started {
		return
	}
	stop()
	<-c.done
}

// session holds the per-run transport bookkeeping.
type session struct {
	progress     int
	stage        string
	lastAdvance  time.Time
	authFailures int
	pollErrors   int
	lastRTT      time.Duration
}

func (c *Controller) run(stopCtx context.Context) {
	defer close(c.done)
	defer close(c.events)
	defer c.setState(StateTerminal)

	ctx, cancel := context.WithTimeoutCause(stopCtx, c.cfg.HardTimeout, errHardTimeout)
	defer cancel()

	s := &session{lastAdvance: time.Now()}
	c.log.Info("delivery started")

	if c.push != nil {
		if done := c.pushLoop(ctx, s); done {
			return
		}
	}
	if c.poll == nil {
		c.fail(KindDowngrade, "push channel unavailable and no polling transport configured")
		return
	}
	c.pollLoop(ctx, s)
}

// pushLoop returns true when the run reached a terminal state; false hands
// over to polling.
func (c *Controller) pushLoop(ctx context.Context, s *session) bool {
	c.setState(StatePushing)
	failures := 0
	for {
		stream, err := c.push.Connect(ctx, c.cfg.SessionID, c.cfg.RunID)
		if err == nil {
			s.authFailures = 0
			c.setState(StatePushing)
			if !c.emit(Event{Type: EventConnected}) {
				_ = stream.Close()
				return true
			}
			before := s.progress
			var terminal bool
			terminal, err = c.consume(ctx, s, stream)
			if terminal {
				return true
			}
			// A handshake alone does not restore the budget; the stream must advance.
			if s.progress > before {
				failures = 0
			}
		}
		if ctx.Err() != nil {
			c.finishOnContext(ctx)
			return true
		}

		kind := Classify(err)
		entry := c.log.WithError(err).WithField("kind", kind)
		switch kind {
		case KindDowngrade:
			entry.Info("push unsupported, switching to polling")
			return false
		case KindAuth:
			s.authFailures++
			if s.authFailures >= c.cfg.AuthFailureThreshold {
				c.fail(KindAuth, err.Error())
				return true
			}
		default:
			s.authFailures = 0
		}

		failures++
		if failures > c.cfg.MaxReconnectAttempts {
			entry.WithField("attempts", failures-1).Warn("push reconnect budget exhausted, switching to polling")
			return false
		}
		c.setState(StateDegraded)
		delay := c.backoff(failures)
		entry.WithFields(logrus.Fields{"attempt": failures, "delay": delay}).Warn("push channel lost, reconnecting")
		if !c.wait(ctx, s, delay) {
			return true
		}
	}
}

func (c *Controller) backoff(attempt int) time.Duration {
	return time.Duration(float64(c.cfg.ReconnectBaseDelay) * math.Pow(c.cfg.ReconnectMultiplier, float64(attempt-1)))
}

// consume forwards messages from one push stream. It reports whether the run
// reached a terminal state, otherwise the error that broke the stream.
func (c *Controller) consume(ctx context.Context, s *session, stream PushStream) (bool, error) {
	defer stream.Close()
	for {
		recvCtx, cancel := context.WithDeadline(ctx, s.lastAdvance.Add(c.cfg.StallTimeout))
		msg, err := stream.Recv(recvCtx)
		stalled := errors.Is(recvCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
		cancel()
		if err != nil {
			if stalled {
				c.fail(KindTimeout, "no progress within the stall window")
				return true, nil
			}
			return false, err
		}
		if c.forward(s, msg) {
			return true, nil
		}
	}
}

// forward relays one push message and reports whether it was terminal.
func (c *Controller) forward(s *session, msg protocol.Message) bool {
	switch msg.Type {
	case protocol.TypeProgress:
		c.observe(s, msg.Progress, msg.Stage)
		return !c.emit(Event{Type: EventProgress, Percent: s.progress, Stage: msg.Stage})
	case protocol.TypeStagePayload:
		if cp, ok := pipeline.Checkpoint(msg.Stage); ok {
			c.observe(s, cp, msg.Stage)
		}
		return !c.emit(Event{Type: EventStagePayload, Stage: msg.Stage, Data: msg.Data})
	case protocol.TypeComplete:
		c.observe(s, 100, string(pipeline.StageComplete))
		c.emit(Event{Type: EventComplete, Percent: 100, Report: msg.Report, Partial: msg.Partial})
		return true
	case protocol.TypeError:
		kind := ErrorKind(msg.Kind)
		if kind == "" {
			kind = KindServer
		}
		c.fail(kind, msg.Error)
		return true
	default:
		return false
	}
}

// observe records progress and reports whether it advanced.
func (c *Controller) observe(s *session, progress int, stage string) bool {
	if stage != "" {
		s.stage = stage
	}
	if progress <= s.progress {
		return false
	}
	s.progress = progress
	s.lastAdvance = time.Now()
	return true
}

func (c *Controller) pollLoop(ctx context.Context, s *session) {
	c.setState(StatePolling)
	lastEmitted := -1
	lastStage := ""
	for {
		timer := util.StartTimer()
		resp, err := c.poll.RequestStatus(ctx, c.cfg.RunID)
		rtt := timer.Elapsed()

		if err != nil {
			if ctx.Err() != nil {
				c.finishOnContext(ctx)
				return
			}
			kind := Classify(err)
			entry := c.log.WithError(err).WithField("kind", kind)
			if kind == KindAuth {
				s.authFailures++
				if s.authFailures >= c.cfg.AuthFailureThreshold {
					c.fail(KindAuth, err.Error())
					return
				}
			} else {
				s.authFailures = 0
				s.pollErrors++
				if s.pollErrors >= c.cfg.MaxConsecutivePollErrors {
					if kind == KindDowngrade {
						kind = KindNetwork
					}
					c.fail(kind, err.Error())
					return
				}
			}
			c.setState(StateDegraded)
			entry.WithField("consecutive", s.pollErrors).Warn("status poll failed")
		} else {
			s.authFailures = 0
			s.pollErrors = 0
			s.lastRTT = rtt
			c.setState(StatePolling)

			res := ResolveStatus(resp)
			c.observe(s, res.Progress, res.Stage)
			if s.progress != lastEmitted || s.stage != lastStage {
				lastEmitted, lastStage = s.progress, s.stage
				if !c.emit(Event{Type: EventProgress, Percent: s.progress, Stage: s.stage}) {
					return
				}
			}
			switch res.Outcome {
			case OutcomeComplete:
				c.log.WithFields(logrus.Fields{"rule": res.Rule, "partial": res.Partial}).Info("run complete")
				c.emit(Event{Type: EventComplete, Percent: 100, Report: resp.Report, Partial: res.Partial})
				return
			case OutcomeFailed:
				msg := resp.Error
				if msg == "" {
					msg = "diagnosis run failed"
				}
				c.fail(KindServer, msg)
				return
			}
		}

		interval := pollInterval(s.progress, s.stage, s.lastRTT, c.cfg.MinPollInterval, c.cfg.MaxPollInterval)
		if !c.wait(ctx, s, interval) {
			return
		}
	}
}

// wait sleeps for d unless the run is cancelled, times out, or stalls first.
// It returns false after the terminal outcome has been reported.
func (c *Controller) wait(ctx context.Context, s *session, d time.Duration) bool {
	stallAt := s.lastAdvance.Add(c.cfg.StallTimeout)
	if untilStall := time.Until(stallAt); untilStall < d {
		d = max(untilStall, 0)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		c.finishOnContext(ctx)
		return false
	case <-timer.C:
	}
	if !time.Now().Before(stallAt) {
		c.fail(KindTimeout, "no progress within the stall window")
		return false
	}
	return true
}

// finishOnContext reports a hard timeout. A stop by the caller ends silently.
func (c *Controller) finishOnContext(ctx context.Context) {
	if errors.Is(context.Cause(ctx), errHardTimeout) {
		c.fail(KindTimeout, errHardTimeout.Error())
		return
	}
	c.log.Info("delivery stopped")
}

func (c *Controller) fail(kind ErrorKind, message string) {
	c.log.WithFields(logrus.Fields{"kind": kind, "message": message}).Warn("delivery failed")
	c.emit(Event{Type: EventError, Kind: kind, Message: message, FallbackHint: fallbackHint(kind)})
}

// emit delivers an event unless the caller has stopped the controller.
func (c *Controller) emit(ev Event) bool {
	select {
	case <-c.stopCtx.Done():
		return false
	default:
	}
	select {
	case c.events <- ev:
		return true
	case <-c.stopCtx.Done():
		return false
	}
}
