package session

import (
	"context"
	"sync"
	"time"

	"github.com/mind-engage/mindengage-examprep/internal/exam"
	"github.com/mind-engage/mindengage-examprep/internal/logger"
)

type MonitorConfig struct {
	TickInterval      time.Duration
	InactivityEnabled bool
	InactivityWindow  time.Duration
	GraceWindow       time.Duration
}

func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		TickInterval:     time.Second,
		InactivityWindow: 5 * time.Minute,
		GraceWindow:      30 * time.Second,
	}
}

func (c MonitorConfig) withDefaults() MonitorConfig {
	d := DefaultMonitorConfig()
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.InactivityWindow <= 0 {
		c.InactivityWindow = d.InactivityWindow
	}
	if c.GraceWindow <= 0 {
		c.GraceWindow = d.GraceWindow
	}
	return c
}

// Monitor turns countdown, visibility, inactivity and manual-submit events
// into Controller.Submit calls. Timer events are handled one at a time on a
// single goroutine; every trigger races on the controller's guard.
type Monitor struct {
	c   *Controller
	cfg MonitorConfig
	log *logger.Logger

	touch chan struct{}
	ack   chan struct{}

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewMonitor(c *Controller, cfg MonitorConfig, log *logger.Logger) *Monitor {
	if log == nil {
		log = logger.Nop()
	}
	return &Monitor{
		c:     c,
		cfg:   cfg.withDefaults(),
		log:   log.With("session_id", c.ID()),
		touch: make(chan struct{}, 1),
		ack:   make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Start launches the event loop. Automatic submissions outlive ctx so a
// transaction already in flight is not torn down by Stop.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started || m.stopped {
		return
	}
	m.started = true
	ctx, m.cancel = context.WithCancel(ctx)
	go m.loop(ctx)
}

// Stop cancels all timers and waits for the loop to exit. It never submits.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		<-m.done
		return
	}
	m.stopped = true
	if !m.started {
		close(m.done)
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.mu.Unlock()
	cancel()
	<-m.done
}

// Done is closed once the loop has exited.
func (m *Monitor) Done() <-chan struct{} { return m.done }

// Touch records user activity.
func (m *Monitor) Touch() {
	select {
	case m.touch <- struct{}{}:
	default:
	}
}

// Acknowledge dismisses an open inactivity warning and restarts the window.
func (m *Monitor) Acknowledge() {
	select {
	case m.ack <- struct{}{}:
	default:
	}
}

// Hidden reports the page lost visibility; an in-progress session is
// submitted at once.
func (m *Monitor) Hidden(ctx context.Context) (string, error) {
	return m.c.Submit(ctx, exam.ReasonTabSwitched)
}

// ManualSubmit submits on the user's request. Unless force is set, a
// session with unanswered or review-marked questions is not submitted and
// the pending list is returned instead.
func (m *Monitor) ManualSubmit(ctx context.Context, force bool) (string, *PreSubmitWarning, error) {
	if !force {
		if w := m.c.PreSubmitCheck(); w != nil {
			return "", w, nil
		}
	}
	id, err := m.c.Submit(ctx, exam.ReasonUserSubmitted)
	return id, nil, err
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)
	submitCtx := context.WithoutCancel(ctx)

	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	var idle, grace *time.Timer
	var idleC, graceC <-chan time.Time
	resetIdle := func() {
		if !m.cfg.InactivityEnabled {
			return
		}
		if idle == nil {
			idle = time.NewTimer(m.cfg.InactivityWindow)
		} else {
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(m.cfg.InactivityWindow)
		}
		idleC = idle.C
	}
	closeGrace := func() {
		if grace != nil {
			grace.Stop()
		}
		grace, graceC = nil, nil
	}
	defer func() {
		if idle != nil {
			idle.Stop()
		}
		closeGrace()
	}()
	resetIdle()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			if m.c.State().Terminal() {
				return
			}
			if m.c.Tick() && m.submit(submitCtx, exam.ReasonTimeUp) {
				return
			}

		case <-m.touch:
			if graceC == nil {
				resetIdle()
			}

		case <-m.ack:
			if !m.cfg.InactivityEnabled {
				continue
			}
			closeGrace()
			m.c.SetInactivityWarning(false)
			resetIdle()

		case <-idleC:
			idleC = nil
			if m.c.State() != StateInProgress {
				resetIdle()
				continue
			}
			m.log.Info("inactivity warning opened")
			m.c.SetInactivityWarning(true)
			grace = time.NewTimer(m.cfg.GraceWindow)
			graceC = grace.C

		case <-graceC:
			grace, graceC = nil, nil
			if m.submit(submitCtx, exam.ReasonInactivity) {
				return
			}
			m.c.SetInactivityWarning(false)
			resetIdle()
		}
	}
}

// submit reports whether the session is finished after the attempt.
func (m *Monitor) submit(ctx context.Context, reason exam.TerminationReason) bool {
	id, err := m.c.Submit(ctx, reason)
	switch {
	case err == nil:
		m.log.Info("session auto-submitted", "reason", string(reason), "result_id", id)
		return true
	case exam.IsCode(err, exam.CodeSessionNotActive):
		return m.c.State().Terminal()
	default:
		m.log.Warn("auto-submit failed", "reason", string(reason), "error", err)
		return m.c.State().Terminal()
	}
}
