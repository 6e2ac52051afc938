// Package engine owns the live sessions of one process: it builds a
// controller and monitor per attempt, looks them up for the HTTP layer and
// sweeps the ones that are finished or abandoned.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/google/uuid"

	"github.com/mind-engage/mindengage-examprep/internal/exam"
	"github.com/mind-engage/mindengage-examprep/internal/logger"
	"github.com/mind-engage/mindengage-examprep/internal/session"
	"github.com/mind-engage/mindengage-examprep/internal/source"
)

type Config struct {
	Monitor            session.MonitorConfig
	Inactivity         map[exam.TestKind]bool
	InstanceRetryDelay time.Duration
	SweepAfter         time.Duration // idle sessions older than this are evicted
	FinishedGrace      time.Duration // finished sessions stay readable this long
	SweepEvery         time.Duration
}

// DefaultConfig enables the inactivity trigger for dynamic tests only.
func DefaultConfig() Config {
	return Config{
		Monitor: session.DefaultMonitorConfig(),
		Inactivity: map[exam.TestKind]bool{
			exam.KindStatic:  false,
			exam.KindDynamic: true,
			exam.KindLive:    false,
		},
		InstanceRetryDelay: source.DefaultRetryDelay,
		SweepAfter:         2 * time.Hour,
		FinishedGrace:      5 * time.Minute,
		SweepEvery:         time.Minute,
	}
}

// MonitorConfig is the trigger configuration for a session of kind k.
func (c Config) MonitorConfig(k exam.TestKind) session.MonitorConfig {
	mc := c.Monitor
	mc.InactivityEnabled = c.Inactivity[k]
	return mc
}

// Session is one registered attempt.
type Session struct {
	Kind     exam.TestKind
	SourceID string

	ctrl *session.Controller
	mon  *session.Monitor

	mu       sync.Mutex
	lastSeen time.Time
	finished time.Time // first sweep that saw the session terminal
}

func (s *Session) ID() string                      { return s.ctrl.ID() }
func (s *Session) Controller() *session.Controller { return s.ctrl }
func (s *Session) Monitor() *session.Monitor       { return s.mon }

func (s *Session) seen(t time.Time) {
	s.mu.Lock()
	s.lastSeen = t
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *Session) finishedSince(now time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished.IsZero() {
		s.finished = now
	}
	return s.finished
}

type Option func(*Manager)

func WithNow(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

func WithLogger(l *logger.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// Manager is the session registry.
type Manager struct {
	content   exam.ContentStore
	submitter session.Submitter
	cfg       Config
	log       *logger.Logger
	now       func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session

	sched *gocron.Scheduler
}

func New(content exam.ContentStore, submitter session.Submitter, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		content:   content,
		submitter: submitter,
		cfg:       cfg,
		log:       logger.Nop(),
		now:       time.Now,
		sessions:  map[string]*Session{},
	}
	for _, o := range opts {
		o(m)
	}
	m.log = m.log.With("component", "engine")
	return m
}

func (m *Manager) provider(kind exam.TestKind, id string) (source.Provider, error) {
	switch kind {
	case exam.KindStatic, "":
		return source.NewFixed(m.content, id), nil
	case exam.KindDynamic:
		return source.NewInstance(m.content, id, m.cfg.InstanceRetryDelay), nil
	case exam.KindLive:
		return source.NewLiveEvent(m.content, id), nil
	}
	return nil, exam.Validation("engine.start", "unknown test kind "+string(kind))
}

// Start loads a new session for identity and arms its triggers. A session
// that fails to load is not registered.
func (m *Manager) Start(ctx context.Context, identity exam.Identity, kind exam.TestKind, sourceID string) (*Session, error) {
	if identity.Anonymous() {
		return nil, exam.ErrAuthRequired
	}
	if sourceID == "" {
		return nil, exam.Validation("engine.start", "source id required")
	}
	p, err := m.provider(kind, sourceID)
	if err != nil {
		return nil, err
	}
	if kind == "" {
		kind = exam.KindStatic
	}

	id := uuid.NewString()
	ctrl := session.NewController(id, identity, p, m.submitter, session.WithClock(m.now))
	if err := ctrl.Load(ctx); err != nil {
		m.log.Info("session load failed", "session_id", id, "user_id", identity.ID, "kind", string(kind), "error", err)
		return nil, err
	}

	s := &Session{
		Kind:     kind,
		SourceID: sourceID,
		ctrl:     ctrl,
		mon:      session.NewMonitor(ctrl, m.cfg.MonitorConfig(kind), m.log),
		lastSeen: m.now(),
	}
	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	// the monitor outlives the request that started it
	s.mon.Start(context.Background())
	m.log.Info("session started", "session_id", id, "user_id", identity.ID, "kind", string(kind), "source_id", sourceID)
	return s, nil
}

func (m *Manager) find(sessionID string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, exam.NotFound("engine.get", "session "+sessionID)
	}
	return s, nil
}

// Get returns the caller's session. Sessions belong to the identity that
// started them.
func (m *Manager) Get(sessionID string, identity exam.Identity) (*Session, error) {
	if identity.Anonymous() {
		return nil, exam.ErrAuthRequired
	}
	s, err := m.find(sessionID)
	if err != nil {
		return nil, err
	}
	if s.ctrl.Identity().ID != identity.ID {
		return nil, exam.NewError(exam.CodeAccessDenied, "engine.get", "session belongs to another user", nil)
	}
	s.seen(m.now())
	return s, nil
}

// Close tears a session down. Its timers stop and nothing is submitted.
func (m *Manager) Close(sessionID string, identity exam.Identity) error {
	s, err := m.Get(sessionID, identity)
	if err != nil {
		return err
	}
	m.evict(s, "closed")
	return nil
}

// Oversee returns any session without the ownership check. Proctor reads
// do not count as activity.
func (m *Manager) Oversee(sessionID string) (*Session, error) {
	return m.find(sessionID)
}

// Terminate tears down any session on a proctor's behalf. Like Close, it
// never submits.
func (m *Manager) Terminate(sessionID string) error {
	s, err := m.find(sessionID)
	if err != nil {
		return err
	}
	m.evict(s, "terminated")
	return nil
}

func (m *Manager) evict(s *Session, why string) {
	m.mu.Lock()
	delete(m.sessions, s.ID())
	m.mu.Unlock()
	s.mon.Stop()
	m.log.Debug("session evicted", "session_id", s.ID(), "why", why, "state", string(s.ctrl.State()))
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep evicts sessions finished for longer than FinishedGrace and
// sessions nobody has touched for SweepAfter. It returns how many were
// removed.
func (m *Manager) Sweep() int {
	now := m.now()
	m.mu.RLock()
	var victims []*Session
	for _, s := range m.sessions {
		if s.ctrl.State().Terminal() {
			if now.Sub(s.finishedSince(now)) >= m.cfg.FinishedGrace {
				victims = append(victims, s)
			}
			continue
		}
		if m.cfg.SweepAfter > 0 && now.Sub(s.idleSince()) > m.cfg.SweepAfter {
			victims = append(victims, s)
		}
	}
	m.mu.RUnlock()

	for _, s := range victims {
		why := "idle"
		if s.ctrl.State().Terminal() {
			why = "finished"
		}
		m.evict(s, why)
	}
	if len(victims) > 0 {
		m.log.Info("sessions swept", "evicted", len(victims), "live", m.Len())
	}
	return len(victims)
}

// Run starts the periodic sweeper.
func (m *Manager) Run() error {
	every := m.cfg.SweepEvery
	if every <= 0 {
		every = time.Minute
	}
	m.sched = gocron.NewScheduler(time.UTC)
	if _, err := m.sched.Every(every).Do(func() { m.Sweep() }); err != nil {
		return err
	}
	m.sched.StartAsync()
	return nil
}

// Shutdown stops the sweeper and every monitor. In-flight submissions are
// not cancelled.
func (m *Manager) Shutdown() {
	if m.sched != nil {
		m.sched.Stop()
	}
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		all = append(all, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	for _, s := range all {
		s.mon.Stop()
	}
}
