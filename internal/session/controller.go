// Package session runs one timed test attempt: the Controller owns the
// in-memory state machine and the Monitor feeds it timer and visibility
// events.
package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mind-engage/mindengage-examprep/internal/exam"
	"github.com/mind-engage/mindengage-examprep/internal/source"
)

type State string

const (
	StateLoading      State = "loading"
	StateInProgress   State = "in_progress"
	StateSubmitting   State = "submitting"
	StateCompleted    State = "completed"
	StateError        State = "error"
	StateAccessDenied State = "access_denied"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateError || s == StateAccessDenied
}

// Payload is the frozen input of one grading transaction.
type Payload struct {
	SessionID  string
	Identity   exam.Identity
	Definition exam.TestDefinition
	Snapshot   exam.QuestionSnapshot
	Answers    map[string]string
	TimeSpent  map[string]time.Duration
	Reason     exam.TerminationReason
	InstanceID string
	EventID    string
}

// Submitter persists a payload and returns the result id.
type Submitter interface {
	SubmitSession(ctx context.Context, p Payload) (string, error)
}

type SubmitterFunc func(ctx context.Context, p Payload) (string, error)

func (f SubmitterFunc) SubmitSession(ctx context.Context, p Payload) (string, error) {
	return f(ctx, p)
}

// PreSubmitWarning lists what a manual submit would leave pending.
type PreSubmitWarning struct {
	Unanswered []string `json:"unanswered"`
	Review     []string `json:"review"`
	FirstIndex int      `json:"first_index"`
}

type Option func(*Controller)

// WithClock replaces time.Now for elapsed-time accounting.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

type Controller struct {
	id        string
	identity  exam.Identity
	provider  source.Provider
	submitter Submitter
	now       func() time.Time

	mu         sync.Mutex
	state      State
	def        exam.TestDefinition
	snap       exam.QuestionSnapshot
	instanceID string
	eventID    string

	current   int
	answers   map[string]string
	timeSpent map[string]time.Duration
	review    map[string]bool
	started   time.Time // when the current question was opened
	remaining int
	warning   bool

	reason   exam.TerminationReason
	resultID string
	lastErr  error
}

func NewController(id string, identity exam.Identity, provider source.Provider, submitter Submitter, opts ...Option) *Controller {
	c := &Controller{
		id:        id,
		identity:  identity,
		provider:  provider,
		submitter: submitter,
		now:       time.Now,
		state:     StateLoading,
		answers:   map[string]string{},
		timeSpent: map[string]time.Duration{},
		review:    map[string]bool{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Controller) ID() string { return c.id }

func (c *Controller) Identity() exam.Identity { return c.identity }

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Load resolves the question source and checks entitlement.
func (c *Controller) Load(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateLoading {
		c.mu.Unlock()
		return exam.NewError(exam.CodeSessionNotActive, "session.load", "already loaded", nil)
	}
	c.mu.Unlock()

	if c.identity.Anonymous() {
		return exam.ErrAuthRequired
	}
	res, err := c.provider.Resolve(ctx, c.identity)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		if exam.IsCode(err, exam.CodeAccessDenied) {
			c.state = StateAccessDenied
		} else {
			c.state = StateError
			if !exam.IsCode(err, exam.CodeContentNotFound) {
				err = exam.Wrap(exam.CodeContentNotFound, "session.load", err)
			}
		}
		c.lastErr = err
		return err
	}
	if res.Definition.Premium && !c.identity.Premium {
		c.state = StateAccessDenied
		c.lastErr = exam.NewError(exam.CodeAccessDenied, "session.load", "premium test", nil)
		return c.lastErr
	}
	c.def = res.Definition
	c.snap = res.Snapshot
	c.instanceID = res.InstanceID
	c.eventID = res.EventID
	c.remaining = res.Definition.AllottedSeconds()
	c.current = 0
	c.started = c.now()
	c.state = StateInProgress
	return nil
}

func (c *Controller) requireInProgress(op string) error {
	if c.state != StateInProgress {
		return exam.NewError(exam.CodeSessionNotActive, op, "session is "+string(c.state), nil)
	}
	return nil
}

// SelectAnswer toggles option on question qid: choosing the selected
// option again clears it.
func (c *Controller) SelectAnswer(qid, option string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireInProgress("session.select_answer"); err != nil {
		return err
	}
	i := c.snap.Index(qid)
	if i < 0 {
		return exam.Validation("session.select_answer", "unknown question "+qid)
	}
	if !c.snap.Get(i).HasOption(option) {
		return exam.Validation("session.select_answer", "unknown option for "+qid)
	}
	if c.answers[qid] == option {
		delete(c.answers, qid)
	} else {
		c.answers[qid] = option
	}
	return nil
}

func (c *Controller) ToggleReview(qid string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireInProgress("session.toggle_review"); err != nil {
		return err
	}
	if c.snap.Index(qid) < 0 {
		return exam.Validation("session.toggle_review", "unknown question "+qid)
	}
	if c.review[qid] {
		delete(c.review, qid)
	} else {
		c.review[qid] = true
	}
	return nil
}

// Navigate moves to question i after crediting the time spent on the
// question being left.
func (c *Controller) Navigate(i int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.navigateLocked(i)
}

func (c *Controller) navigateLocked(i int) error {
	if err := c.requireInProgress("session.navigate"); err != nil {
		return err
	}
	if i < 0 || i >= c.snap.Len() {
		return exam.Validation("session.navigate", "index out of range")
	}
	c.flushLocked()
	c.current = i
	return nil
}

func (c *Controller) Next() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.navigateLocked(c.current + 1)
}

func (c *Controller) Prev() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.navigateLocked(c.current - 1)
}

// flushLocked credits elapsed time to the open question and restarts its clock.
func (c *Controller) flushLocked() {
	now := c.now()
	if c.snap.Len() > 0 {
		if d := now.Sub(c.started); d > 0 {
			c.timeSpent[c.snap.Get(c.current).ID] += d
		}
	}
	c.started = now
}

// PreSubmitCheck returns nil when every question is answered and none is
// marked for review.
func (c *Controller) PreSubmitCheck() *PreSubmitWarning {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.preSubmitLocked()
}

func (c *Controller) preSubmitLocked() *PreSubmitWarning {
	w := &PreSubmitWarning{FirstIndex: -1}
	for i := 0; i < c.snap.Len(); i++ {
		qid := c.snap.Get(i).ID
		_, answered := c.answers[qid]
		if !answered {
			w.Unanswered = append(w.Unanswered, qid)
		}
		if c.review[qid] {
			w.Review = append(w.Review, qid)
		}
		if (!answered || c.review[qid]) && w.FirstIndex < 0 {
			w.FirstIndex = i
		}
	}
	if w.FirstIndex < 0 {
		return nil
	}
	return w
}

// JumpToFirstPending navigates to the first unanswered or review-marked
// question and returns its index, or -1 when nothing is pending.
func (c *Controller) JumpToFirstPending() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireInProgress("session.jump"); err != nil {
		return -1, err
	}
	w := c.preSubmitLocked()
	if w == nil {
		return -1, nil
	}
	return w.FirstIndex, c.navigateLocked(w.FirstIndex)
}

// Tick consumes one second of the budget and reports whether it is spent.
// It is a no-op outside in_progress.
func (c *Controller) Tick() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateInProgress {
		return false
	}
	if c.remaining > 0 {
		c.remaining--
	}
	return c.remaining == 0
}

func (c *Controller) SetInactivityWarning(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on && c.state != StateInProgress {
		return
	}
	c.warning = on
}

// Submit is the single termination entry point. Only the first caller
// that finds the session in progress runs the submitter; everyone else
// gets ErrSessionNotActive. A failed submission puts the session back in
// progress with all answers intact, unless the content itself is gone.
func (c *Controller) Submit(ctx context.Context, reason exam.TerminationReason) (string, error) {
	if !reason.Valid() {
		return "", exam.Validation("session.submit", "unknown termination reason "+string(reason))
	}
	c.mu.Lock()
	if err := c.requireInProgress("session.submit"); err != nil {
		c.mu.Unlock()
		return "", err
	}
	c.flushLocked()
	c.state = StateSubmitting
	c.reason = reason
	c.warning = false
	p := c.payloadLocked()
	c.mu.Unlock()

	id, err := c.submitter.SubmitSession(ctx, p)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil && exam.IsCode(err, exam.CodeContentNotFound) {
		// the content was closed underneath the session; retrying cannot help
		c.state = StateError
		c.lastErr = err
		return "", err
	}
	if err != nil {
		c.state = StateInProgress
		c.reason = ""
		c.started = c.now()
		if !exam.IsCode(err, exam.CodeSubmissionFailure) {
			err = exam.Wrap(exam.CodeSubmissionFailure, "session.submit", err)
		}
		c.lastErr = err
		return "", err
	}
	c.state = StateCompleted
	c.resultID = id
	c.lastErr = nil
	return id, nil
}

func (c *Controller) payloadLocked() Payload {
	answers := make(map[string]string, len(c.answers))
	for k, v := range c.answers {
		answers[k] = v
	}
	spent := make(map[string]time.Duration, len(c.timeSpent))
	for k, v := range c.timeSpent {
		spent[k] = v
	}
	return Payload{
		SessionID:  c.id,
		Identity:   c.identity,
		Definition: c.def,
		Snapshot:   c.snap,
		Answers:    answers,
		TimeSpent:  spent,
		Reason:     c.reason,
		InstanceID: c.instanceID,
		EventID:    c.eventID,
	}
}

// QuestionView is a question as shown to the test taker.
type QuestionView struct {
	ID      string   `json:"id"`
	Prompt  string   `json:"prompt"`
	Options []string `json:"options"`
	Topic   string   `json:"topic,omitempty"`
}

// View is a read-only snapshot for rendering.
type View struct {
	SessionID        string                 `json:"session_id"`
	State            State                  `json:"state"`
	TestID           string                 `json:"test_id,omitempty"`
	Title            string                 `json:"title,omitempty"`
	Total            int                    `json:"total"`
	Current          int                    `json:"current"`
	Question         *QuestionView          `json:"question,omitempty"`
	Answers          map[string]string      `json:"answers"`
	Review           []string               `json:"review"`
	TimeSpent        map[string]int         `json:"time_spent"` // whole seconds
	RemainingSeconds int                    `json:"remaining_seconds"`
	InactivityWarn   bool                   `json:"inactivity_warning"`
	Reason           exam.TerminationReason `json:"termination_reason,omitempty"`
	ResultID         string                 `json:"result_id,omitempty"`
	Error            string                 `json:"error,omitempty"`
}

func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := View{
		SessionID:        c.id,
		State:            c.state,
		TestID:           c.def.ID,
		Title:            c.def.Title,
		Total:            c.snap.Len(),
		Current:          c.current,
		Answers:          make(map[string]string, len(c.answers)),
		Review:           make([]string, 0, len(c.review)),
		TimeSpent:        make(map[string]int, len(c.timeSpent)),
		RemainingSeconds: c.remaining,
		InactivityWarn:   c.warning,
		Reason:           c.reason,
		ResultID:         c.resultID,
	}
	for k, a := range c.answers {
		v.Answers[k] = a
	}
	for k := range c.review {
		v.Review = append(v.Review, k)
	}
	sort.Strings(v.Review)
	for k, d := range c.timeSpent {
		v.TimeSpent[k] = Seconds(d)
	}
	if c.snap.Len() > 0 && !c.state.Terminal() {
		q := c.snap.Get(c.current)
		v.Question = &QuestionView{ID: q.ID, Prompt: q.Prompt, Options: q.Options, Topic: q.Topic}
	}
	if c.lastErr != nil {
		v.Error = c.lastErr.Error()
	}
	return v
}

// Seconds rounds a duration to whole seconds.
func Seconds(d time.Duration) int {
	return int(d.Round(time.Second) / time.Second)
}
