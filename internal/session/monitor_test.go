package session

import (
	"context"
	"testing"
	"time"

	"github.com/mind-engage/mindengage-examprep/internal/exam"
)

func waitFor(t *testing.T, within time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", within)
}

func waitDone(t *testing.T, m *Monitor) {
	t.Helper()
	select {
	case <-m.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("monitor did not finish")
	}
}

func TestMonitorTimeUp(t *testing.T) {
	rec := &recorder{}
	c := NewController("s1", student, staticProvider(false, 1), rec)
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	m := NewMonitor(c, MonitorConfig{TickInterval: time.Millisecond}, nil)
	m.Start(context.Background())
	defer m.Stop()

	waitDone(t, m)
	calls := rec.calls()
	if len(calls) != 1 || calls[0].Reason != exam.ReasonTimeUp {
		t.Fatalf("calls: %+v", calls)
	}
	if c.State() != StateCompleted {
		t.Fatalf("state: %s", c.State())
	}
}

func TestMonitorInactivitySubmits(t *testing.T) {
	rec := &recorder{}
	c := loaded(t, rec)
	m := NewMonitor(c, MonitorConfig{
		TickInterval:      time.Hour,
		InactivityEnabled: true,
		InactivityWindow:  20 * time.Millisecond,
		GraceWindow:       40 * time.Millisecond,
	}, nil)
	m.Start(context.Background())
	defer m.Stop()

	waitFor(t, time.Second, func() bool { return c.View().InactivityWarn })
	waitDone(t, m)
	calls := rec.calls()
	if len(calls) != 1 || calls[0].Reason != exam.ReasonInactivity {
		t.Fatalf("calls: %+v", calls)
	}
	if c.View().InactivityWarn {
		t.Fatalf("warning left open after submit")
	}
}

func TestMonitorAcknowledgeResetsWindow(t *testing.T) {
	rec := &recorder{}
	c := loaded(t, rec)
	m := NewMonitor(c, MonitorConfig{
		TickInterval:      time.Hour,
		InactivityEnabled: true,
		InactivityWindow:  150 * time.Millisecond,
		GraceWindow:       150 * time.Millisecond,
	}, nil)
	m.Start(context.Background())
	defer m.Stop()

	waitFor(t, 2*time.Second, func() bool { return c.View().InactivityWarn })
	m.Acknowledge()
	waitFor(t, time.Second, func() bool { return !c.View().InactivityWarn })
	time.Sleep(50 * time.Millisecond)
	if c.State() != StateInProgress || len(rec.calls()) != 0 {
		t.Fatalf("acknowledged warning still submitted: state=%s", c.State())
	}
}

func TestMonitorActivityKeepsSessionAlive(t *testing.T) {
	rec := &recorder{}
	c := loaded(t, rec)
	m := NewMonitor(c, MonitorConfig{
		TickInterval:      time.Hour,
		InactivityEnabled: true,
		InactivityWindow:  80 * time.Millisecond,
		GraceWindow:       10 * time.Millisecond,
	}, nil)
	m.Start(context.Background())
	defer m.Stop()

	for i := 0; i < 10; i++ {
		m.Touch()
		time.Sleep(20 * time.Millisecond)
	}
	if c.View().InactivityWarn || len(rec.calls()) != 0 {
		t.Fatalf("active user was warned or submitted")
	}
}

func TestMonitorInactivityDisabled(t *testing.T) {
	rec := &recorder{}
	c := loaded(t, rec)
	m := NewMonitor(c, MonitorConfig{
		TickInterval:     time.Hour,
		InactivityWindow: 5 * time.Millisecond,
		GraceWindow:      5 * time.Millisecond,
	}, nil)
	m.Start(context.Background())

	time.Sleep(60 * time.Millisecond)
	m.Stop()
	if c.View().InactivityWarn || len(rec.calls()) != 0 || c.State() != StateInProgress {
		t.Fatalf("inactivity fired while disabled")
	}
}

func TestMonitorStopNeverSubmits(t *testing.T) {
	rec := &recorder{}
	c := loaded(t, rec)
	m := NewMonitor(c, MonitorConfig{TickInterval: time.Millisecond}, nil)
	m.Start(context.Background())
	m.Stop()
	m.Stop()

	select {
	case <-m.Done():
	default:
		t.Fatalf("Done not closed after Stop")
	}
	if len(rec.calls()) != 0 || c.State() != StateInProgress {
		t.Fatalf("Stop submitted the session")
	}
	left := c.View().RemainingSeconds
	time.Sleep(10 * time.Millisecond)
	if c.View().RemainingSeconds != left {
		t.Fatalf("countdown still running after Stop")
	}
}

func TestMonitorStopBeforeStart(t *testing.T) {
	m := NewMonitor(loaded(t, &recorder{}), MonitorConfig{}, nil)
	m.Stop()
	m.Start(context.Background())
	waitDone(t, m)
}

func TestMonitorHiddenSubmitsImmediately(t *testing.T) {
	rec := &recorder{}
	c := loaded(t, rec)
	m := NewMonitor(c, MonitorConfig{TickInterval: 5 * time.Millisecond}, nil)
	m.Start(context.Background())
	defer m.Stop()

	id, err := m.Hidden(context.Background())
	if err != nil || id != "s1" {
		t.Fatalf("Hidden: id=%q err=%v", id, err)
	}
	if _, err := m.Hidden(context.Background()); !exam.IsCode(err, exam.CodeSessionNotActive) {
		t.Fatalf("second Hidden: %v", err)
	}
	waitDone(t, m)
	if calls := rec.calls(); len(calls) != 1 || calls[0].Reason != exam.ReasonTabSwitched {
		t.Fatalf("calls: %+v", calls)
	}
}

func TestMonitorManualSubmit(t *testing.T) {
	rec := &recorder{}
	c := loaded(t, rec)
	m := NewMonitor(c, MonitorConfig{TickInterval: time.Hour}, nil)
	_ = c.SelectAnswer("q1", "a")

	id, warn, err := m.ManualSubmit(context.Background(), false)
	if err != nil || id != "" || warn == nil || warn.FirstIndex != 1 {
		t.Fatalf("unforced: id=%q warn=%+v err=%v", id, warn, err)
	}
	if len(rec.calls()) != 0 {
		t.Fatalf("unforced submit with pending questions reached the submitter")
	}

	id, warn, err = m.ManualSubmit(context.Background(), true)
	if err != nil || warn != nil || id != "s1" {
		t.Fatalf("forced: id=%q warn=%+v err=%v", id, warn, err)
	}
	if calls := rec.calls(); len(calls) != 1 || calls[0].Reason != exam.ReasonUserSubmitted {
		t.Fatalf("calls: %+v", calls)
	}
}
