package exam

import (
	"context"
	"strings"
	"sync"
)

type memoryStore struct {
	mu        sync.RWMutex
	tests     map[string]TestDefinition
	questions map[string][]Question
	instances map[string]InstanceSnapshot
	events    map[string]LiveEvent
}

// NewInMemoryStore returns a ContentStore backed by maps. Used by tests and
// the dev server.
func NewInMemoryStore() ContentStore {
	return &memoryStore{
		tests:     map[string]TestDefinition{},
		questions: map[string][]Question{},
		instances: map[string]InstanceSnapshot{},
		events:    map[string]LiveEvent{},
	}
}

func (m *memoryStore) PutTest(_ context.Context, def TestDefinition, questions []Question) error {
	if strings.TrimSpace(def.ID) == "" {
		return Validation("exam.put_test", "test id required")
	}
	if def.Kind == "" {
		def.Kind = KindStatic
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tests[def.ID] = def
	m.questions[def.ID] = copyQuestions(questions)
	return nil
}

func (m *memoryStore) PutInstance(_ context.Context, inst InstanceSnapshot) error {
	if strings.TrimSpace(inst.ID) == "" {
		return Validation("exam.put_instance", "instance id required")
	}
	if inst.Status == "" {
		inst.Status = InstancePending
	}
	inst.Questions = copyQuestions(inst.Questions)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instances[inst.ID] = inst
	return nil
}

func (m *memoryStore) PutLiveEvent(_ context.Context, ev LiveEvent) error {
	if strings.TrimSpace(ev.ID) == "" {
		return Validation("exam.put_live_event", "event id required")
	}
	ev.Definition.Kind = KindLive
	ev.Questions = copyQuestions(ev.Questions)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[ev.ID] = ev
	return nil
}

func (m *memoryStore) GetTestDefinition(_ context.Context, testID string) (TestDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.tests[testID]
	if !ok {
		return TestDefinition{}, NotFound("exam.get_test", "test not found: "+testID)
	}
	return d, nil
}

func (m *memoryStore) GetQuestions(_ context.Context, testID string) ([]Question, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	qs, ok := m.questions[testID]
	if !ok {
		return nil, NotFound("exam.get_questions", "test not found: "+testID)
	}
	return copyQuestions(qs), nil
}

func (m *memoryStore) GetInstanceSnapshot(_ context.Context, instanceID, userID string) (InstanceSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[instanceID]
	if !ok {
		return InstanceSnapshot{}, NewError(CodeNotYetMaterialized, "exam.get_instance", "instance not found: "+instanceID, nil)
	}
	if inst.UserID != userID {
		return InstanceSnapshot{}, NewError(CodeAccessDenied, "exam.get_instance", "instance belongs to another user", nil)
	}
	inst.Questions = copyQuestions(inst.Questions)
	return inst, nil
}

func (m *memoryStore) GetLiveEvent(_ context.Context, eventID string) (LiveEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ev, ok := m.events[eventID]
	if !ok {
		return LiveEvent{}, NotFound("exam.get_live_event", "live event not found: "+eventID)
	}
	ev.Questions = copyQuestions(ev.Questions)
	return ev, nil
}

func copyQuestions(qs []Question) []Question {
	out := make([]Question, len(qs))
	for i, q := range qs {
		q.Options = append([]string(nil), q.Options...)
		out[i] = q
	}
	return out
}
