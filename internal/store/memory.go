package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mind-engage/mindengage-examprep/internal/exam"
)

// MemoryStore is an in-process Updater with the same optimistic semantics as
// SQLStore: a body runs against committed state, its writes are staged, and
// commit fails with a conflict when a profile it read moved underneath it.
type MemoryStore struct {
	mu sync.RWMutex

	results     map[Collection]map[string]exam.ResultDocument
	profiles    map[string]exam.UserProfile
	analytics   map[string]*exam.AnalyticsCounter
	takenCounts map[Collection]map[string]int64
	instances   map[string]string // instanceID -> resultID
	completions []exam.LibraryCompletion
	quotas      map[string]int64

	policy RetryPolicy
	hooks  Hooks

	// BeforeCommit, when set, runs after the body and before the commit of
	// every attempt; a non-nil error aborts that attempt.
	BeforeCommit func(attempt int) error
}

func NewMemoryStore(policy RetryPolicy, hooks Hooks) *MemoryStore {
	if hooks == nil {
		hooks = noopHooks{}
	}
	return &MemoryStore{
		results:     map[Collection]map[string]exam.ResultDocument{},
		profiles:    map[string]exam.UserProfile{},
		analytics:   map[string]*exam.AnalyticsCounter{},
		takenCounts: map[Collection]map[string]int64{},
		instances:   map[string]string{},
		quotas:      map[string]int64{},
		policy:      policy,
		hooks:       hooks,
	}
}

func (m *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	attempt := 0
	return runWithRetry(ctx, "memory.tx", m.policy, m.hooks, func() error {
		attempt++
		tx := &memTx{m: m, profileWrites: map[string]exam.UserProfile{}}
		if err := fn(tx); err != nil {
			return err
		}
		if m.BeforeCommit != nil {
			if err := m.BeforeCommit(attempt); err != nil {
				return err
			}
		}
		return m.commit(tx)
	})
}

func (m *MemoryStore) commit(tx *memTx) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for uid, p := range tx.profileWrites {
		if m.profiles[uid].Version != p.Version {
			return ConflictError("memory.commit", "profile version moved for "+uid)
		}
	}
	for _, r := range tx.results {
		if _, ok := m.results[r.c][r.doc.ID]; ok {
			return ConflictError("memory.commit", "result already exists: "+r.doc.ID)
		}
	}
	for iid, rid := range tx.instances {
		if prev, ok := m.instances[iid]; ok && prev != rid {
			return ConflictError("memory.commit", "instance closed meanwhile: "+iid)
		}
	}

	for uid, p := range tx.profileWrites {
		p.Version++
		p.Badges = append([]string{}, p.Badges...)
		m.profiles[uid] = p
	}
	for _, r := range tx.results {
		if m.results[r.c] == nil {
			m.results[r.c] = map[string]exam.ResultDocument{}
		}
		m.results[r.c][r.doc.ID] = r.doc
	}
	for _, a := range tx.analytics {
		ac := m.analytics[a[0]]
		if ac == nil {
			ac = &exam.AnalyticsCounter{TestID: a[0]}
			m.analytics[a[0]] = ac
		}
		ac.TakenCount++
		if !contains(ac.UniqueTakers, a[1]) {
			ac.UniqueTakers = append(ac.UniqueTakers, a[1])
		}
	}
	for _, tc := range tx.taken {
		if m.takenCounts[tc.c] == nil {
			m.takenCounts[tc.c] = map[string]int64{}
		}
		m.takenCounts[tc.c][tc.id]++
	}
	for iid, rid := range tx.instances {
		m.instances[iid] = rid
	}
	m.completions = append(m.completions, tx.completions...)
	for _, k := range tx.quotas {
		m.quotas[k]++
	}
	return nil
}

type stagedResult struct {
	c   Collection
	doc exam.ResultDocument
}

type stagedCount struct {
	c  Collection
	id string
}

type memTx struct {
	m *MemoryStore

	results       []stagedResult
	profileWrites map[string]exam.UserProfile
	analytics     [][2]string
	taken         []stagedCount
	instances     map[string]string
	completions   []exam.LibraryCompletion
	quotas        []string
}

func (t *memTx) ResultExists(_ context.Context, c Collection, id string) (bool, error) {
	if !c.resultCollection() {
		return false, exam.Validation("memory.result_exists", fmt.Sprintf("unknown collection %q", c))
	}
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	_, ok := t.m.results[c][id]
	return ok, nil
}

func (t *memTx) InsertResult(_ context.Context, c Collection, doc exam.ResultDocument) error {
	if !c.resultCollection() {
		return exam.Validation("memory.insert_result", fmt.Sprintf("unknown collection %q", c))
	}
	doc.Answers = append([]exam.AnswerRecord(nil), doc.Answers...)
	t.results = append(t.results, stagedResult{c: c, doc: doc})
	return nil
}

func (t *memTx) GetProfile(_ context.Context, userID string) (exam.UserProfile, error) {
	if p, ok := t.profileWrites[userID]; ok {
		return p, nil
	}
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	p, ok := t.m.profiles[userID]
	if !ok {
		return exam.NewUserProfile(userID), nil
	}
	p.Badges = append([]string{}, p.Badges...)
	return p, nil
}

func (t *memTx) PutProfile(_ context.Context, p exam.UserProfile) error {
	if p.UserID == "" {
		return exam.Validation("memory.put_profile", "user id required")
	}
	t.profileWrites[p.UserID] = p
	return nil
}

func (t *memTx) UpsertAnalytics(_ context.Context, testID, userID string) error {
	t.analytics = append(t.analytics, [2]string{testID, userID})
	return nil
}

func (t *memTx) IncrementTakenCount(_ context.Context, c Collection, id string) error {
	if !c.countedCollection() {
		return exam.Validation("memory.increment_taken", fmt.Sprintf("unknown collection %q", c))
	}
	t.taken = append(t.taken, stagedCount{c: c, id: id})
	return nil
}

func (t *memTx) MarkInstanceCompleted(_ context.Context, instanceID, resultID string) error {
	t.m.mu.RLock()
	prev, closed := t.m.instances[instanceID]
	t.m.mu.RUnlock()
	if closed && prev != resultID {
		return exam.InstanceClosed("memory.mark_instance_completed", instanceID)
	}
	if t.instances == nil {
		t.instances = map[string]string{}
	}
	t.instances[instanceID] = resultID
	return nil
}

func (t *memTx) AppendLibraryCompletion(_ context.Context, lc exam.LibraryCompletion) error {
	t.completions = append(t.completions, lc)
	return nil
}

func (t *memTx) IncrementMonthlyQuota(_ context.Context, libraryID, userID, yearMonth string) error {
	t.quotas = append(t.quotas, quotaKey(libraryID, userID, yearMonth))
	return nil
}

// --- read side, used by tests and the dev server ---

func (m *MemoryStore) Result(c Collection, id string) (exam.ResultDocument, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.results[c][id]
	return r, ok
}

func (m *MemoryStore) ResultCount(c Collection) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.results[c])
}

func (m *MemoryStore) Profile(userID string) (exam.UserProfile, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[userID]
	return p, ok
}

// SeedProfile stores p as committed state (Version forced to at least 1).
func (m *MemoryStore) SeedProfile(p exam.UserProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.Version < 1 {
		p.Version = 1
	}
	m.profiles[p.UserID] = p
}

func (m *MemoryStore) Analytics(testID string) (exam.AnalyticsCounter, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ac, ok := m.analytics[testID]
	if !ok {
		return exam.AnalyticsCounter{}, false
	}
	out := *ac
	out.UniqueTakers = append([]string(nil), ac.UniqueTakers...)
	sort.Strings(out.UniqueTakers)
	return out, true
}

func (m *MemoryStore) TakenCount(c Collection, id string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.takenCounts[c][id]
}

func (m *MemoryStore) InstanceResult(instanceID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.instances[instanceID]
	return r, ok
}

func (m *MemoryStore) LibraryCompletions() []exam.LibraryCompletion {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]exam.LibraryCompletion(nil), m.completions...)
}

func (m *MemoryStore) MonthlyQuota(libraryID, userID, yearMonth string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.quotas[quotaKey(libraryID, userID, yearMonth)]
}

func quotaKey(libraryID, userID, yearMonth string) string {
	return libraryID + "|" + userID + "|" + yearMonth
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}
