package exam

import "time"

type TestKind string

const (
	KindStatic  TestKind = "static"
	KindDynamic TestKind = "dynamic"
	KindLive    TestKind = "live"
)

// TestDefinition is immutable once published.
type TestDefinition struct {
	ID               string   `json:"id"`
	Title            string   `json:"title"`
	EstimatedMinutes int      `json:"estimated_minutes"`
	Premium          bool     `json:"premium"`
	CreatorID        string   `json:"creator_id,omitempty"`
	Kind             TestKind `json:"kind"`
	TakenCount       int64    `json:"taken_count"`
}

// AllottedSeconds is the full time budget of one attempt.
func (d TestDefinition) AllottedSeconds() int { return d.EstimatedMinutes * 60 }

type Question struct {
	ID            string   `json:"id"`
	Prompt        string   `json:"prompt"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correct_answer,omitempty"`
	Topic         string   `json:"topic,omitempty"`
	Explanation   string   `json:"explanation,omitempty"`
}

// HasOption reports whether opt is one of the question's options.
func (q Question) HasOption(opt string) bool {
	for _, o := range q.Options {
		if o == opt {
			return true
		}
	}
	return false
}

// QuestionSnapshot is the frozen, ordered question set of one session.
// Callers get copies; the underlying slice is never handed out.
type QuestionSnapshot struct {
	questions []Question
	index     map[string]int
}

func NewQuestionSnapshot(qs []Question) QuestionSnapshot {
	cp := make([]Question, len(qs))
	idx := make(map[string]int, len(qs))
	for i, q := range qs {
		q.Options = append([]string(nil), q.Options...)
		cp[i] = q
		idx[q.ID] = i
	}
	return QuestionSnapshot{questions: cp, index: idx}
}

func (s QuestionSnapshot) Len() int { return len(s.questions) }

func (s QuestionSnapshot) Get(i int) Question {
	q := s.questions[i]
	q.Options = append([]string(nil), q.Options...)
	return q
}

// Index returns the position of question id, or -1.
func (s QuestionSnapshot) Index(id string) int {
	if i, ok := s.index[id]; ok {
		return i
	}
	return -1
}

func (s QuestionSnapshot) Questions() []Question {
	out := make([]Question, len(s.questions))
	for i := range s.questions {
		out[i] = s.Get(i)
	}
	return out
}

type InstanceStatus string

const (
	InstancePending   InstanceStatus = "pending"
	InstanceCompleted InstanceStatus = "completed"
)

// InstanceSnapshot is a pre-drawn question set bound to one dynamic-test attempt.
type InstanceSnapshot struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	TestID    string         `json:"test_id"`
	Questions []Question     `json:"questions"`
	Status    InstanceStatus `json:"status"`
	ResultID  string         `json:"result_id,omitempty"`
	CreatedAt int64          `json:"created_at"`
}

type LiveEvent struct {
	ID         string         `json:"id"`
	Definition TestDefinition `json:"definition"`
	Questions  []Question     `json:"questions"`
}

type TerminationReason string

const (
	ReasonTimeUp        TerminationReason = "time_up"
	ReasonTabSwitched   TerminationReason = "tab_switched"
	ReasonInactivity    TerminationReason = "inactivity"
	ReasonUserSubmitted TerminationReason = "user_submitted"
)

func (r TerminationReason) Valid() bool {
	switch r {
	case ReasonTimeUp, ReasonTabSwitched, ReasonInactivity, ReasonUserSubmitted:
		return true
	}
	return false
}

type AnswerRecord struct {
	QuestionID string  `json:"question_id"`
	Answer     *string `json:"answer"` // nil when unanswered
	TimeTaken  int     `json:"time_taken"`
}

// ResultDocument is written once per completed session and never mutated.
type ResultDocument struct {
	ID               string            `json:"id"`
	SessionID        string            `json:"session_id"`
	UserID           string            `json:"user_id"`
	TestID           string            `json:"test_id"`
	InstanceID       string            `json:"instance_id,omitempty"`
	EventID          string            `json:"event_id,omitempty"`
	Answers          []AnswerRecord    `json:"answers"`
	Score            int               `json:"score"`
	Incorrect        int               `json:"incorrect"`
	TotalQuestions   int               `json:"total_questions"`
	TotalTime        int               `json:"total_time"`
	Reason           TerminationReason `json:"termination_reason"`
	FlaggedForReview bool              `json:"flagged_for_review"`
	CompletedAt      time.Time         `json:"completed_at"`
}

// UserProfile is the mutable gamification aggregate. Version is the
// optimistic-lock counter; 0 means the profile does not exist yet.
type UserProfile struct {
	UserID        string   `json:"user_id"`
	XP            int      `json:"xp"`
	Level         int      `json:"level"`
	CurrentStreak int      `json:"current_streak"`
	LastStreakDay string   `json:"last_streak_day,omitempty"` // YYYY-MM-DD
	Badges        []string `json:"badges"`
	BonusCredits  int      `json:"bonus_credits"`
	Version       int      `json:"version"`
}

// NewUserProfile is the starting state of a user who never submitted.
func NewUserProfile(userID string) UserProfile {
	return UserProfile{UserID: userID, Level: 1, Badges: []string{}}
}

func (p UserProfile) HasBadge(b string) bool {
	for _, x := range p.Badges {
		if x == b {
			return true
		}
	}
	return false
}

type AnalyticsCounter struct {
	TestID       string   `json:"test_id"`
	TakenCount   int64    `json:"taken_count"`
	UniqueTakers []string `json:"unique_takers"`
}

type MonthlyQuotaCounter struct {
	LibraryID string `json:"library_id"`
	UserID    string `json:"user_id"`
	YearMonth string `json:"year_month"` // YYYY-MM
	Count     int64  `json:"count"`
}

type LibraryCompletion struct {
	LibraryID      string    `json:"library_id"`
	UserID         string    `json:"user_id"`
	TestID         string    `json:"test_id"`
	ResultID       string    `json:"result_id"`
	Score          int       `json:"score"`
	TotalQuestions int       `json:"total_questions"`
	CompletedAt    time.Time `json:"completed_at"`
}

// Identity is what the auth collaborator knows about the caller.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Premium     bool   `json:"premium"`
	LibraryID   string `json:"library_id,omitempty"`
}

func (i Identity) Anonymous() bool { return i.ID == "" }
