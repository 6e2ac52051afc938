// Package gamification holds the pure rules that turn one graded submission
// into profile changes: streak, badges, XP and level.
package gamification

import (
	"time"

	"github.com/mind-engage/mindengage-examprep/internal/exam"
)

const (
	BadgeIronWill      = "iron_will"
	BadgeUnstoppable   = "unstoppable"
	BadgeMonthlyLegend = "monthly_legend"
	BadgePerfectionist = "perfectionist"
	BadgeSpeedDemon    = "speed_demon"
)

// DayLayout is the calendar-day format stored in UserProfile.LastStreakDay.
const DayLayout = "2006-01-02"

const (
	baseXP           = 50
	xpPerCorrect     = 2
	highScoreBonusXP = 25
	highScoreRatio   = 0.8
	speedDemonRatio  = 0.5
	xpPerLevel       = 100
)

type streakBadge struct {
	days         int
	badge        string
	bonusCredits int
}

var streakBadges = []streakBadge{
	{days: 7, badge: BadgeIronWill},
	{days: 15, badge: BadgeUnstoppable},
	{days: 30, badge: BadgeMonthlyLegend, bonusCredits: 1},
}

// Input is one graded submission as seen by the rule engine.
type Input struct {
	Today            time.Time // any instant on the caller's calendar day
	Score            int
	TotalQuestions   int
	TotalTimeSeconds int
	AllottedSeconds  int
}

// Outcome describes what Apply changed.
type Outcome struct {
	XPGained            int      `json:"xp_gained"`
	LeveledUp           bool     `json:"leveled_up"`
	StreakChanged       bool     `json:"streak_changed"`
	NewBadges           []string `json:"new_badges"`
	BonusCreditsGranted int      `json:"bonus_credits_granted"`
}

// Apply returns the profile after one submission. It does not touch
// UserID or Version and never mutates the input profile.
func Apply(p exam.UserProfile, in Input) (exam.UserProfile, Outcome) {
	next := p
	next.Badges = append([]string{}, p.Badges...)
	if next.Level < 1 {
		next.Level = 1
	}
	var out Outcome

	award := func(b string) bool {
		if next.HasBadge(b) {
			return false
		}
		next.Badges = append(next.Badges, b)
		out.NewBadges = append(out.NewBadges, b)
		return true
	}

	today := Day(in.Today)
	if next.LastStreakDay != today {
		if next.LastStreakDay == Day(in.Today.AddDate(0, 0, -1)) {
			next.CurrentStreak++
		} else {
			next.CurrentStreak = 1
		}
		next.LastStreakDay = today
		out.StreakChanged = true

		for _, sb := range streakBadges {
			if next.CurrentStreak == sb.days && award(sb.badge) {
				next.BonusCredits += sb.bonusCredits
				out.BonusCreditsGranted += sb.bonusCredits
			}
		}
	}

	if in.TotalQuestions > 0 && in.Score == in.TotalQuestions {
		award(BadgePerfectionist)
	}
	if in.AllottedSeconds > 0 && float64(in.TotalTimeSeconds)/float64(in.AllottedSeconds) < speedDemonRatio {
		award(BadgeSpeedDemon)
	}

	out.XPGained = XPFor(in.Score, in.TotalQuestions)
	next.XP += out.XPGained

	// one level per submission, even when XP overshoots several thresholds
	if next.XP >= next.Level*xpPerLevel {
		next.Level++
		out.LeveledUp = true
	}
	return next, out
}

// XPFor is the XP earned by a single submission.
func XPFor(score, total int) int {
	xp := baseXP + xpPerCorrect*score
	if total > 0 && float64(score)/float64(total) >= highScoreRatio {
		xp += highScoreBonusXP
	}
	return xp
}

// Day formats t as a calendar day in t's own location.
func Day(t time.Time) string { return t.Format(DayLayout) }
