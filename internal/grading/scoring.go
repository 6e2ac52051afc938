package grading

import (
	"time"

	"github.com/mind-engage/mindengage-examprep/internal/exam"
)

// suspiciousRatio: a run finished in under 15% of the allotted time is
// flagged for review.
const suspiciousRatio = 0.15

// Scored is the deterministic part of grading: no clock, no storage.
type Scored struct {
	Answers        []exam.AnswerRecord
	Score          int
	Incorrect      int
	TotalQuestions int
	TotalTime      int // seconds
	Flagged        bool
}

// Score grades answers against snap in snapshot order. Unanswered
// questions are recorded with a nil answer and keep their time.
func Score(snap exam.QuestionSnapshot, answers map[string]string, spent map[string]time.Duration, allottedSeconds int) Scored {
	out := Scored{
		Answers:        make([]exam.AnswerRecord, 0, snap.Len()),
		TotalQuestions: snap.Len(),
	}
	for i := 0; i < snap.Len(); i++ {
		q := snap.Get(i)
		rec := exam.AnswerRecord{QuestionID: q.ID, TimeTaken: seconds(spent[q.ID])}
		if a, ok := answers[q.ID]; ok {
			a := a
			rec.Answer = &a
			if correct(q, a) {
				out.Score++
			}
		}
		out.TotalTime += rec.TimeTaken
		out.Answers = append(out.Answers, rec)
	}
	out.Incorrect = out.TotalQuestions - out.Score
	out.Flagged = Suspicious(out.TotalTime, allottedSeconds)
	return out
}

// Suspicious reports a completion faster than 15% of the allotted time.
func Suspicious(totalSeconds, allottedSeconds int) bool {
	return allottedSeconds > 0 && float64(totalSeconds) < suspiciousRatio*float64(allottedSeconds)
}

func correct(q exam.Question, answer string) bool {
	return q.CorrectAnswer != "" && answer == q.CorrectAnswer
}

func seconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(d.Round(time.Second) / time.Second)
}
