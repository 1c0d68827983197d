// Package practice runs single-subject practice sessions whose difficulty
// adapts to the learner's answers.
package practice

import (
	"errors"
	"fmt"
	"time"

	"github.com/wsaxqd/home-work2-sub001/internal/content"
)

// Protocol errors.
var (
	ErrInvalidState          = errors.New("operation not valid in current session state")
	ErrSessionClosed         = errors.New("session closed")
	ErrSessionNotFound       = errors.New("session not found")
	ErrEvaluationUnavailable = errors.New("evaluation unavailable")
)

// State is the lifecycle position of a session.
type State string

const (
	StateReady          State = "ready"
	StateAwaitingAnswer State = "awaiting_answer"
	// StateEvaluating holds the pending question while one submission is
	// evaluated and recorded.
	StateEvaluating State = "evaluating"
	StateFinished   State = "finished"
)

// EndReason records why a session finished.
type EndReason string

const (
	ReasonCompleted             EndReason = "completed"
	ReasonSuperseded            EndReason = "superseded"
	ReasonNoQuestions           EndReason = "no_questions"
	ReasonEvaluationUnavailable EndReason = "evaluation_unavailable"
)

// Answer is one evaluated submission.
type Answer struct {
	QuestionID  string    `json:"question_id"`
	Answer      string    `json:"answer"`
	Correct     bool      `json:"correct"`
	Explanation string    `json:"explanation,omitempty"`
	Difficulty  int       `json:"difficulty"`
	AnswerTime  float64   `json:"answer_time"`
	AnsweredAt  time.Time `json:"answered_at"`
}

// Session is the live state of a practice session.
type Session struct {
	ID               string `json:"id"`
	UserID           string `json:"user_id"`
	Subject          string `json:"subject"`
	KnowledgePointID string `json:"knowledge_point_id"`

	State           State `json:"state"`
	Difficulty      int   `json:"difficulty"`
	StartDifficulty int   `json:"start_difficulty"`

	QuestionsAsked []string          `json:"questions_asked"`
	Answers        []Answer          `json:"answers"`
	Current        *content.Question `json:"current,omitempty"`
	AskedAt        time.Time         `json:"asked_at,omitzero"`

	CorrectCount int `json:"correct_count"`
	TotalCount   int `json:"total_count"`

	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	EndReason EndReason  `json:"end_reason,omitempty"`

	// Version guards live-store writes against concurrent updates.
	Version int64 `json:"version"`
}

// CorrectRate is the session accuracy in percent, 0 before any answer.
func (s Session) CorrectRate() float64 {
	if s.TotalCount == 0 {
		return 0
	}
	return float64(s.CorrectCount) / float64(s.TotalCount) * 100
}

// Open reports whether the session still accepts operations.
func (s Session) Open() bool {
	return s.State == StateReady || s.State == StateAwaitingAnswer || s.State == StateEvaluating
}

// Summary is emitted when a session finishes. Its (subject, difficulty,
// correct rate) seeds the next session of the same subject.
type Summary struct {
	SessionID        string    `json:"session_id"`
	UserID           string    `json:"user_id"`
	Subject          string    `json:"subject"`
	KnowledgePointID string    `json:"knowledge_point_id"`
	StartDifficulty  int       `json:"start_difficulty"`
	Difficulty       int       `json:"difficulty"`
	CorrectCount     int       `json:"correct_count"`
	TotalCount       int       `json:"total_count"`
	CorrectRate      float64   `json:"correct_rate"`
	Reason           EndReason `json:"reason"`
	StartedAt        time.Time `json:"started_at"`
	EndedAt          time.Time `json:"ended_at"`
}

// Summarize builds the summary of a finished session.
func Summarize(s Session) Summary {
	sum := Summary{
		SessionID:        s.ID,
		UserID:           s.UserID,
		Subject:          s.Subject,
		KnowledgePointID: s.KnowledgePointID,
		StartDifficulty:  s.StartDifficulty,
		Difficulty:       s.Difficulty,
		CorrectCount:     s.CorrectCount,
		TotalCount:       s.TotalCount,
		CorrectRate:      s.CorrectRate(),
		Reason:           s.EndReason,
		StartedAt:        s.StartedAt,
	}
	if s.EndedAt != nil {
		sum.EndedAt = *s.EndedAt
	}
	return sum
}

// FinishedError reports that a collaborator failure ended the session. The
// partial summary is attached.
type FinishedError struct {
	Summary Summary
	Err     error
}

func (e *FinishedError) Error() string {
	return fmt.Sprintf("session %s finished (%s): %v", e.Summary.SessionID, e.Summary.Reason, e.Err)
}

func (e *FinishedError) Unwrap() error {
	return e.Err
}

// Feedback is the result of a submitted answer.
type Feedback struct {
	Correct            bool
	Explanation        string
	PreviousDifficulty int
	Difficulty         int
	CorrectCount       int
	TotalCount         int

	// Mastery is the knowledge point's mastery after the attempt was recorded.
	Mastery int
}
