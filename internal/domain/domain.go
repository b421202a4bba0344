package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// QuestionType is the closed set of supported question kinds.
type QuestionType int

const (
	Single QuestionType = iota + 1
	Multiple
	Judgement
)

var questionTypeNames = map[QuestionType]string{
	Single:    "single",
	Multiple:  "multiple",
	Judgement: "judgement",
}

func (t QuestionType) String() string {
	if s, ok := questionTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("QuestionType(%d)", int(t))
}

func (t QuestionType) MarshalJSON() ([]byte, error) {
	s, ok := questionTypeNames[t]
	if !ok {
		return nil, fmt.Errorf("marshal question type: unknown type %d", int(t))
	}
	return json.Marshal(s)
}

func (t *QuestionType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	for qt, name := range questionTypeNames {
		if name == s {
			*t = qt
			return nil
		}
	}
	return fmt.Errorf("unmarshal question type: unknown type %q", s)
}

// Answer is one option of a question. Correct must never reach players while
// the question's answer window is still open.
type Answer struct {
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// Question is a single timed question within a game. The slice position of a
// question inside Game.Questions defines its play order.
type Question struct {
	ID       int          `json:"id"`
	Text     string       `json:"text"`
	Type     QuestionType `json:"type"`
	Answers  []Answer     `json:"answers"`
	Duration int          `json:"duration"` // seconds
	Points   int          `json:"points"`
	Media    string       `json:"media,omitempty"`
}

// CorrectIndices returns the indices of all correct answers, in option order.
func (q Question) CorrectIndices() []int {
	var out []int
	for i, a := range q.Answers {
		if a.Correct {
			out = append(out, i)
		}
	}
	return out
}

// Validate checks the per-type cardinality invariants of a question.
func (q Question) Validate() error {
	if q.Duration <= 0 {
		return fmt.Errorf("question %d: duration must be positive, got %d", q.ID, q.Duration)
	}
	if q.Points <= 0 {
		return fmt.Errorf("question %d: points must be positive, got %d", q.ID, q.Points)
	}

	correct := len(q.CorrectIndices())
	switch q.Type {
	case Single:
		if correct != 1 {
			return fmt.Errorf("question %d: single choice requires exactly one correct answer, got %d", q.ID, correct)
		}
	case Multiple:
		if correct < 2 {
			return fmt.Errorf("question %d: multiple choice requires at least two correct answers, got %d", q.ID, correct)
		}
	case Judgement:
		if len(q.Answers) != 2 {
			return fmt.Errorf("question %d: judgement requires exactly two answers, got %d", q.ID, len(q.Answers))
		}
		if correct != 1 {
			return fmt.Errorf("question %d: judgement requires exactly one correct answer, got %d", q.ID, correct)
		}
	default:
		return fmt.Errorf("question %d: unknown question type %d", q.ID, int(q.Type))
	}
	return nil
}

// Game is a quiz definition owned by the authoring subsystem. The engine only
// writes the ActiveSession pointer, everything else is read-only here.
type Game struct {
	ID            string
	Owner         string
	Name          string
	Questions     []Question
	ActiveSession string // empty when no live session
}

// QuestionByID looks up a question and its play position by id.
func (g Game) QuestionByID(id int) (Question, int, bool) {
	for i, q := range g.Questions {
		if q.ID == id {
			return q, i, true
		}
	}
	return Question{}, 0, false
}

// SessionState is the lifecycle state of a session.
type SessionState int

const (
	StateLobby SessionState = iota + 1
	StateActive
	StateEnded
)

func (s SessionState) String() string {
	switch s {
	case StateLobby:
		return "lobby"
	case StateActive:
		return "active"
	case StateEnded:
		return "ended"
	}
	return fmt.Sprintf("SessionState(%d)", int(s))
}

func (s SessionState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// PositionNotStarted is a session's position before the first Advance.
const PositionNotStarted = -1

// SessionSnapshot is a consistent read of one session's state at a point in
// time. QuestionStarts is indexed by question position; the zero time means
// the question was never reached.
type SessionSnapshot struct {
	SessionID      string
	GameID         string
	State          SessionState
	Position       int
	QuestionStarts []time.Time
	CreatedAt      time.Time
	EndedAt        time.Time
}

// CurrentQuestion is the view the answer ledger validates submissions
// against: the question at the session's current position and its start time.
type CurrentQuestion struct {
	State     SessionState
	Question  Question
	Position  int
	StartedAt time.Time
}

// PlayerRecord identifies a player within a session. JoinOrder is a
// per-session monotonic sequence used as the leaderboard tie-break.
type PlayerRecord struct {
	PlayerID  string
	SessionID string
	Name      string
	JoinOrder int
	JoinedAt  time.Time
}

// SubmittedAnswer is one row of the answer ledger. Selected is a set stored
// as a sorted slice; correctness and score are always derived, never stored.
type SubmittedAnswer struct {
	SessionID   string
	PlayerID    string
	QuestionID  int
	Selected    []int
	SubmittedAt time.Time
}

// Leaderboard is the ranked scoreboard of one session.
type Leaderboard struct {
	SessionID string
	Entries   []LeaderboardEntry
}

type LeaderboardEntry struct {
	PlayerID string
	Name     string
	Score    int
}

// QuestionStats summarizes all submissions for one question of a session.
type QuestionStats struct {
	QuestionID             int
	Submissions            int
	CorrectRate            float64
	AverageResponseSeconds float64
}

// PlayerResult is the per-question breakdown for one player, available once
// the session has ended.
type PlayerResult struct {
	QuestionID      int
	QuestionText    string
	Selected        []int
	Correct         bool
	ResponseSeconds float64
	Score           int
}
