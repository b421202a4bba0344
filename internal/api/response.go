package api

import (
	"time"

	"github.com/openquiz/bigbrain/internal/domain"
	"github.com/openquiz/bigbrain/internal/session"
)

type statusResponse struct {
	SessionID        string `json:"sessionId"`
	State            string `json:"state"`
	Position         int    `json:"position"`
	RemainingSeconds int    `json:"remainingSeconds"`

	// QuestionStartAt is null until the first question starts.
	QuestionStartAt *time.Time `json:"isoTimeLastQuestionStarted,omitempty"`

	// Question is null before the first question and once the game is over;
	// pollers treat null as "keep waiting" or "game ended" based on state.
	Question *questionResponse `json:"question"`

	Players []string `json:"players,omitempty"`
}

type questionResponse struct {
	ID       int              `json:"id"`
	Text     string           `json:"text"`
	Type     string           `json:"type"`
	Answers  []answerResponse `json:"answers"`
	Duration int              `json:"duration"`
	Points   int              `json:"points"`
	Media    string           `json:"media,omitempty"`
}

type answerResponse struct {
	Text string `json:"text"`
	// Correct is only populated once the question's answer window closed.
	Correct *bool `json:"correct,omitempty"`
}

func newStatusResponse(st session.Status) statusResponse {
	resp := statusResponse{
		SessionID:        st.SessionID,
		State:            st.State.String(),
		Position:         st.Position,
		RemainingSeconds: st.RemainingSeconds,
	}

	if !st.QuestionStartAt.IsZero() {
		startAt := st.QuestionStartAt
		resp.QuestionStartAt = &startAt
	}

	if st.Question != nil {
		resp.Question = newQuestionResponse(*st.Question, st.Revealed)
	}

	return resp
}

// newQuestionResponse redacts correctness flags while the answer window is
// still open.
func newQuestionResponse(q domain.Question, revealed bool) *questionResponse {
	resp := &questionResponse{
		ID:       q.ID,
		Text:     q.Text,
		Type:     q.Type.String(),
		Answers:  make([]answerResponse, 0, len(q.Answers)),
		Duration: q.Duration,
		Points:   q.Points,
		Media:    q.Media,
	}

	for _, a := range q.Answers {
		ar := answerResponse{Text: a.Text}
		if revealed {
			correct := a.Correct
			ar.Correct = &correct
		}
		resp.Answers = append(resp.Answers, ar)
	}

	return resp
}

type resultsResponse struct {
	Leaderboard []leaderboardEntryResponse `json:"leaderboard"`
	Questions   []questionStatsResponse    `json:"questions"`
}

type leaderboardEntryResponse struct {
	PlayerID string `json:"playerId"`
	Name     string `json:"name"`
	Score    int    `json:"score"`
}

type questionStatsResponse struct {
	QuestionID             int     `json:"questionId"`
	Submissions            int     `json:"submissions"`
	CorrectRate            float64 `json:"correctRate"`
	AverageResponseSeconds float64 `json:"averageResponseSeconds"`
}

type playerResultResponse struct {
	QuestionID      int     `json:"questionId"`
	Question        string  `json:"question"`
	AnswerIDs       []int   `json:"answerIds"`
	Correct         bool    `json:"correct"`
	ResponseSeconds float64 `json:"responseSeconds"`
	Score           int     `json:"score"`
}

func newLeaderboardResponse(l domain.Leaderboard) []leaderboardEntryResponse {
	out := make([]leaderboardEntryResponse, 0, len(l.Entries))
	for _, e := range l.Entries {
		out = append(out, leaderboardEntryResponse{
			PlayerID: e.PlayerID,
			Name:     e.Name,
			Score:    e.Score,
		})
	}
	return out
}
