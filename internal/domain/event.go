package domain

import "time"

const (
	EventNameSessionStarted  = "session.started"
	EventNameSessionAdvanced = "session.advanced"
	EventNameSessionEnded    = "session.ended"
	EventNameAnswerAccepted  = "answer.accepted"
)

type EventSessionStarted struct {
	Session SessionSnapshot
}

func (EventSessionStarted) Name() string { return EventNameSessionStarted }

type EventSessionAdvanced struct {
	Session SessionSnapshot
}

func (EventSessionAdvanced) Name() string { return EventNameSessionAdvanced }

type EventSessionEnded struct {
	Session SessionSnapshot
}

func (EventSessionEnded) Name() string { return EventNameSessionEnded }

type EventAnswerAccepted struct {
	SessionID   string
	PlayerID    string
	QuestionID  int
	SubmittedAt time.Time
}

func (EventAnswerAccepted) Name() string { return EventNameAnswerAccepted }
