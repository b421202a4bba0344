package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine counters, exported on /metrics. Answer rejections are labeled by
// reason so expected noise (late or stale submissions) can be told apart
// from client bugs.
var (
	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bigbrain",
		Name:      "sessions_started_total",
		Help:      "Number of sessions started.",
	})

	SessionsEnded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bigbrain",
		Name:      "sessions_ended_total",
		Help:      "Number of sessions ended, explicitly or by exhausting their questions.",
	})

	PlayersJoined = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bigbrain",
		Name:      "players_joined_total",
		Help:      "Number of players who joined a session.",
	})

	AnswersAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bigbrain",
		Name:      "answers_accepted_total",
		Help:      "Number of answer submissions written to the ledger.",
	})

	AnswersRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bigbrain",
		Name:      "answers_rejected_total",
		Help:      "Number of rejected answer submissions by reason.",
	}, []string{"reason"})
)
