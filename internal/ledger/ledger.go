package ledger

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/openquiz/bigbrain/internal/domain"
	"github.com/openquiz/bigbrain/internal/errors"
	"github.com/openquiz/bigbrain/internal/event"
	"github.com/openquiz/bigbrain/internal/session"
)

// Sessions is the ledger's view of the session engine, used to gate
// submissions on the currently open question.
type Sessions interface {
	Current(ctx context.Context, sessionID string) (domain.CurrentQuestion, error)
}

type Config struct {
	Sessions Sessions
	EventBus *event.Bus
}

// Ledger holds at most one submitted answer per (session, player, question)
// key and is the single source of truth for scoring and statistics.
//
// Entries are partitioned across shards by key hash so submissions for
// different keys never contend, while an upsert for a single key is
// linearized by its shard lock. A later submission replaces the earlier one
// in full; rejected submissions never touch stored state.
type Ledger struct {
	sessions Sessions
	eb       *event.Bus

	shards [shardCount]shard
}

const shardCount = 32

type shard struct {
	mu      sync.RWMutex
	entries map[key]domain.SubmittedAnswer
}

type key struct {
	session  string
	player   string
	question int
}

func New(c Config) *Ledger {
	l := &Ledger{
		sessions: c.Sessions,
		eb:       c.EventBus,
	}
	for i := range l.shards {
		l.shards[i].entries = make(map[key]domain.SubmittedAnswer)
	}
	return l
}

// Submit validates and records one answer. Validation order: the session must
// be active, the question must be the session's current one, the answer
// window must still be open, and the selection must satisfy the question
// type's cardinality rule with every index in bounds.
func (l *Ledger) Submit(ctx context.Context, sessionID, playerID string, questionID int, selected []int, now time.Time) error {
	cur, err := l.sessions.Current(ctx, sessionID)
	if err != nil {
		return err
	}

	if cur.State != domain.StateActive {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithReason(errors.ReasonNotActive),
			errors.WithMessagef("session %s is not accepting answers: state=%s", sessionID, cur.State),
		)
	}

	if questionID != cur.Question.ID {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithReason(errors.ReasonStaleQuestion),
			errors.WithMessagef("question %d is not the current question of session %s", questionID, sessionID),
		)
	}

	if session.Remaining(cur.StartedAt, cur.Question.Duration, now) <= 0 {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithReason(errors.ReasonLateSubmission),
			errors.WithMessagef("answer window for question %d closed", questionID),
		)
	}

	normalized, err := normalizeSelection(cur.Question, selected)
	if err != nil {
		return err
	}

	sub := domain.SubmittedAnswer{
		SessionID:   sessionID,
		PlayerID:    playerID,
		QuestionID:  questionID,
		Selected:    normalized,
		SubmittedAt: now,
	}

	k := key{session: sessionID, player: playerID, question: questionID}
	sh := &l.shards[k.shard()]
	sh.mu.Lock()
	sh.entries[k] = sub
	sh.mu.Unlock()

	l.eb.Publish(ctx, domain.EventAnswerAccepted{
		SessionID:   sessionID,
		PlayerID:    playerID,
		QuestionID:  questionID,
		SubmittedAt: now,
	})

	return nil
}

// Get returns the stored answer for one key, if any.
func (l *Ledger) Get(sessionID, playerID string, questionID int) (domain.SubmittedAnswer, bool) {
	k := key{session: sessionID, player: playerID, question: questionID}
	sh := &l.shards[k.shard()]

	sh.mu.RLock()
	defer sh.mu.RUnlock()
	sub, ok := sh.entries[k]
	return sub, ok
}

// Entries returns a snapshot of all answers submitted in a session.
func (l *Ledger) Entries(sessionID string) []domain.SubmittedAnswer {
	var out []domain.SubmittedAnswer
	for i := range l.shards {
		sh := &l.shards[i]
		sh.mu.RLock()
		for k, sub := range sh.entries {
			if k.session == sessionID {
				out = append(out, sub)
			}
		}
		sh.mu.RUnlock()
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].QuestionID != out[j].QuestionID {
			return out[i].QuestionID < out[j].QuestionID
		}
		return out[i].PlayerID < out[j].PlayerID
	})
	return out
}

// normalizeSelection checks bounds and cardinality and returns the selection
// as a sorted set. Duplicate indices are rejected rather than deduplicated.
func normalizeSelection(q domain.Question, selected []int) ([]int, error) {
	invalid := func(format string, args ...any) error {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithReason(errors.ReasonInvalidSelection),
			errors.WithMessagef(format, args...),
		)
	}

	if len(selected) == 0 {
		return nil, invalid("selection must not be empty")
	}

	seen := make(map[int]struct{}, len(selected))
	for _, idx := range selected {
		if idx < 0 || idx >= len(q.Answers) {
			return nil, invalid("answer index %d out of range [0, %d)", idx, len(q.Answers))
		}
		if _, dup := seen[idx]; dup {
			return nil, invalid("duplicate answer index %d", idx)
		}
		seen[idx] = struct{}{}
	}

	switch q.Type {
	case domain.Single, domain.Judgement:
		if len(selected) != 1 {
			return nil, invalid("%s question takes exactly one answer, got %d", q.Type, len(selected))
		}
	case domain.Multiple:
		if len(selected) >= len(q.Answers) {
			return nil, invalid("multiple choice selection must not cover all %d options", len(q.Answers))
		}
	default:
		return nil, invalid("unknown question type %d", int(q.Type))
	}

	out := make([]int, len(selected))
	copy(out, selected)
	sort.Ints(out)
	return out, nil
}

func (k key) shard() uint32 {
	h := fnv.New32a()
	h.Write([]byte(k.session))
	h.Write([]byte{0})
	h.Write([]byte(k.player))
	h.Write([]byte{0, byte(k.question), byte(k.question >> 8)})
	return h.Sum32() % shardCount
}
