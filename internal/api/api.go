package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/openquiz/bigbrain/internal/archive"
	"github.com/openquiz/bigbrain/internal/domain"
	"github.com/openquiz/bigbrain/internal/errors"
	"github.com/openquiz/bigbrain/internal/ledger"
	"github.com/openquiz/bigbrain/internal/player"
	"github.com/openquiz/bigbrain/internal/results"
	"github.com/openquiz/bigbrain/internal/session"
	"github.com/openquiz/bigbrain/internal/telemetry"
)

// Authorizer is the excluded auth subsystem's surface: it resolves a bearer
// token to an owner identity. The engine only passes the result through.
type Authorizer interface {
	Authenticate(ctx context.Context, token string) (string, error)
}

// TokenIdentity treats the bearer token itself as the owner identity. It is
// the default wiring until a real auth service is attached.
type TokenIdentity struct{}

func (TokenIdentity) Authenticate(_ context.Context, token string) (string, error) {
	if token == "" {
		return "", errors.New(errors.CodeUnauthenticated)
	}
	return token, nil
}

// GameStore is the slice of the game repository the API reads directly.
type GameStore interface {
	GetGame(ctx context.Context, gameID string) (domain.Game, error)
}

type Config struct {
	Sessions   *session.Manager
	Roster     *player.Registry
	Ledger     *ledger.Ledger
	Results    *results.Aggregator
	Games      GameStore
	History    archive.Store
	Authorizer Authorizer

	Now func() time.Time
}

// API maps the owner-facing control surface and the player-facing play
// surface onto HTTP. Clients are expected to poll the status and question
// endpoints on roughly a one-second interval.
type API struct {
	sessions *session.Manager
	roster   *player.Registry
	ledger   *ledger.Ledger
	results  *results.Aggregator
	games    GameStore
	history  archive.Store
	auth     Authorizer
	now      func() time.Time
}

func New(c Config) *API {
	a := &API{
		sessions: c.Sessions,
		roster:   c.Roster,
		ledger:   c.Ledger,
		results:  c.Results,
		games:    c.Games,
		history:  c.History,
		auth:     c.Authorizer,
		now:      c.Now,
	}

	if a.auth == nil {
		a.auth = TokenIdentity{}
	}
	if a.now == nil {
		a.now = time.Now
	}

	return a
}

func (a *API) Register(e *gin.Engine) {
	admin := e.Group("/admin")
	admin.POST("/game/:gameid/mutate", a.mutateGame)
	admin.GET("/game/:gameid/sessions", a.listSessions)
	admin.GET("/session/:sessionid/status", a.sessionStatus)
	admin.GET("/session/:sessionid/results", a.sessionResults)

	play := e.Group("/play")
	play.POST("/join", a.join)
	play.GET("/:playerid/question", a.currentQuestion)
	play.PUT("/:playerid/answer", a.submitAnswer)
	play.GET("/:playerid/results", a.playerResults)
}

const (
	mutationStart   = "START"
	mutationAdvance = "ADVANCE"
	mutationEnd     = "END"
)

type mutateRequest struct {
	MutationType string `json:"mutationType" binding:"required"`
}

func (a *API) mutateGame(c *gin.Context) {
	gameID := c.Param("gameid")

	var req mutateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	g, err := a.authorizeOwner(c, gameID)
	if err != nil {
		abortError(c, err)
		return
	}

	switch req.MutationType {
	case mutationStart:
		sessionID, err := a.sessions.Start(c.Request.Context(), gameID)
		if err != nil {
			abortError(c, err)
			return
		}
		telemetry.SessionsStarted.Inc()
		c.JSON(http.StatusOK, gin.H{"sessionId": sessionID})

	case mutationAdvance:
		if err := a.requireActive(g); err != nil {
			abortError(c, err)
			return
		}
		if err := a.sessions.Advance(c.Request.Context(), g.ActiveSession); err != nil {
			abortError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessionId": g.ActiveSession, "status": "advanced"})

	case mutationEnd:
		if err := a.requireActive(g); err != nil {
			abortError(c, err)
			return
		}
		if err := a.sessions.End(c.Request.Context(), g.ActiveSession); err != nil {
			abortError(c, err)
			return
		}
		telemetry.SessionsEnded.Inc()
		c.JSON(http.StatusOK, gin.H{"sessionId": g.ActiveSession, "status": "ended"})

	default:
		abortError(c, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("unknown mutation type %q", req.MutationType)))
	}
}

func (a *API) requireActive(g domain.Game) error {
	if g.ActiveSession == "" {
		return errors.New(errors.CodeNotFound,
			errors.WithMessagef("game %s has no active session", g.ID))
	}
	return nil
}

func (a *API) sessionStatus(c *gin.Context) {
	sessionID := c.Param("sessionid")

	st, err := a.sessions.Status(c.Request.Context(), sessionID)
	if err != nil {
		abortError(c, err)
		return
	}

	resp := newStatusResponse(st)
	resp.Players = a.roster.Names(sessionID)
	c.JSON(http.StatusOK, gin.H{"results": resp})
}

func (a *API) sessionResults(c *gin.Context) {
	ctx := c.Request.Context()
	sessionID := c.Param("sessionid")

	l, err := a.results.Leaderboard(ctx, sessionID)
	if err != nil {
		abortError(c, err)
		return
	}

	snap, err := a.sessions.Snapshot(sessionID)
	if err != nil {
		abortError(c, err)
		return
	}

	stats := make([]questionStatsResponse, 0, len(snap.QuestionStarts))
	for i := range snap.QuestionStarts {
		qs, err := a.results.QuestionStats(ctx, sessionID, i)
		if err != nil {
			abortError(c, err)
			return
		}
		stats = append(stats, questionStatsResponse{
			QuestionID:             qs.QuestionID,
			Submissions:            qs.Submissions,
			CorrectRate:            qs.CorrectRate,
			AverageResponseSeconds: qs.AverageResponseSeconds,
		})
	}

	c.JSON(http.StatusOK, gin.H{"results": resultsResponse{
		Leaderboard: newLeaderboardResponse(l),
		Questions:   stats,
	}})
}

func (a *API) listSessions(c *gin.Context) {
	gameID := c.Param("gameid")

	if _, err := a.authorizeOwner(c, gameID); err != nil {
		abortError(c, err)
		return
	}

	recs, err := a.history.ListSessions(c.Request.Context(), gameID)
	if err != nil {
		abortError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"sessions": recs})
}

type joinRequest struct {
	SessionID string `json:"sessionId" binding:"required"`
	Name      string `json:"name" binding:"required"`
}

func (a *API) join(c *gin.Context) {
	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	rec, err := a.roster.Join(req.SessionID, req.Name)
	if err != nil {
		abortError(c, err)
		return
	}

	telemetry.PlayersJoined.Inc()
	c.JSON(http.StatusOK, gin.H{"playerId": rec.PlayerID})
}

func (a *API) currentQuestion(c *gin.Context) {
	rec, err := a.roster.Resolve(c.Param("playerid"))
	if err != nil {
		abortError(c, err)
		return
	}

	st, err := a.sessions.Status(c.Request.Context(), rec.SessionID)
	if err != nil {
		abortError(c, err)
		return
	}

	c.JSON(http.StatusOK, newStatusResponse(st))
}

type answerRequest struct {
	QuestionID *int  `json:"questionId"`
	AnswerIDs  []int `json:"answerIds"`
}

func (a *API) submitAnswer(c *gin.Context) {
	ctx := c.Request.Context()

	rec, err := a.roster.Resolve(c.Param("playerid"))
	if err != nil {
		abortError(c, err)
		return
	}

	var req answerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	// Answers without an explicit question id target the current question.
	questionID := 0
	if req.QuestionID != nil {
		questionID = *req.QuestionID
	} else {
		cur, err := a.sessions.Current(ctx, rec.SessionID)
		if err != nil {
			abortError(c, err)
			return
		}
		questionID = cur.Question.ID
	}

	if err := a.ledger.Submit(ctx, rec.SessionID, rec.PlayerID, questionID, req.AnswerIDs, a.now()); err != nil {
		telemetry.AnswersRejected.WithLabelValues(rejectReason(err)).Inc()
		abortError(c, err)
		return
	}

	telemetry.AnswersAccepted.Inc()
	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}

func (a *API) playerResults(c *gin.Context) {
	res, err := a.results.PlayerResults(c.Request.Context(), c.Param("playerid"))
	if err != nil {
		abortError(c, err)
		return
	}

	out := make([]playerResultResponse, 0, len(res))
	for _, r := range res {
		out = append(out, playerResultResponse{
			QuestionID:      r.QuestionID,
			Question:        r.QuestionText,
			AnswerIDs:       r.Selected,
			Correct:         r.Correct,
			ResponseSeconds: r.ResponseSeconds,
			Score:           r.Score,
		})
	}

	c.JSON(http.StatusOK, gin.H{"results": out})
}

// authorizeOwner authenticates the caller and checks game ownership. The
// identity decision itself belongs to the auth collaborator; a mismatch
// surfaces as a permission error.
func (a *API) authorizeOwner(c *gin.Context, gameID string) (domain.Game, error) {
	owner, err := a.auth.Authenticate(c.Request.Context(), bearerToken(c))
	if err != nil {
		return domain.Game{}, err
	}

	g, err := a.games.GetGame(c.Request.Context(), gameID)
	if err != nil {
		return domain.Game{}, err
	}

	if g.Owner != owner {
		return domain.Game{}, errors.New(errors.CodePermissionDenied,
			errors.WithMessagef("game %s is not owned by %s", gameID, owner))
	}

	return g, nil
}

func bearerToken(c *gin.Context) string {
	return strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
}

func abortError(c *gin.Context, err error) {
	e := errors.Convert(err)
	c.AbortWithStatusJSON(e.HTTPStatusCode(), gin.H{
		"error":  e.Message,
		"reason": e.Reason,
	})
}

func rejectReason(err error) string {
	if r := errors.Convert(err).Reason; r != "" {
		return r
	}
	return "OTHER"
}
