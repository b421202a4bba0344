package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/openquiz/bigbrain/internal/api"
	"github.com/openquiz/bigbrain/internal/archive"
	"github.com/openquiz/bigbrain/internal/event"
	"github.com/openquiz/bigbrain/internal/game"
	"github.com/openquiz/bigbrain/internal/ledger"
	"github.com/openquiz/bigbrain/internal/player"
	"github.com/openquiz/bigbrain/internal/results"
	"github.com/openquiz/bigbrain/internal/session"
	"github.com/openquiz/bigbrain/internal/telemetry"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	Redis struct {
		Addrs  []string
		Pass   string
		Prefix string
	}

	Postgres struct {
		Addr string
		User string
		Pass string
		Name string
	}

	Engine struct {
		GameCacheTTL    time.Duration
		PublishInterval time.Duration

		// IdleSessionTTL is a reserved deployment knob: the engine never
		// reclaims abandoned sessions on its own, and no reclamation runs
		// until a policy is decided. Zero means "keep forever".
		IdleSessionTTL time.Duration
	}
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis    redis.UniversalClient
		postgres *pgxpool.Pool
	}

	store struct {
		games   game.Repository
		archive *archive.PGStore
	}

	engine struct {
		sessions *session.Manager
		roster   *player.Registry
		ledger   *ledger.Ledger
		results  *results.Aggregator
		archiver *archive.Archiver
		notifier *api.Notifier
	}

	http *http.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	if err := s.initStores(); err != nil {
		return nil, fmt.Errorf("server: init stores: %w", err)
	}

	s.initEngine()
	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    s.c.Redis.Addrs,
		Password: s.c.Redis.Pass,
	})

	if err := telemetry.MonitorRedis(r); err != nil {
		return err
	}

	if err := r.Ping(ctx).Err(); err != nil {
		return err
	}

	s.infra.redis = r
	return nil
}

func (s *Server) initPostgres() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s",
		s.c.Postgres.User, s.c.Postgres.Pass, s.c.Postgres.Addr, s.c.Postgres.Name))
	if err != nil {
		return err
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return err
	}

	if err := db.Ping(ctx); err != nil {
		return err
	}

	s.infra.postgres = db
	return nil
}

func (s *Server) initStores() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	games := game.NewPGStore(s.infra.postgres)
	if err := games.EnsureSchema(ctx); err != nil {
		return err
	}

	ttl := s.c.Engine.GameCacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	s.store.games = game.NewCache(games, ttl)

	s.store.archive = archive.NewPGStore(s.infra.postgres)
	return s.store.archive.EnsureSchema(ctx)
}

func (s *Server) initEngine() {
	s.engine.sessions = session.NewManager(session.Config{
		Games:    s.store.games,
		EventBus: s.eb,
	})

	s.engine.roster = player.NewRegistry(player.Config{
		Sessions: s.engine.sessions,
	})

	s.engine.ledger = ledger.New(ledger.Config{
		Sessions: s.engine.sessions,
		EventBus: s.eb,
	})

	s.engine.results = results.NewAggregator(results.Config{
		Sessions: s.engine.sessions,
		Games:    s.store.games,
		Roster:   s.engine.roster,
		Ledger:   s.engine.ledger,
	})

	s.engine.archiver = archive.NewArchiver(archive.Config{
		Store:    s.store.archive,
		Results:  s.engine.results,
		EventBus: s.eb,
	})

	s.engine.notifier = api.NewNotifier(api.NotifierConfig{
		EventBus:        s.eb,
		Results:         s.engine.results,
		Redis:           s.infra.redis,
		Prefix:          s.c.Redis.Prefix,
		PublishInterval: s.c.Engine.PublishInterval,
	})
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	api.New(api.Config{
		Sessions: s.engine.sessions,
		Roster:   s.engine.roster,
		Ledger:   s.engine.ledger,
		Results:  s.engine.results,
		Games:    s.store.games,
		History:  s.store.archive,
	}).Register(e)

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx := context.TODO()

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.eb.Stop()

	s.infra.postgres.Close()
	if err := s.infra.redis.Close(); err != nil {
		slog.ErrorContext(ctx, "server: close redis failed", "error", err)
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}
