package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/casebridge/casebridge/conversations"
	"github.com/casebridge/casebridge/crm"
	"github.com/casebridge/casebridge/internal/config"
	"github.com/casebridge/casebridge/poller"
	"github.com/casebridge/casebridge/server"
	"github.com/casebridge/casebridge/store"
	"github.com/casebridge/casebridge/token"
)

func main() {
	for {
		if err := run(); err != nil {
			zlog.Fatal().Err(err).Msg("error running service")
			time.Sleep(1 * time.Second)
		} else {
			break
		}
	}
	zlog.Info().Msg("service stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Interface("panic", r).Msg("recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	logBuffer := server.NewLogBuffer(200)
	logger := zerolog.New(zerolog.MultiLevelWriter(os.Stdout, logBuffer)).With().Timestamp().Logger()
	zlog.Logger = logger

	c := config.New()
	displayAppname(c.GetAppName())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := newRepo(ctx, c, logger)
	defer func() {
		if err := repo.Close(); err != nil {
			logger.Warn().Err(err).Msg("error closing store")
		}
	}()

	tokens, err := newTokenManager(ctx, c, repo, logger)
	if err != nil {
		return err
	}

	gateway := crm.NewGateway(tokens, c.GetCRMAPIVersion(), crm.WithGatewayLogger(logger))
	reconciler := crm.NewReconciler(gateway,
		crm.WithContact(c.GetContactID(), c.GetContactName()),
		crm.WithCaseDefaults(c.GetCaseOrigin(), c.GetCaseStatus()),
		crm.WithTranscriptNotes(c.GetAttachTranscriptAsNote()),
		crm.WithReconcilerLogger(logger),
	)
	source := conversations.NewClient(c.GetBotAPIURL(), c.GetBotAPIKey(), conversations.WithLogger(logger))
	scheduler := poller.NewScheduler(source, reconciler, c.GetBotID(), c.GetPollInterval(),
		poller.WithProcessedMarkers(repo),
		poller.WithSchedulerLogger(logger),
	)

	httpServer := &http.Server{
		Addr:    c.GetPort(),
		Handler: server.New(tokens, scheduler, logBuffer).Handler(),
	}

	go scheduler.Run(ctx)
	go listenAndServe(httpServer, logger)

	waitForStopSignal()
	logger.Info().Msg("shutdown signal received")
	cancel()
	return shutdown(httpServer)
}

// newRepo prefers Redis when configured and falls back to the in-memory
// store, which is enough for a single run but forfeits token reuse across
// restarts.
func newRepo(ctx context.Context, c config.Config, logger zerolog.Logger) store.Repo {
	redisURL := c.GetRedisURL()
	if redisURL == "" {
		logger.Info().Msg("no REDIS_URL configured, using in-memory store")
		return store.NewInMemoryRepo()
	}
	repo, err := store.NewRedisRepo(ctx, redisURL)
	if err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, falling back to in-memory store")
		return store.NewInMemoryRepo()
	}
	logger.Info().Msg("redis store connected")
	return repo
}

// newTokenManager seeds the manager from the environment or the cached
// access token persisted by a previous run.
func newTokenManager(ctx context.Context, c config.Config, repo store.Repo, logger zerolog.Logger) (*token.Manager, error) {
	accessToken := c.GetAccessToken()
	if accessToken == "" {
		cached, err := store.AccessToken(ctx, repo)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to read cached access token")
		} else if cached != "" {
			logger.Info().Msg("seeded access token from cache")
			accessToken = cached
		}
	}
	if accessToken == "" && c.GetRefreshToken() == "" {
		return nil, errors.New("neither CRM_ACCESS_TOKEN nor CRM_REFRESH_TOKEN is configured")
	}

	return token.New(c.GetAccountsBaseURL(), c.GetClientID(), c.GetClientSecret(),
		token.WithInitialState(token.State{
			AccessToken:  accessToken,
			RefreshToken: c.GetRefreshToken(),
			APIHost:      c.GetCRMBaseURL(),
		}),
		token.WithStore(repo),
		token.WithLogger(logger),
	), nil
}

func listenAndServe(httpServer *http.Server, logger zerolog.Logger) {
	logger.Info().Str("addr", httpServer.Addr).Msg("http server listening")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("http server failed")
	}
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func shutdown(httpServer *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
