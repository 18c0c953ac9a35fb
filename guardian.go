// Package guardian wires the block-list daemon together from configuration.
package guardian

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/ethereum/go-ethereum/log"
	"github.com/gin-gonic/gin"
	"github.com/layer-3/guardian/adapters/chain"
	"github.com/layer-3/guardian/adapters/events"
	"github.com/layer-3/guardian/adapters/store"
	"github.com/layer-3/guardian/adapters/tokenizer"
	"github.com/layer-3/guardian/config"
	"github.com/layer-3/guardian/ports"
	"github.com/layer-3/guardian/service"
	transport "github.com/layer-3/guardian/transport/http"
	"github.com/redis/go-redis/v9"
)

// App is a fully wired guardian daemon
type App struct {
	Config   *config.Config
	Store    ports.Store
	Sites    *service.SiteService
	Flow     *service.UnblockFlow
	Gate     *service.BlockGate
	Recovery *service.RecoveryTracker
	Router   *gin.Engine

	closers []func() error
}

// New builds the daemon described by cfg. Without REDIS_URL state and
// events stay in process memory.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	app := &App{Config: cfg}

	// Tickets only need to outlive the grace window, so a key per process is enough
	ticketKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ticket key: %w", err)
	}

	publisher, subscriber, err := app.setupBackend(ctx)
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	fetcher, err := app.setupFetcher(ctx)
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	eventPub := events.NewWatermillPublisher(publisher)
	app.Recovery = service.NewRecoveryTracker(app.Store)
	app.Sites = service.NewSiteService(app.Store, eventPub)
	app.Gate = service.NewBlockGate(app.Store, eventPub, cfg.BlockedPageURL)
	app.Flow = service.NewUnblockFlow(
		service.UnblockConfig{
			RotationInterval: cfg.RotationInterval,
			TicketGrace:      cfg.TicketGrace,
			FetchTimeout:     cfg.FetchTimeout,
		},
		app.Store,
		fetcher,
		tokenizer.NewJWTTokenizer(ticketKey),
		eventPub,
		app.Recovery,
	)

	handlers := transport.NewHandlers(app.Gate, app.Sites, app.Flow, app.Recovery, subscriber)
	app.Router = transport.SetupRouter(handlers, cfg.APIKey)
	return app, nil
}

func (a *App) setupBackend(ctx context.Context) (message.Publisher, message.Subscriber, error) {
	logger := watermill.NewStdLogger(false, false)

	if a.Config.RedisURL == "" {
		log.Info("Using in-memory state")
		a.Store = store.NewMemoryStore()
		pubSub := gochannel.NewGoChannel(gochannel.Config{}, logger)
		a.closers = append(a.closers, pubSub.Close)
		return pubSub, pubSub, nil
	}

	opts, err := redis.ParseURL(a.Config.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	a.closers = append(a.closers, client.Close)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to reach Redis: %w", err)
	}
	a.Store = store.NewRedisStore(client)

	publisher, err := redisstream.NewPublisher(redisstream.PublisherConfig{Client: client}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Redis publisher: %w", err)
	}
	a.closers = append(a.closers, publisher.Close)

	// No consumer group: every events stream sees every message
	subscriber, err := redisstream.NewSubscriber(redisstream.SubscriberConfig{Client: client}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Redis subscriber: %w", err)
	}
	a.closers = append(a.closers, subscriber.Close)

	log.Info("Using Redis state", "addr", opts.Addr, "db", opts.DB)
	return publisher, subscriber, nil
}

func (a *App) setupFetcher(ctx context.Context) (ports.TransactionFetcher, error) {
	if a.Config.RPCURL != "" {
		fetcher, err := chain.DialRPCFetcher(ctx, a.Config.RPCURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { fetcher.Close(); return nil })
		log.Info("Looking up transactions over JSON-RPC", "url", a.Config.RPCURL)
		return fetcher, nil
	}

	log.Info("Looking up transactions through Etherscan", "url", a.Config.EtherscanAPIURL)
	client := &http.Client{Timeout: a.Config.FetchTimeout}
	return chain.NewEtherscanFetcher(a.Config.EtherscanAPIURL, a.Config.EtherscanAPIKey, client), nil
}

// Run serves the API and rotates challenges until ctx is cancelled
func (a *App) Run(ctx context.Context) error {
	if err := a.Flow.Start(ctx); err != nil {
		return fmt.Errorf("failed to start challenge rotation: %w", err)
	}
	defer a.Flow.StopAndWait()

	srv := &http.Server{Addr: a.Config.HTTPAddr, Handler: a.Router}
	errCh := make(chan error, 1)
	go func() {
		log.Info("Guardian API listening", "addr", a.Config.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.FetchTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	return nil
}

// Close releases connections in reverse order of creation
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
