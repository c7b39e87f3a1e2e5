// Package app assembles stores and services from configuration. Both the
// API server and ledgerctl start here.
package app

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/chronoledger/internal/config"
	"github.com/zhouzirui/chronoledger/internal/model/ledger"
	"github.com/zhouzirui/chronoledger/internal/service/ai"
	"github.com/zhouzirui/chronoledger/internal/service/events"
	pageledger "github.com/zhouzirui/chronoledger/internal/service/ledger"
	"github.com/zhouzirui/chronoledger/internal/service/session"
	"github.com/zhouzirui/chronoledger/internal/service/turn"
	"github.com/zhouzirui/chronoledger/internal/store/memory"
	"github.com/zhouzirui/chronoledger/internal/store/sqlite"
)

// App holds the wired services. Provider and Turns are nil when no API key
// is configured; Publisher is nil when Redis is not configured.
type App struct {
	Config    *config.Config
	Store     ledger.Store
	Sessions  *session.Service
	Pages     *pageledger.Service
	Provider  *ai.Client
	Turns     *turn.Service
	Publisher *events.RedisPublisher
	Observer  turn.Observer
}

// OpenStore opens the configured backend.
func OpenStore(cfg config.StoreConfig) (ledger.Store, error) {
	switch cfg.Driver {
	case config.StoreMemory:
		return memory.New(), nil
	case config.StoreSQLite:
		store, err := sqlite.OpenFile(cfg.SQLitePath)
		if err != nil {
			return nil, errors.Wrapf(err, "open sqlite store at %s", cfg.SQLitePath)
		}
		return store, nil
	default:
		return nil, errors.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// New wires everything cfg asks for. A Redis server that cannot be reached
// is logged and skipped.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	store, err := OpenStore(cfg.Store)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:   cfg,
		Store:    store,
		Sessions: session.NewService(store, store),
		Pages:    pageledger.NewService(store, store),
	}

	observers := events.Fanout{events.NewLogObserver()}
	if cfg.Events.RedisAddr != "" {
		publisher, err := events.NewRedisPublisher(ctx, cfg.Events.RedisAddr, cfg.Events.StreamPrefix)
		if err != nil {
			log.Warn().Err(err).Str("component", "app").Msg("redis unavailable, events stay local")
		} else {
			a.Publisher = publisher
			observers = append(observers, publisher)
		}
	}
	a.Observer = observers

	if cfg.AI.Enabled() {
		a.Provider = ai.NewClient(ai.Config{
			BaseURL:      cfg.AI.BaseURL,
			APIKey:       cfg.AI.APIKey,
			Model:        cfg.AI.Model,
			SystemPrompt: cfg.AI.SystemPrompt,
			Referer:      cfg.AI.Referer,
			Title:        cfg.AI.Title,
		}, nil)
		a.Turns = turn.NewService(a.Sessions, a.Pages, a.Provider, turn.Options{
			UserWho:      cfg.Ledger.UserWho,
			HistoryLimit: cfg.Ledger.HistoryLimit,
		})
		log.Info().Str("component", "app").Str("model", a.Provider.Model()).Msg("ai provider configured")
	} else {
		log.Info().Str("component", "app").Msg("OPENROUTER_API_KEY not set, streaming disabled")
	}

	return a, nil
}

// Close releases the store and the Redis connection.
func (a *App) Close() error {
	var first error
	if a.Publisher != nil {
		if err := a.Publisher.Close(); err != nil {
			first = err
		}
	}
	if err := a.Store.Close(); err != nil && first == nil {
		first = err
	}
	return first
}
