package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/trigon-labs/trigon/internal/config"
	"github.com/trigon-labs/trigon/internal/feed"
	"github.com/trigon-labs/trigon/internal/feed/binance"
	"github.com/trigon-labs/trigon/internal/feed/bybit"
	"github.com/trigon-labs/trigon/internal/feed/okx"
	"github.com/trigon-labs/trigon/internal/liquidity"
	"github.com/trigon-labs/trigon/internal/market"
	"github.com/trigon-labs/trigon/internal/profit"
	"github.com/trigon-labs/trigon/internal/scanner"
	"github.com/trigon-labs/trigon/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	setupLogging(cfg.Env)

	log.Info().Str("env", cfg.Env).Str("exchange", cfg.Exchange).Msg("trigon starting")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st := openStore(ctx, cfg)

	registry := market.NewRegistry(adapterFactory(cfg.Feed))
	defer registry.CloseAll()

	httpClient := &http.Client{Timeout: cfg.Liquidity.RequestTimeout}
	filters := make(map[string]*liquidity.Filter)
	filterFor := func(exchange string) *liquidity.Filter {
		if f, ok := filters[exchange]; ok {
			return f
		}
		f := liquidity.NewFilter(exchange, cfg.Liquidity.MinQuoteVolumeUSD, httpClient)
		filters[exchange] = f
		return f
	}

	supervisor := scanner.NewSupervisor(func(userID, exchange string) (*scanner.Scanner, error) {
		mgr, err := registry.GetOrCreate(exchange)
		if err != nil {
			return nil, err
		}
		costs := profit.DefaultCosts(exchange)
		costs.TakerFeeRate = cfg.Scanner.TakerFeeRate
		sCfg := scanner.Config{
			Exchange:       exchange,
			UserID:         userID,
			BaseAsset:      cfg.Scanner.BaseAsset,
			Debounce:       cfg.Scanner.Debounce,
			Cooldown:       cfg.Scanner.Cooldown,
			MaxBatch:       cfg.Scanner.MaxBatch,
			ProfitFloorPct: cfg.Scanner.ProfitFloorPct,
			PositionSize:   cfg.Scanner.PositionSize,
			StreamCap:      cfg.Scanner.StreamCap,
			OpportunityTTL: cfg.Scanner.OpportunityTTL,
			Costs:          costs,
		}
		return scanner.New(sCfg, mgr, filterFor(exchange), st), nil
	})
	defer supervisor.StopAll()

	universe, err := filterFor(cfg.Exchange).Universe(ctx)
	if err != nil {
		log.Fatal().Err(err).Str("exchange", cfg.Exchange).Msg("symbol universe fetch failed")
	}
	log.Info().Int("symbols", len(universe)).Msg("symbol universe loaded")

	sc, err := supervisor.Start(ctx, cfg.UserID, cfg.Exchange, universe)
	if err != nil {
		log.Fatal().Err(err).Msg("scan start failed")
	}

	go drainEvents(ctx, sc)

	<-ctx.Done()
	log.Info().Msg("trigon shutting down")
}

func setupLogging(env string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	if env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// openStore connects to Redis, falling back to the in-memory store when it
// is unreachable so a missing Redis never blocks a scan.
func openStore(ctx context.Context, cfg *config.Config) store.Store {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", cfg.Redis.Addr).
			Msg("redis unreachable, opportunities held in memory only")
		return store.NewMemoryStore()
	}
	log.Info().Str("addr", cfg.Redis.Addr).Msg("redis connected")
	return store.NewRedisStore(store.Wrap(client))
}

func adapterFactory(fc config.FeedConfig) market.AdapterFactory {
	return func(exchange string) (feed.Adapter, error) {
		// The protocol fills in its own endpoint and keep-alive.
		wsCfg := feed.DefaultWSConfig("")
		wsCfg.HandshakeTimeout = fc.HandshakeTimeout
		wsCfg.HeartbeatTimeout = fc.HeartbeatTimeout
		wsCfg.BackoffInitial = fc.BackoffInitial
		wsCfg.BackoffMax = fc.BackoffMax
		wsCfg.MaxAttempts = fc.MaxReconnectAttempts

		switch strings.ToLower(exchange) {
		case "binance":
			return binance.New(wsCfg), nil
		case "okx":
			return okx.New(wsCfg), nil
		case "bybit":
			return bybit.New(wsCfg), nil
		}
		return nil, fmt.Errorf("unsupported exchange %q", exchange)
	}
}

func drainEvents(ctx context.Context, sc *scanner.Scanner) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sc.Events():
			switch e := ev.(type) {
			case scanner.Started:
				log.Info().Int("triangles", e.TriangleCount).Int("symbols", e.SymbolCount).
					Msg("scanning")
			case scanner.Opportunity:
				log.Info().Str("triangle", e.Record.ID).Str("direction", e.Record.Direction).
					Float64("profit_pct", e.Record.ProfitPercent).
					Float64("profit", e.Record.ProfitAmount).Msg("opportunity")
			case scanner.FeedError:
				log.Error().Err(e.Err).Str("exchange", e.Exchange).Msg("feed failed")
			case scanner.Stopped:
				log.Info().Msg("scan stopped")
			}
		}
	}
}
