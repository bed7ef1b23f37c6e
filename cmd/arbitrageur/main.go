package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bvkgo/topic"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc"

	"github.com/devlongs/cyclearb/internal/arbitrage"
	"github.com/devlongs/cyclearb/internal/bundle"
	"github.com/devlongs/cyclearb/internal/config"
	"github.com/devlongs/cyclearb/internal/decoder"
	"github.com/devlongs/cyclearb/internal/dex/uniswapv2"
	"github.com/devlongs/cyclearb/internal/eth"
	"github.com/devlongs/cyclearb/internal/feed"
	"github.com/devlongs/cyclearb/internal/output"
	"github.com/devlongs/cyclearb/internal/pool"
	"github.com/devlongs/cyclearb/internal/registry"
	"github.com/devlongs/cyclearb/internal/snapshot"
	"github.com/devlongs/cyclearb/pkg/types"
)

// Arbitrageur wires the reserve feeds, the path registry and bundle
// submission together
type Arbitrageur struct {
	cfg        *config.Config
	client     *eth.Client
	decoder    *decoder.Decoder
	registry   *registry.Registry
	dispatcher *feed.Dispatcher
	logger     *output.Logger
	snapshots  *snapshot.Manager
	store      *snapshot.SQLiteStore
	relay      *bundle.RelaySubmitter
	opps       *topic.Topic[*types.Opportunity]
	metrics    *prometheus.Registry
}

// NewArbitrageur connects to the node, loads the pool universe and builds
// the path registry
func NewArbitrageur(ctx context.Context, cfg *config.Config) (*Arbitrageur, error) {
	a := &Arbitrageur{
		cfg:     cfg,
		logger:  output.NewLogger(cfg.Logging),
		opps:    topic.New[*types.Opportunity](),
		metrics: prometheus.NewRegistry(),
	}

	client, err := eth.NewClient(ctx, cfg.RPC)
	if err != nil {
		return nil, err
	}
	a.client = client
	a.decoder = decoder.NewDecoder(client, cfg.Feed.EnableUniswapV2, cfg.Feed.EnableUniswapV3)

	a.snapshots, err = snapshot.NewManager(cfg.Snapshot.Dir, cfg.Snapshot.Format)
	if err != nil {
		a.Close()
		return nil, err
	}
	if cfg.Snapshot.SQLite != "" {
		if a.store, err = snapshot.OpenSQLite(cfg.Snapshot.SQLite); err != nil {
			a.Close()
			return nil, err
		}
	}

	pools, err := a.loadPools(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	submitter, err := a.newSubmitter(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	threshold, err := decimal.NewFromString(cfg.Evaluator.Threshold)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("invalid evaluator threshold %q: %w", cfg.Evaluator.Threshold, err)
	}

	var reg *registry.Registry
	a.dispatcher = feed.NewDispatcher(feed.TargetFunc(func(ev feed.Event) error {
		return reg.Apply(ev)
	}))
	reg = registry.New(pools, registry.Config{
		Evaluator: arbitrage.Config{
			Threshold:     threshold,
			Precision:     cfg.Evaluator.Precision,
			Optimizer:     arbitrage.ClosedFormOptimizer{Precision: cfg.Evaluator.OptimizerPrecision},
			Submitter:     submitter,
			Blocks:        a.dispatcher,
			Metrics:       arbitrage.NewMetrics(a.metrics),
			Opportunities: a.opps,
		},
	})
	a.registry = reg

	return a, nil
}

// loadPools prefers the latest snapshot, then the SQLite store, and finally
// fetches the configured pools from chain
func (a *Arbitrageur) loadPools(ctx context.Context) ([]*pool.Pool, error) {
	snap, err := a.snapshots.LoadLatest()
	if err != nil {
		return nil, err
	}
	if snap != nil && len(snap.Triples) > 0 {
		return registry.FromSnapshot(snap)
	}

	if a.store != nil {
		triples, err := a.store.LoadTriples(ctx)
		if err != nil {
			return nil, err
		}
		if len(triples) > 0 {
			log.Info().Int("triples", len(triples)).Msg("Pools loaded from SQLite store")
			return registry.FromTriples(triples)
		}
	}

	return a.fetchPools(ctx)
}

func (a *Arbitrageur) fetchPools(ctx context.Context) ([]*pool.Pool, error) {
	if len(a.cfg.Feed.Pools) == 0 {
		return nil, errors.New("no snapshot found and no pools configured")
	}

	router := common.HexToAddress(a.cfg.Feed.Router)
	pools := make([]*pool.Pool, 0, len(a.cfg.Feed.Pools))
	for _, addr := range a.cfg.Feed.Pools {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("invalid pool address %q", addr)
		}
		rec, err := a.decoder.FetchPool(ctx, a.cfg.Feed.DEX, common.HexToAddress(addr), router)
		if err != nil {
			return nil, err
		}
		if rec.DEX == uniswapv2.Protocol {
			rec.FeeNumerator = a.cfg.Evaluator.DefaultFeeNum
			rec.FeeDenominator = a.cfg.Evaluator.DefaultFeeDen
		}

		p, err := pool.FromRecord(*rec)
		if err != nil {
			return nil, err
		}
		log.Debug().Str("pool", p.String()).Str("fee", p.Fee().String()).Msg("Pool fetched")
		pools = append(pools, p)
	}

	log.Info().Int("pools", len(pools)).Msg("Pools fetched from chain")
	return pools, nil
}

// newSubmitter returns a relay submitter when a relay is configured and a
// dry-run submitter otherwise
func (a *Arbitrageur) newSubmitter(ctx context.Context) (bundle.Submitter, error) {
	rc := a.cfg.Relay
	recipient := common.HexToAddress(rc.Recipient)
	if rc.URL == "" {
		log.Info().Msg("No relay configured, bundles are logged only")
		return bundle.DryRunSubmitter{Recipient: recipient}, nil
	}

	breaker := bundle.DefaultBreakerConfig("relay")
	breaker.FailureThreshold = rc.FailureThreshold
	breaker.Timeout = rc.BreakerTimeout

	relay, err := bundle.NewRelaySubmitter(ctx, bundle.RelayConfig{
		URL:               rc.URL,
		RequestsPerSecond: rc.RequestsPerSecond,
		Burst:             rc.Burst,
		Recipient:         recipient,
		Deadline:          rc.Deadline,
		Breaker:           breaker,
	}, nil)
	if err != nil {
		return nil, err
	}
	log.Warn().Msg("Relay configured without a transaction signer, submissions will fail")
	a.relay = relay
	return relay, nil
}

// Start runs the feeds and evaluators until ctx is done
func (a *Arbitrageur) Start(ctx context.Context) error {
	log.Info().Msg("Starting arbitrageur...")

	block, err := a.client.BlockNumber(ctx)
	if err != nil {
		return err
	}
	a.dispatcher.SetLatestBlock(block)

	if err := a.registry.Start(ctx); err != nil {
		return err
	}
	a.saveSnapshot(ctx)

	log.Info().
		Str("chainId", a.client.ChainID().String()).
		Uint64("currentBlock", block).
		Int("pools", len(a.registry.Pools())).
		Int("paths", len(a.registry.Paths())).
		Msg("Arbitrageur initialized")

	events := make(chan feed.Event, 1024)
	logs := feed.NewLogSource(a.client, a.decoder, a.registry.Addresses(), a.cfg.Feed.ReconnectDelay)
	logs.SetStartBlock(block)
	sources := []feed.Source{logs}
	if a.cfg.Feed.StreamURL != "" {
		sources = append(sources, feed.NewStreamSource(a.cfg.Feed.StreamURL, a.cfg.Feed.ReconnectDelay))
	}

	var wg conc.WaitGroup
	for _, src := range sources {
		src := src
		wg.Go(func() {
			if err := src.Run(ctx, events); err != nil {
				a.logger.LogError(err, "reserve feed")
			}
		})
	}
	wg.Go(func() { a.dispatcher.Run(ctx, events) })
	wg.Go(func() {
		heads := feed.NewHeadTracker(a.client, a.dispatcher, a.cfg.Feed.ReconnectDelay)
		if err := heads.Run(ctx); err != nil {
			a.logger.LogError(err, "head tracker")
		}
	})
	wg.Go(func() {
		if err := a.logger.Watch(ctx, a.opps); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.LogError(err, "opportunity log")
		}
	})
	if a.cfg.Metrics.Enabled {
		wg.Go(func() { a.serveMetrics(ctx) })
	}

	statsTicker := time.NewTicker(a.cfg.Feed.StatsInterval)
	defer statsTicker.Stop()
	snapshotTicker := time.NewTicker(a.cfg.Snapshot.Interval)
	defer snapshotTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Shutting down arbitrageur...")
			wg.Wait()
			a.saveSnapshot(context.Background())
			return ctx.Err()

		case <-statsTicker.C:
			a.logger.LogStats(a.dispatcher.Stats(), len(a.registry.Paths()))

		case <-snapshotTicker.C:
			a.saveSnapshot(ctx)
		}
	}
}

func (a *Arbitrageur) serveMetrics(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.metrics, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: a.cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", a.cfg.Metrics.Addr).Msg("Serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.logger.LogError(err, "metrics server")
	}
}

// saveSnapshot persists the current cycles with their confirmed reserves
func (a *Arbitrageur) saveSnapshot(ctx context.Context) {
	triples := a.registry.Triples()
	if len(triples) == 0 {
		return
	}

	seq, err := a.snapshots.NextSeq()
	if err != nil {
		a.logger.LogError(err, "snapshot sequence")
		return
	}
	if _, err := a.snapshots.Save(snapshot.New(seq, triples)); err != nil {
		a.logger.LogError(err, "saving snapshot")
		return
	}
	if err := a.snapshots.Cleanup(a.cfg.Snapshot.Keep); err != nil {
		a.logger.LogError(err, "cleaning snapshots")
	}

	if a.store != nil {
		if err := a.store.SaveTriples(ctx, triples); err != nil {
			a.logger.LogError(err, "saving SQLite store")
		}
	}
}

// Close shuts down the arbitrageur
func (a *Arbitrageur) Close() {
	if a.registry != nil {
		a.registry.Close()
	}
	if a.relay != nil {
		a.relay.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
	if a.client != nil {
		a.client.Close()
	}
	a.opps.Close()
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Setup signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	arb, err := NewArbitrageur(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create arbitrageur")
	}
	defer arb.Close()

	if err := arb.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Arbitrageur error")
	}

	log.Info().Msg("Arbitrageur stopped")
}
