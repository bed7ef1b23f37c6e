package arbitrage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bvkgo/topic"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/panics"

	"github.com/devlongs/cyclearb/internal/bundle"
	"github.com/devlongs/cyclearb/internal/ctxutil"
	"github.com/devlongs/cyclearb/internal/pool"
	"github.com/devlongs/cyclearb/internal/signal"
	"github.com/devlongs/cyclearb/pkg/types"
)

// DefaultThreshold is the index above which a path is worth sizing: a 5%
// theoretical edge before fees and slippage.
var DefaultThreshold = decimal.RequireFromString("1.05")

const DefaultPrecision int32 = 32

var errAlreadyStarted = errors.New("evaluator already started")

// BlockSource reports the latest confirmed block number
type BlockSource interface {
	LatestBlock() uint64
}

// Config holds the collaborators and tuning of an Evaluator. Zero values
// select DefaultThreshold, DefaultPrecision and a ClosedFormOptimizer; a
// nil Submitter only publishes opportunities.
type Config struct {
	Threshold     decimal.Decimal
	Precision     int32
	Optimizer     Optimizer
	Submitter     bundle.Submitter
	Blocks        BlockSource
	Metrics       *Metrics
	Opportunities *topic.Topic[*types.Opportunity]
}

func (c Config) withDefaults() Config {
	if c.Threshold.Sign() <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.Precision <= 0 {
		c.Precision = DefaultPrecision
	}
	if c.Optimizer == nil {
		c.Optimizer = ClosedFormOptimizer{Precision: c.Precision}
	}
	return c
}

// EvaluatorState is the lifecycle state of an Evaluator
type EvaluatorState int

const (
	Idle EvaluatorState = iota
	Active
	Stopped
)

func (s EvaluatorState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Active:
		return "active"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// reading is one recomputation of a path's index
type reading struct {
	reserves [6]decimal.Decimal
	index    decimal.Decimal
	ok       bool
}

// Evaluator keeps a path's pending and confirmed arbitrage index up to date
// and sizes a trade whenever the pending index exceeds the threshold.
type Evaluator struct {
	path *Path
	cfg  Config
	cg   ctxutil.CloseGroup

	mu    sync.Mutex
	state EvaluatorState
	last  [2]reading
}

func NewEvaluator(p *Path, cfg Config) *Evaluator {
	return &Evaluator{
		path: p,
		cfg:  cfg.withDefaults(),
	}
}

// Path returns the evaluated path
func (e *Evaluator) Path() *Path { return e.path }

// State returns the lifecycle state
func (e *Evaluator) State() EvaluatorState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Index returns the most recently computed index for st. It reports false
// before the first recomputation or when a denominator reserve is zero.
func (e *Evaluator) Index(st pool.State) (decimal.Decimal, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r := e.last[st]
	return r.index, r.ok
}

// Start subscribes to the pending and confirmed reserves of the path's six
// tokens. Evaluation stops when ctx is done or Close is called.
func (e *Evaluator) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state != Idle {
		e.mu.Unlock()
		return errAlreadyStarted
	}
	e.state = Active
	e.mu.Unlock()

	e.cg.WithParent(ctx)
	for _, st := range []pool.State{pool.Pending, pool.Confirmed} {
		cells := make([]*signal.Cell[decimal.Decimal], 0, 6)
		for _, t := range e.path.tokens {
			cells = append(cells, t.Cell(st))
		}

		sig, run := signal.Combine(e.recompute, cells...)
		st := st
		e.cg.Go(func(ctx context.Context) { e.combine(ctx, st, run) })
		e.cg.Go(func(ctx context.Context) { e.watch(ctx, st, sig) })
	}

	e.cfg.Metrics.pathStarted()
	log.Debug().
		Str("path", e.path.String()).
		Str("scenario", e.path.Scenario().String()).
		Msg("Path evaluator started")
	return nil
}

// Close stops evaluation and waits for in-flight optimizations and
// submissions.
func (e *Evaluator) Close() {
	e.mu.Lock()
	wasActive := e.state == Active
	e.state = Stopped
	e.mu.Unlock()

	e.cg.Close()
	if wasActive {
		e.cfg.Metrics.pathStopped()
	}
}

func (e *Evaluator) recompute(raw []decimal.Decimal) reading {
	var r reading
	for i, t := range e.path.tokens {
		r.reserves[i] = t.Normalize(raw[i])
	}
	r.index, r.ok = ArbIndex(r.reserves, e.cfg.Precision)
	return r
}

// combine drives one combined signal. A panic stops it and closes the
// signal, which ends the matching watch.
func (e *Evaluator) combine(ctx context.Context, st pool.State, run func(context.Context)) {
	var pc panics.Catcher
	pc.Try(func() { run(ctx) })
	if rec := pc.Recovered(); rec != nil {
		log.Error().
			Err(rec.AsError()).
			Str("path", e.path.String()).
			Str("state", st.String()).
			Msg("Path recomputation panicked")
	}
}

func (e *Evaluator) watch(ctx context.Context, st pool.State, sig *signal.Signal[reading]) {
	defer sig.Close()

	for {
		r, err := sig.Next(ctx)
		if err != nil {
			return
		}
		e.observe(st, r)
	}
}

func (e *Evaluator) observe(st pool.State, r reading) {
	e.cfg.Metrics.recomputed(st.String())

	e.mu.Lock()
	e.last[st] = r
	e.mu.Unlock()

	if !r.ok {
		log.Debug().
			Str("path", e.path.String()).
			Str("state", st.String()).
			Msg("Arbitrage index undefined, zero reserve")
		return
	}

	log.Debug().
		Str("path", e.path.String()).
		Str("state", st.String()).
		Str("index", r.index.String()).
		Msg("Arbitrage index recomputed")

	// Only pending reserves trigger trades.
	if st != pool.Pending || !AboveThreshold(r.reserves, e.cfg.Threshold) {
		return
	}
	e.cg.Go(func(ctx context.Context) { e.evaluate(ctx, r) })
}

func (e *Evaluator) evaluate(ctx context.Context, r reading) {
	var pc panics.Catcher
	pc.Try(func() { e.trade(ctx, r) })
	if rec := pc.Recovered(); rec != nil {
		log.Error().
			Err(rec.AsError()).
			Str("path", e.path.String()).
			Msg("Path evaluation panicked")
	}
}

func (e *Evaluator) trade(ctx context.Context, r reading) {
	pools := e.path.pools
	req := Request{
		Reserves: r.reserves,
		Fees: [3]decimal.Decimal{
			pools[0].Fee().Multiplier(),
			pools[1].Fee().Multiplier(),
			pools[2].Fee().Multiplier(),
		},
	}

	start := time.Now()
	res, err := e.cfg.Optimizer.Optimize(ctx, req)
	elapsed := time.Since(start).Seconds()
	switch {
	case err != nil:
		e.cfg.Metrics.optimized("error", elapsed)
		log.Warn().Err(err).Str("path", e.path.String()).Msg("Optimizer failed")
		return
	case res == nil:
		e.cfg.Metrics.optimized("infeasible", elapsed)
		log.Debug().
			Str("path", e.path.String()).
			Str("index", r.index.String()).
			Msg("No profitable trade")
		return
	}
	e.cfg.Metrics.optimized("profitable", elapsed)

	routes, err := buildRoutes(e.path, res)
	if err != nil {
		log.Warn().Err(err).Str("path", e.path.String()).Msg("Could not build trade routes")
		return
	}

	var target uint64
	if e.cfg.Blocks != nil {
		target = e.cfg.Blocks.LatestBlock() + 1
	}
	opp := &types.Opportunity{
		Type:        types.ArbitrageTypeCyclic,
		Path:        e.path.String(),
		Index:       r.index,
		Profit:      res.Profit,
		ProfitToken: e.path.Token(SlotA1).Token(),
		Routes:      routes,
		TargetBlock: target,
	}
	b := bundle.New(opp, collectPendingTxs(pools[:]))
	opp.ID = b.ID

	log.Info().
		Str("id", opp.ID).
		Str("path", opp.Path).
		Str("index", r.index.StringFixed(6)).
		Str("deltaIn", res.DeltaA.String()).
		Str("profit", res.Profit.String()).
		Str("profitToken", opp.ProfitToken.Symbol).
		Uint64("targetBlock", target).
		Msg("ARBITRAGE OPPORTUNITY")

	if e.cfg.Opportunities != nil {
		e.cfg.Opportunities.Send(opp)
	}
	if e.cfg.Submitter == nil {
		return
	}

	if err := e.cfg.Submitter.Submit(ctx, b); err != nil {
		e.cfg.Metrics.submitted("failed")
		log.Warn().
			Err(err).
			Str("id", opp.ID).
			Str("path", opp.Path).
			Msg("Bundle submission failed")
		return
	}
	e.cfg.Metrics.submitted("ok")
}
