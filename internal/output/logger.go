package output

import (
	"context"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/bvkgo/topic"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/devlongs/cyclearb/internal/config"
	"github.com/devlongs/cyclearb/internal/feed"
	"github.com/devlongs/cyclearb/pkg/types"
)

// Logger handles output of found opportunities and running statistics
type Logger struct {
	mu    sync.Mutex
	stats Stats
}

// Stats tracks opportunity statistics
type Stats struct {
	OpportunitiesFound uint64
	ProfitByToken      map[string]decimal.Decimal
	StartTime          time.Time
}

// Setup configures the global zerolog logger
func Setup(cfg config.LoggingConfig) {
	switch cfg.Format {
	case "json":
		// Default JSON output
	case "console":
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "15:04:05",
		})
	}

	switch cfg.Level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	}
}

// NewLogger configures logging and creates an opportunity logger
func NewLogger(cfg config.LoggingConfig) *Logger {
	Setup(cfg)
	return &Logger{
		stats: Stats{
			ProfitByToken: make(map[string]decimal.Decimal),
			StartTime:     time.Now(),
		},
	}
}

// LogOpportunity records an opportunity and logs its legs
func (l *Logger) LogOpportunity(opp *types.Opportunity) {
	l.mu.Lock()
	l.stats.OpportunitiesFound++
	sym := opp.ProfitToken.Symbol
	l.stats.ProfitByToken[sym] = l.stats.ProfitByToken[sym].Add(opp.Profit)
	l.mu.Unlock()

	for i, r := range opp.Routes {
		log.Debug().
			Str("id", opp.ID).
			Int("leg", i+1).
			Str("pool", r.Pool.Hex()).
			Str("tokenIn", r.TokenIn.Symbol).
			Str("tokenOut", r.TokenOut.Symbol).
			Str("amountIn", r.AmountIn.String()).
			Str("amountOut", r.AmountOut.String()).
			Msg("Trade leg")
	}
}

// Watch logs every opportunity published on opps until ctx is done
func (l *Logger) Watch(ctx context.Context, opps *topic.Topic[*types.Opportunity]) error {
	r, ch, err := opps.Subscribe(0, false /* includeRecent */)
	if err != nil {
		return err
	}
	defer r.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case opp, ok := <-ch:
			if !ok {
				return nil
			}
			l.LogOpportunity(opp)
		}
	}
}

// LogStats logs current statistics
func (l *Logger) LogStats(events feed.DispatchStats, paths int) {
	stats := l.GetStats()
	elapsed := time.Since(stats.StartTime)

	tokens := make([]string, 0, len(stats.ProfitByToken))
	for sym := range stats.ProfitByToken {
		tokens = append(tokens, sym)
	}
	sort.Strings(tokens)
	profits := zerolog.Dict()
	for _, sym := range tokens {
		profits.Str(sym, stats.ProfitByToken[sym].StringFixed(6))
	}

	log.Info().
		Int("paths", paths).
		Uint64("pendingEvents", events.Pending).
		Uint64("confirmedEvents", events.Confirmed).
		Uint64("rejectedEvents", events.Rejected).
		Uint64("opportunities", stats.OpportunitiesFound).
		Dict("profit", profits).
		Dur("uptime", elapsed).
		Msg("Arbitrageur Stats")
}

// LogError logs an error
func (l *Logger) LogError(err error, context string) {
	log.Error().
		Err(err).
		Str("context", context).
		Msg("Error occurred")
}

// GetStats returns a copy of the current statistics
func (l *Logger) GetStats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.stats
	s.ProfitByToken = make(map[string]decimal.Decimal, len(l.stats.ProfitByToken))
	for k, v := range l.stats.ProfitByToken {
		s.ProfitByToken[k] = v
	}
	return s
}
