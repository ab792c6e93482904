package main

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/identityflow"
	"github.com/MrEthical07/identityflow/store/memory"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

type loadtestOptions struct {
	consumers int
	rounds    int
	redisAddr string
	store     string
}

func newLoadtestCmd() *cobra.Command {
	opts := loadtestOptions{}

	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Race parallel consumers against single-use tokens",
		Long: `loadtest issues one token per round and lets every consumer try to
redeem it at once. Exactly one consumer must win each round.

With --store redis and no --redis-addr, an in-process miniredis is used.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.consumers <= 0 || opts.rounds <= 0 {
				return fmt.Errorf("consumers and rounds must be > 0")
			}
			store, cleanup, err := loadtestStore(cmd.OutOrStdout(), opts)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := runConsumeRace(cmd.Context(), store, opts.consumers, opts.rounds)
			if err != nil {
				return err
			}
			printStats(cmd.OutOrStdout(), "consume", stats)
			if stats.badRounds > 0 {
				return fmt.Errorf("%d of %d rounds did not have exactly one winner", stats.badRounds, opts.rounds)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.IntVar(&opts.consumers, "consumers", 64, "concurrent consumers per token")
	f.IntVar(&opts.rounds, "rounds", 200, "tokens to race")
	f.StringVar(&opts.store, "store", "redis", "token store (redis or memory)")
	f.StringVar(&opts.redisAddr, "redis-addr", "", "redis address; empty starts miniredis")
	return cmd
}

func loadtestStore(out io.Writer, opts loadtestOptions) (identityflow.TokenStore, func(), error) {
	switch opts.store {
	case "memory":
		fmt.Fprintln(out, "using in-memory token store")
		return memory.NewTokens(), func() {}, nil
	case "redis":
	default:
		return nil, nil, fmt.Errorf("unknown store %q", opts.store)
	}

	addr := opts.redisAddr
	var mr *miniredis.Miniredis
	if addr == "" {
		var err error
		mr, err = miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("start miniredis: %w", err)
		}
		addr = mr.Addr()
		fmt.Fprintf(out, "using miniredis at %s\n", addr)
	} else {
		fmt.Fprintf(out, "using redis at %s\n", addr)
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	cleanup := func() {
		_ = client.Close()
		if mr != nil {
			mr.Close()
		}
	}
	return identityflow.NewRedisTokenStore(client, "loadtest", 0), cleanup, nil
}

type raceStats struct {
	total     time.Duration
	ops       int
	wins      int64
	failures  int64
	badRounds int
	p50       time.Duration
	p95       time.Duration
	p99       time.Duration
	opsPerS   float64
}

func runConsumeRace(ctx context.Context, store identityflow.TokenStore, consumers, rounds int) (raceStats, error) {
	svc := identityflow.NewTokenService(store, identityflow.DefaultConfig().Tokens)
	user, err := identityflow.NewUser(identityflow.UserInput{Identity: "loadtest@example.test", CredentialHash: "-"})
	if err != nil {
		return raceStats{}, err
	}

	var (
		latencies = make([]time.Duration, 0, consumers*rounds)
		wins      int64
		failures  int64
		badRounds int
	)

	start := time.Now()
	for round := 0; round < rounds; round++ {
		token, err := svc.Generate(ctx, user, identityflow.PurposePasswordReset, true)
		if err != nil {
			return raceStats{}, fmt.Errorf("generate: %w", err)
		}

		var (
			wg         sync.WaitGroup
			roundWins  atomic.Int64
			startGate  = make(chan struct{})
			roundTimes = make([]time.Duration, consumers)
		)
		for c := 0; c < consumers; c++ {
			wg.Add(1)
			go func(c int) {
				defer wg.Done()
				<-startGate
				t0 := time.Now()
				ok, err := svc.CheckToken(ctx, user, token.Value, identityflow.PurposePasswordReset, true)
				roundTimes[c] = time.Since(t0)
				switch {
				case err != nil:
					atomic.AddInt64(&failures, 1)
				case ok:
					roundWins.Add(1)
				}
			}(c)
		}
		close(startGate)
		wg.Wait()

		if roundWins.Load() != 1 {
			badRounds++
		}
		wins += roundWins.Load()
		latencies = append(latencies, roundTimes...)
	}

	stats := computeStats(time.Since(start), latencies)
	stats.wins = wins
	stats.failures = failures
	stats.badRounds = badRounds
	return stats, nil
}

func computeStats(total time.Duration, samples []time.Duration) raceStats {
	if len(samples) == 0 {
		return raceStats{total: total}
	}
	slices.Sort(samples)
	return raceStats{
		total:   total,
		ops:     len(samples),
		p50:     percentile(samples, 50),
		p95:     percentile(samples, 95),
		p99:     percentile(samples, 99),
		opsPerS: float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(w io.Writer, name string, s raceStats) {
	fmt.Fprintf(w, "%s: ops=%d wins=%d failures=%d bad_rounds=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.wins,
		s.failures,
		s.badRounds,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
