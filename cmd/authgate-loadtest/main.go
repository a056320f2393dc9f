// Command authgate-loadtest drives the auth facade with concurrent
// sign-up, sign-in and session lookups and prints latency percentiles.
//
// With no backend URL every call is served by the in-process backup store,
// which makes the run a measurement of password hashing and store locking.
// Point -backend-url and -anon-key at a real backend to measure the remote
// path and its failover under load.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/backup"
	log "github.com/sirupsen/logrus"
)

type account struct {
	creds authgate.Credentials
	token string
}

func main() {
	var (
		users       = flag.Int("users", 2000, "number of accounts to register")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 20000, "operations per phase (sign-in + session)")
		backendURL  = flag.String("backend-url", "", "remote backend URL; empty serves everything from memory")
		anonKey     = flag.String("anon-key", "", "remote backend public key")
		delays      = flag.Bool("delays", false, "keep the backup store's simulated latency")
		verbose     = flag.Bool("v", false, "log facade warnings")
	)
	flag.Parse()

	if *users <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "users, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	cfg := authgate.DefaultConfig()
	cfg.Remote.URL = *backendURL
	cfg.Remote.AnonKey = *anonKey
	cfg.Probe.AssumeOnline = true
	cfg.Audit.Enabled = false
	if !*delays {
		cfg.Backup.Delays = backup.Delays{}
	}

	logger := log.New()
	logger.SetLevel(log.ErrorLevel)
	if *verbose {
		logger.SetLevel(log.WarnLevel)
	}

	facade, err := authgate.New().WithConfig(cfg).WithLogger(logger).Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build facade: %v\n", err)
		os.Exit(1)
	}
	defer facade.Close()

	ctx := context.Background()
	fmt.Printf("remote state: %s\n", facade.Probe(ctx).StateName)

	accounts := make([]account, *users)
	for i := range accounts {
		accounts[i].creds = authgate.Credentials{
			Email:    fmt.Sprintf("load-%d@example.com", i),
			Password: fmt.Sprintf("pw-%d", i),
		}
	}

	signUpStats := runPhase(*users, *concurrency, func(_ *rand.Rand, i int) bool {
		res := facade.SignUp(ctx, accounts[i].creds)
		if !res.OK() || res.Data.Session == nil {
			return false
		}
		accounts[i].token = res.Data.Session.Token
		return true
	})

	signInStats := runPhase(*ops, *concurrency, func(r *rand.Rand, _ int) bool {
		return facade.SignIn(ctx, accounts[r.Intn(len(accounts))].creds).OK()
	})

	sessionStats := runPhase(*ops, *concurrency, func(r *rand.Rand, _ int) bool {
		res := facade.GetSession(ctx, accounts[r.Intn(len(accounts))].token)
		return res.OK() && res.Data.Session != nil
	})

	fmt.Println("---- results ----")
	printStats("sign-up", signUpStats)
	printStats("sign-in", signInStats)
	printStats("session", sessionStats)

	snap := facade.MetricsSnapshot()
	fmt.Printf("served: remote=%d backup=%d failover=%d\n",
		snap.Counters[authgate.MetricServedRemote],
		snap.Counters[authgate.MetricServedBackup],
		snap.Counters[authgate.MetricFailover],
	)
}

// runPhase calls op ops times across concurrency workers. op reports
// whether the call succeeded.
func runPhase(ops, concurrency int, op func(r *rand.Rand, i int) bool) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				ok := op(r, i)
				d := time.Since(t0)
				if !ok {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total, failures: failures}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	stats := phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
	}
	if total > 0 {
		stats.opsPerS = float64(len(samples)) / total.Seconds()
	}
	return stats
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
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
