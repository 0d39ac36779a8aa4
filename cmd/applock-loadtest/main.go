// Command applock-loadtest measures credential vault throughput over Redis.
// Each simulated device owns a prefixed key space holding one credential set.
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

	"github.com/MrEthical07/applock/credstore"
	"github.com/MrEthical07/applock/password"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type device struct {
	vault    *credstore.Vault
	username string
	password string
}

func main() {
	var (
		devices     = flag.Int("devices", 10000, "number of devices to seed")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 100000, "operations per phase (load + save)")
		verifyOps   = flag.Int("verify-ops", 2000, "password verifications (argon2id bound)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "applock", "device key prefix")
	)
	flag.Parse()

	if *devices <= 0 || *concurrency <= 0 || *ops <= 0 || *verifyOps < 0 {
		fmt.Fprintln(os.Stderr, "devices, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	hasher, err := password.NewHasher(password.DefaultConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "hasher: %v\n", err)
		os.Exit(1)
	}
	store := credstore.NewRedisStore(client, *prefix, 0)

	// One hash shared by every device keeps seeding fast.
	const pass = "loadtest-pass"
	encoded, err := hasher.Hash(pass)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hash: %v\n", err)
		os.Exit(1)
	}

	fleet := make([]device, *devices)
	fmt.Printf("seeding %d devices...\n", *devices)
	startSeed := time.Now()
	for i := range fleet {
		d := device{
			vault:    credstore.NewVault(credstore.Prefixed(store, fmt.Sprintf("dev-%d", i)), hasher, nil),
			username: fmt.Sprintf("user-%d", i),
			password: pass,
		}
		if err := seed(ctx, d, encoded); err != nil {
			fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
			os.Exit(1)
		}
		fleet[i] = d
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	loadStats := runPhase(fleet, *ops, *concurrency, 7919, func(d *device, _ int) error {
		s, err := d.vault.Load(ctx)
		if err == nil && !s.HasSession() {
			err = fmt.Errorf("device %s has no session", d.username)
		}
		return err
	})
	saveStats := runPhase(fleet, *ops, *concurrency, 6151, func(d *device, i int) error {
		return d.vault.SaveProfile(ctx, profileFor(d.username, i))
	})
	var verifyStats phaseStats
	if *verifyOps > 0 {
		verifyStats = runPhase(fleet, *verifyOps, *concurrency, 4099, func(d *device, _ int) error {
			s, err := d.vault.Load(ctx)
			if err != nil {
				return err
			}
			ok, err := d.vault.VerifyPassword(ctx, s, d.password)
			if err == nil && !ok {
				err = fmt.Errorf("device %s: password mismatch", d.username)
			}
			return err
		})
	}

	fmt.Println("---- results ----")
	printStats("load", loadStats)
	printStats("save", saveStats)
	if *verifyOps > 0 {
		printStats("verify", verifyStats)
	}
}

// seed writes the credential set directly with a precomputed hash.
func seed(ctx context.Context, d device, encoded string) error {
	s := d.vault.Store()
	if err := s.Set(ctx, credstore.KeyToken, "tok-"+d.username); err != nil {
		return err
	}
	if err := s.Set(ctx, credstore.KeyUsername, d.username); err != nil {
		return err
	}
	if err := s.Set(ctx, credstore.KeyPassword, encoded); err != nil {
		return err
	}
	return d.vault.SaveProfile(ctx, profileFor(d.username, 0))
}

func profileFor(username string, rev int) []byte {
	return []byte(fmt.Sprintf(`{"username":%q,"rev":%d}`, username, rev))
}

func runPhase(fleet []device, ops, concurrency int, seedMul int64, op func(d *device, i int) error) phaseStats {
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
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*seedMul))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				d := &fleet[r.Intn(len(fleet))]
				t0 := time.Now()
				err := op(d, i)
				elapsed := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, elapsed)
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
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
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
