package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/tokenwarden/authcore"
	"github.com/tokenwarden/authcore/internal/config"
	"github.com/tokenwarden/authcore/internal/logging"
)

type account struct {
	email    string
	password string

	mu      sync.Mutex
	current string
	stale   string
}

func main() {
	var (
		configPath  = flag.String("config", "", "path to config file (or use CONFIG_PATH env)")
		users       = flag.Int("users", 200, "number of accounts to seed")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 20000, "refresh operations")
		replays     = flag.Int("replays", 50, "stale refresh tokens to replay")
		lightHash   = flag.Bool("light-hash", true, "use the minimum Argon2id cost so seeding is fast")
	)
	flag.Parse()

	if *users <= 0 || *concurrency <= 0 || *ops <= 0 || *replays < 0 {
		fmt.Fprintln(os.Stderr, "users, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	path := *configPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log, err := logging.New(cfg.Env, os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if cfg.JWT.PrivateKey == "" && cfg.JWT.PrivateKeyFile == "" {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			log.Error("generate signing key", logging.Err(err))
			os.Exit(1)
		}
		cfg.JWT.SigningMethod = "ed25519"
		cfg.JWT.PrivateKey = string(priv)
		log.Info("using an ephemeral ed25519 signing key")
	}

	engineCfg, err := cfg.Engine()
	if err != nil {
		log.Error("engine config", logging.Err(err))
		os.Exit(2)
	}
	if *lightHash {
		engineCfg.Password.Memory = 8 * 1024
		engineCfg.Password.Time = 1
		engineCfg.Password.Parallelism = 1
	}
	engineCfg.Metrics.Enabled = true
	for _, w := range engineCfg.Lint().BySeverity(authcore.LintWarn) {
		log.Warn("config lint", slog.String("code", w.Code), slog.String("message", w.Message))
	}

	ctx := context.Background()
	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Error("open store", logging.Err(err))
		os.Exit(1)
	}
	defer closeStore()

	engine, err := authcore.New().
		WithConfig(engineCfg).
		WithStore(store).
		WithLogger(log).
		Build()
	if err != nil {
		log.Error("build engine", logging.Err(err))
		os.Exit(1)
	}
	defer engine.Close()

	accounts, err := seed(ctx, engine, *users)
	if err != nil {
		log.Error("seed", logging.Err(err))
		os.Exit(1)
	}

	loginStats := runLoginPhase(ctx, engine, accounts, *concurrency)
	refreshStats := runRefreshPhase(ctx, engine, accounts, *ops, *concurrency)
	detected, replayed := runReplayPhase(ctx, engine, accounts, *replays)

	fmt.Println("---- results ----")
	printStats("login", loginStats)
	printStats("refresh", refreshStats)
	fmt.Printf("replay: replayed=%d reuse_detected=%d\n", replayed, detected)

	snap := engine.MetricsSnapshot()
	fmt.Printf("metrics: refresh_success=%d race_lost=%d reuse_detected=%d\n",
		snap.Counters[authcore.MetricRefreshSuccess],
		snap.Counters[authcore.MetricRefreshRaceLost],
		snap.Counters[authcore.MetricRefreshReuseDetected],
	)
}

func seed(ctx context.Context, engine *authcore.Engine, n int) ([]*account, error) {
	faker := gofakeit.New(0)
	out := make([]*account, 0, n)
	seen := make(map[string]struct{}, n)

	start := time.Now()
	for len(out) < n {
		email := faker.Email()
		if _, dup := seen[email]; dup {
			continue
		}
		seen[email] = struct{}{}

		pw := faker.Password(true, true, true, false, false, 16)
		_, err := engine.CreateUser(ctx, authcore.CreateUserInput{
			Email:    email,
			Password: pw,
			FullName: faker.Name(),
		})
		if errors.Is(err, authcore.ErrUserExists) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", email, err)
		}
		out = append(out, &account{email: email, password: pw})
	}
	fmt.Printf("seeded %d accounts in %s\n", n, time.Since(start).Round(time.Millisecond))
	return out, nil
}

func runLoginPhase(ctx context.Context, engine *authcore.Engine, accounts []*account, concurrency int) phaseStats {
	rec := newRecorder(len(accounts))
	var cursor int64

	start := time.Now()
	var wg sync.WaitGroup
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= len(accounts) {
					return
				}
				a := accounts[i]
				t0 := time.Now()
				res, err := engine.Login(ctx, a.email, a.password)
				rec.add(time.Since(t0), err)
				if err == nil {
					a.mu.Lock()
					a.current = res.RefreshToken
					a.mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	return rec.stats(time.Since(start))
}

// runRefreshPhase rotates each account's chain. Workers never share a token, so
// any reuse error here indicates a store bug.
func runRefreshPhase(ctx context.Context, engine *authcore.Engine, accounts []*account, ops, concurrency int) phaseStats {
	rec := newRecorder(ops)
	var cursor int64

	start := time.Now()
	var wg sync.WaitGroup
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				a := accounts[i%len(accounts)]

				a.mu.Lock()
				if a.current == "" {
					a.mu.Unlock()
					continue
				}
				t0 := time.Now()
				res, err := engine.Refresh(ctx, a.current)
				rec.add(time.Since(t0), err)
				if err == nil {
					a.stale = a.current
					a.current = res.RefreshToken
				}
				a.mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return rec.stats(time.Since(start))
}

func runReplayPhase(ctx context.Context, engine *authcore.Engine, accounts []*account, n int) (detected, replayed int) {
	for _, a := range accounts {
		if replayed >= n {
			break
		}
		if a.stale == "" {
			continue
		}
		replayed++
		if _, err := engine.Refresh(ctx, a.stale); errors.Is(err, authcore.ErrRefreshTokenReuse) {
			detected++
		}
	}
	return detected, replayed
}
