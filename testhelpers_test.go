package authcore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/tokenwarden/authcore/storage"
	"github.com/tokenwarden/authcore/storage/gormstore"
	"github.com/tokenwarden/authcore/storage/redisstore"
)

const testPassword = "correct-password-123"

var (
	testBaseTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	testSecret   = []byte("0123456789abcdef0123456789abcdef")
	sqliteSeq    atomic.Int64
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock { return &testClock{now: testBaseTime} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = testSecret
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 256
	cfg.Audit.DropIfFull = true
	return cfg
}

type testEngine struct {
	*Engine
	clock *testClock
	store storage.Store
	sink  *ChannelSink
	// deactivate flips is_active off; nil for backends that cannot do it directly.
	deactivate func(t *testing.T, userID string)
}

type backend struct {
	name string
	open func(t *testing.T) (storage.Store, func(t *testing.T, userID string))
}

func backends() []backend {
	return []backend{
		{name: "sqlite", open: openSQLite},
		{name: "redis", open: openRedis},
	}
}

func openSQLite(t *testing.T) (storage.Store, func(t *testing.T, userID string)) {
	t.Helper()
	dsn := fmt.Sprintf("file:engine_%d?mode=memory&cache=shared&_foreign_keys=1", sqliteSeq.Add(1))
	s, err := gormstore.Open(gormstore.DialectSQLite, dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := s.DB().DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := s.AutoMigrate(); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	deactivate := func(t *testing.T, userID string) {
		t.Helper()
		if err := s.DB().Table("users").Where("id = ?", userID).Update("is_active", false).Error; err != nil {
			t.Fatalf("deactivate: %v", err)
		}
	}
	return s, deactivate
}

func openRedis(t *testing.T) (storage.Store, func(t *testing.T, userID string)) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return redisstore.New(rdb), nil
}

func newTestEngine(t *testing.T, open func(t *testing.T) (storage.Store, func(t *testing.T, userID string)), mutate ...func(*Config)) *testEngine {
	t.Helper()

	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	sink := NewChannelSink(1024)

	store, deactivate := open(t)
	clock := newTestClock()
	engine, err := New().
		WithConfig(cfg).
		WithStore(store).
		WithClock(clock.Now).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEngine{Engine: engine, clock: clock, store: store, sink: sink, deactivate: deactivate}
}

func eachBackend(t *testing.T, fn func(t *testing.T, te *testEngine)) {
	for _, b := range backends() {
		b := b
		t.Run(b.name, func(t *testing.T) {
			fn(t, newTestEngine(t, b.open))
		})
	}
}

func (te *testEngine) mustCreateUser(t *testing.T, email string) *User {
	t.Helper()
	u, err := te.CreateUser(context.Background(), CreateUserInput{
		Email:    email,
		Password: testPassword,
		FullName: "Test User",
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func (te *testEngine) mustLogin(t *testing.T, identifier string) *LoginResult {
	t.Helper()
	res, err := te.Login(context.Background(), identifier, testPassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	return res
}

func (te *testEngine) active(t *testing.T, userID string) int64 {
	t.Helper()
	n, err := te.ActiveRefreshTokens(context.Background(), userID)
	if err != nil {
		t.Fatalf("active tokens: %v", err)
	}
	return n
}

func nextEvent(t *testing.T, sink *ChannelSink, eventType string) AuditEvent {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-sink.Events():
			if ev.EventType == eventType {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for audit event %q", eventType)
			return AuditEvent{}
		}
	}
}
