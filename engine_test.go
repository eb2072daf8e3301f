package authcore

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tokenwarden/authcore/refresh"
)

func TestLoginRefreshRoundTrip(t *testing.T) {
	eachBackend(t, func(t *testing.T, te *testEngine) {
		ctx := context.Background()
		user := te.mustCreateUser(t, "Alice@Example.com ")
		if user.Email != "alice@example.com" {
			t.Fatalf("expected normalized email, got %q", user.Email)
		}

		login := te.mustLogin(t, "ALICE@example.com")
		if login.ExpiresIn != 900 {
			t.Fatalf("expected expires_in 900, got %d", login.ExpiresIn)
		}
		if len(login.RefreshToken) != refresh.EncodedLen {
			t.Fatalf("unexpected refresh token length %d", len(login.RefreshToken))
		}
		if login.User.LastLoginAt == nil {
			t.Fatal("expected last login to be set")
		}

		claims, err := te.ValidateAccess(login.AccessToken)
		if err != nil {
			t.Fatalf("validate access: %v", err)
		}
		if claims.UserID != user.ID || claims.Role != RoleUser || claims.Email != "alice@example.com" {
			t.Fatalf("unexpected claims %+v", claims)
		}
		if got := claims.ExpiresAt.Sub(claims.IssuedAt); got != 900*time.Second {
			t.Fatalf("expected 900s lifetime, got %v", got)
		}

		te.clock.Advance(time.Minute)
		rotated, err := te.Refresh(ctx, login.RefreshToken)
		if err != nil {
			t.Fatalf("refresh: %v", err)
		}
		if rotated.RefreshToken == login.RefreshToken {
			t.Fatal("refresh token must rotate")
		}
		if rotated.User.ID != user.ID || rotated.ExpiresIn != 900 {
			t.Fatalf("unexpected refresh result %+v", rotated)
		}
		if n := te.active(t, user.ID); n != 1 {
			t.Fatalf("expected one active token, got %d", n)
		}
	})
}

func TestRefreshReuseRevokesAllTokens(t *testing.T) {
	eachBackend(t, func(t *testing.T, te *testEngine) {
		ctx := context.Background()
		user := te.mustCreateUser(t, "bob@example.com")
		first := te.mustLogin(t, "bob@example.com")
		second := te.mustLogin(t, "bob@example.com")

		rotated, err := te.Refresh(ctx, first.RefreshToken)
		if err != nil {
			t.Fatalf("refresh: %v", err)
		}

		_, err = te.Refresh(ctx, first.RefreshToken)
		if !errors.Is(err, ErrRefreshTokenReuse) {
			t.Fatalf("expected reuse error, got %v", err)
		}
		if KindOf(err) != KindRefreshTokenReuse || err.Error() != "REFRESH_TOKEN_REUSE_DETECTED" {
			t.Fatalf("unexpected error shape %v", err)
		}
		ev := nextEvent(t, te.sink, "refresh_reuse_detected")
		if ev.UserID != user.ID || ev.Metadata["revoked"] != "2" || ev.Severity != AuditSeverityCritical {
			t.Fatalf("unexpected reuse audit event %+v", ev)
		}

		if n := te.active(t, user.ID); n != 0 {
			t.Fatalf("expected every token revoked, got %d active", n)
		}
		for _, tok := range []string{rotated.RefreshToken, second.RefreshToken} {
			if _, err := te.Refresh(ctx, tok); !errors.Is(err, ErrRefreshTokenReuse) {
				t.Fatalf("revoked token should report reuse, got %v", err)
			}
		}

		snap := te.MetricsSnapshot()
		if snap.Counters[MetricRefreshReuseDetected] != 3 {
			t.Fatalf("expected 3 reuse detections, got %d", snap.Counters[MetricRefreshReuseDetected])
		}
	})
}

func TestRefreshConcurrencySingleWinner(t *testing.T) {
	eachBackend(t, func(t *testing.T, te *testEngine) {
		user := te.mustCreateUser(t, "carol@example.com")
		login := te.mustLogin(t, "carol@example.com")

		const n = 16
		var wg sync.WaitGroup
		wg.Add(n)
		start := make(chan struct{})
		results := make(chan error, n)
		for i := 0; i < n; i++ {
			go func() {
				defer wg.Done()
				<-start
				_, err := te.Refresh(context.Background(), login.RefreshToken)
				results <- err
			}()
		}
		close(start)
		wg.Wait()
		close(results)

		success, reuse := 0, 0
		for err := range results {
			switch {
			case err == nil:
				success++
			case errors.Is(err, ErrRefreshTokenReuse):
				reuse++
			default:
				t.Fatalf("unexpected refresh error: %v", err)
			}
		}
		if success != 1 || reuse != n-1 {
			t.Fatalf("expected 1 winner and %d reuse, got %d/%d", n-1, success, reuse)
		}
		// Exactly one caller rotates, yet no token stays Active: each loser counts as
		// reuse and revokes the whole family, including the winner's fresh token.
		if got := te.active(t, user.ID); got != 0 {
			t.Fatalf("losers must revoke every token, got %d active", got)
		}
	})
}

func TestRefreshExpiredToken(t *testing.T) {
	eachBackend(t, func(t *testing.T, te *testEngine) {
		ctx := context.Background()
		user := te.mustCreateUser(t, "dave@example.com")
		login := te.mustLogin(t, "dave@example.com")
		other := te.mustLogin(t, "dave@example.com")

		te.clock.Advance(30 * 24 * time.Hour)
		_, err := te.Refresh(ctx, login.RefreshToken)
		if !errors.Is(err, ErrRefreshTokenExpired) {
			t.Fatalf("expected expired, got %v", err)
		}
		// expiry leaves the row unconsumed
		if _, err := te.Refresh(ctx, login.RefreshToken); !errors.Is(err, ErrRefreshTokenExpired) {
			t.Fatalf("expired refresh must not consume the row, got %v", err)
		}
		if te.MetricsSnapshot().Counters[MetricRefreshReuseDetected] != 0 {
			t.Fatal("expiry must not count as reuse")
		}
		if ok, err := te.InvalidateOne(ctx, other.RefreshToken); err != nil || !ok {
			t.Fatalf("expired but unused row is still revocable, got %v %v", ok, err)
		}
		if n := te.active(t, user.ID); n != 0 {
			t.Fatalf("expected no active tokens after expiry, got %d", n)
		}
	})
}

func TestRefreshInvalidTokens(t *testing.T) {
	eachBackend(t, func(t *testing.T, te *testEngine) {
		ctx := context.Background()
		unknown, err := refresh.Generate(nil)
		if err != nil {
			t.Fatal(err)
		}
		for _, tok := range []string{"", "not-a-token", unknown, strings.Repeat("=", refresh.EncodedLen)} {
			if _, err := te.Refresh(ctx, tok); !errors.Is(err, ErrInvalidRefreshToken) {
				t.Fatalf("Refresh(%q): expected invalid refresh token, got %v", tok, err)
			}
		}
	})
}

func TestInactiveAccount(t *testing.T) {
	te := newTestEngine(t, openSQLite)
	ctx := context.Background()
	user := te.mustCreateUser(t, "erin@example.com")
	login := te.mustLogin(t, "erin@example.com")
	te.deactivate(t, user.ID)

	if _, err := te.VerifyCredentials(ctx, "erin@example.com", testPassword); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("inactive login must look like bad credentials, got %v", err)
	}
	ev := nextEvent(t, te.sink, "login_failure")
	if ev.Metadata["reason"] != "inactive_account" || ev.UserID != user.ID {
		t.Fatalf("unexpected audit event %+v", ev)
	}

	if _, err := te.Refresh(ctx, login.RefreshToken); !errors.Is(err, ErrUserAccountInactive) {
		t.Fatalf("expected inactive refresh failure, got %v", err)
	}
	if n := te.active(t, user.ID); n != 1 {
		t.Fatalf("inactive refresh must leave the token active, got %d", n)
	}

	found, err := te.FindUserByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("find user: %v", err)
	}
	if found.IsActive {
		t.Fatal("expected inactive user")
	}
	if _, err := te.IssueTokenPair(ctx, found); !errors.Is(err, ErrUserAccountInactive) {
		t.Fatalf("expected issuance refusal, got %v", err)
	}
}

func TestVerifyCredentialsFailuresAreUniform(t *testing.T) {
	eachBackend(t, func(t *testing.T, te *testEngine) {
		ctx := context.Background()
		te.mustCreateUser(t, "frank@example.com")

		_, errUnknown := te.VerifyCredentials(ctx, "nobody@example.com", testPassword)
		unknown := nextEvent(t, te.sink, "login_failure")
		_, errWrong := te.VerifyCredentials(ctx, "frank@example.com", "wrong-password-123")
		wrong := nextEvent(t, te.sink, "login_failure")

		if !errors.Is(errUnknown, ErrInvalidCredentials) || !errors.Is(errWrong, ErrInvalidCredentials) {
			t.Fatalf("expected invalid credentials, got %v / %v", errUnknown, errWrong)
		}
		if errUnknown.Error() != errWrong.Error() {
			t.Fatalf("failure messages must not differ: %q vs %q", errUnknown, errWrong)
		}
		if unknown.Metadata["reason"] != "unknown_identifier" || wrong.Metadata["reason"] != "wrong_password" {
			t.Fatalf("unexpected reasons %q / %q", unknown.Metadata["reason"], wrong.Metadata["reason"])
		}
		if te.MetricsSnapshot().Counters[MetricLoginFailure] != 2 {
			t.Fatal("expected two login failures")
		}
	})
}

func TestVerifyCredentialsInputValidation(t *testing.T) {
	te := newTestEngine(t, openSQLite)
	ctx := context.Background()

	tests := []struct {
		identifier, password, field string
	}{
		{"", testPassword, "identifier"},
		{"   ", testPassword, "identifier"},
		{"a@example.com", "", "password"},
	}
	for _, tt := range tests {
		_, err := te.VerifyCredentials(ctx, tt.identifier, tt.password)
		var e *Error
		if !errors.As(err, &e) || e.Kind != KindInvalidInput || e.Field != tt.field {
			t.Fatalf("VerifyCredentials(%q, %q): expected invalid %s, got %v", tt.identifier, tt.password, tt.field, err)
		}
	}
	if te.MetricsSnapshot().Counters[MetricLoginFailure] != 0 {
		t.Fatal("input errors must not count as login failures")
	}
}

func TestLoginByPhone(t *testing.T) {
	eachBackend(t, func(t *testing.T, te *testEngine) {
		ctx := context.Background()
		u, err := te.CreateUser(ctx, CreateUserInput{Phone: "+1 (555) 010-9999", Password: testPassword})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if u.Phone != "+15550109999" || u.Email != "" {
			t.Fatalf("unexpected identifiers %+v", u)
		}
		res, err := te.Login(ctx, "+1 555 010 9999", testPassword)
		if err != nil {
			t.Fatalf("login by phone: %v", err)
		}
		if res.User.ID != u.ID {
			t.Fatalf("unexpected user %s", res.User.ID)
		}
	})
}

func TestCreateUserValidation(t *testing.T) {
	te := newTestEngine(t, openSQLite)
	ctx := context.Background()

	tests := []struct {
		name  string
		in    CreateUserInput
		field string
	}{
		{"no identifier", CreateUserInput{Password: testPassword}, "identifier"},
		{"bad email", CreateUserInput{Email: "not an email", Password: testPassword}, "email"},
		{"bad phone", CreateUserInput{Phone: "12ab", Password: testPassword}, "phone"},
		{"short phone", CreateUserInput{Phone: "12345", Password: testPassword}, "phone"},
		{"short password", CreateUserInput{Email: "a@example.com", Password: "short"}, "password"},
		{"long password", CreateUserInput{Email: "a@example.com", Password: strings.Repeat("x", 129)}, "password"},
		{"bad role", CreateUserInput{Email: "a@example.com", Password: testPassword, Role: "root"}, "role"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := te.CreateUser(ctx, tt.in)
			var e *Error
			if !errors.As(err, &e) || e.Kind != KindInvalidInput || e.Field != tt.field {
				t.Fatalf("expected invalid %s, got %v", tt.field, err)
			}
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatal("field errors must match ErrInvalidInput")
			}
		})
	}
}

func TestCreateUserDuplicateAndLookup(t *testing.T) {
	eachBackend(t, func(t *testing.T, te *testEngine) {
		ctx := context.Background()
		u, err := te.CreateUser(ctx, CreateUserInput{
			Email:    "grace@example.com",
			Password: testPassword,
			Role:     RoleModerator,
			Metadata: map[string]string{"locale": "en"},
		})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if _, err := te.CreateUser(ctx, CreateUserInput{Email: "GRACE@example.com", Password: testPassword}); !errors.Is(err, ErrUserExists) {
			t.Fatalf("expected duplicate, got %v", err)
		}
		nextEvent(t, te.sink, "account_creation_duplicate")

		found, err := te.FindUserByID(ctx, u.ID)
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if found.Role != RoleModerator || found.Metadata["locale"] != "en" || !found.IsActive {
			t.Fatalf("unexpected user %+v", found)
		}
		if _, err := te.FindUserByID(ctx, "00000000-0000-0000-0000-000000000000"); !errors.Is(err, ErrUserNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}

		snap := te.MetricsSnapshot()
		if snap.Counters[MetricAccountCreationSuccess] != 1 || snap.Counters[MetricAccountCreationDuplicate] != 1 {
			t.Fatalf("unexpected counters %+v", snap.Counters)
		}
	})
}

func TestInvalidateOneAndAll(t *testing.T) {
	eachBackend(t, func(t *testing.T, te *testEngine) {
		ctx := context.Background()
		user := te.mustCreateUser(t, "heidi@example.com")
		a := te.mustLogin(t, "heidi@example.com")
		te.mustLogin(t, "heidi@example.com")
		te.mustLogin(t, "heidi@example.com")

		ok, err := te.InvalidateOne(ctx, a.RefreshToken)
		if err != nil || !ok {
			t.Fatalf("expected logout, got %v %v", ok, err)
		}
		if ok, _ := te.InvalidateOne(ctx, a.RefreshToken); ok {
			t.Fatal("second logout must report false")
		}
		if ok, err := te.InvalidateOne(ctx, "garbage"); ok || err != nil {
			t.Fatalf("malformed logout must be a no-op, got %v %v", ok, err)
		}
		if _, err := te.Refresh(ctx, a.RefreshToken); !errors.Is(err, ErrRefreshTokenReuse) {
			t.Fatalf("logged-out token replay is reuse, got %v", err)
		}

		other := te.mustLogin(t, "heidi@example.com")
		n, err := te.InvalidateAll(ctx, user.ID)
		if err != nil || n != 1 {
			t.Fatalf("expected 1 revoked, got %d %v", n, err)
		}
		if n, _ := te.InvalidateAll(ctx, user.ID); n != 0 {
			t.Fatalf("expected idempotent logout-all, got %d", n)
		}
		if _, err := te.Refresh(ctx, other.RefreshToken); !errors.Is(err, ErrRefreshTokenReuse) {
			t.Fatalf("expected reuse after logout-all, got %v", err)
		}
		if _, err := te.InvalidateAll(ctx, " "); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("expected invalid input, got %v", err)
		}
	})
}

func TestValidateAccessIsStateless(t *testing.T) {
	te := newTestEngine(t, openSQLite)
	te.mustCreateUser(t, "ivan@example.com")
	login := te.mustLogin(t, "ivan@example.com")

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := te.ValidateAccess(login.AccessToken); err != nil {
				t.Errorf("validate: %v", err)
			}
		}()
	}
	wg.Wait()

	for _, tok := range []string{"", "garbage", login.AccessToken + "x"} {
		if _, err := te.ValidateAccess(tok); !errors.Is(err, ErrInvalidAccessToken) {
			t.Fatalf("ValidateAccess(%q): expected invalid access token, got %v", tok, err)
		}
	}

	te.clock.Advance(16 * time.Minute)
	if _, err := te.ValidateAccess(login.AccessToken); !errors.Is(err, ErrInvalidAccessToken) {
		t.Fatalf("expired access token must fail, got %v", err)
	}
}

func TestIssueTokenPairForFoundUser(t *testing.T) {
	eachBackend(t, func(t *testing.T, te *testEngine) {
		ctx := context.Background()
		user := te.mustCreateUser(t, "judy@example.com")

		pair, err := te.IssueTokenPair(ctx, user)
		if err != nil {
			t.Fatalf("issue: %v", err)
		}
		if n := te.active(t, user.ID); n != 1 {
			t.Fatalf("expected persisted token, got %d", n)
		}
		if _, err := te.Refresh(ctx, pair.RefreshToken); err != nil {
			t.Fatalf("issued token must refresh: %v", err)
		}
		if _, err := te.IssueTokenPair(ctx, nil); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("expected invalid input, got %v", err)
		}
	})
}

func TestIssueTokenPairUsesStoredUser(t *testing.T) {
	te := newTestEngine(t, openSQLite)
	ctx := context.Background()

	t.Run("stale active flag", func(t *testing.T) {
		user := te.mustCreateUser(t, "stale@example.com")
		te.deactivate(t, user.ID)

		if !user.IsActive {
			t.Fatal("expected the caller's copy to still say active")
		}
		if _, err := te.IssueTokenPair(ctx, user); !errors.Is(err, ErrUserAccountInactive) {
			t.Fatalf("expected inactive refusal, got %v", err)
		}
		if n := te.active(t, user.ID); n != 0 {
			t.Fatalf("refused issuance must not persist a token, got %d", n)
		}
	})

	t.Run("caller role ignored", func(t *testing.T) {
		user := te.mustCreateUser(t, "forged@example.com")
		forged := *user
		forged.Role = RoleAdmin

		pair, err := te.IssueTokenPair(ctx, &forged)
		if err != nil {
			t.Fatalf("issue: %v", err)
		}
		claims, err := te.ValidateAccess(pair.AccessToken)
		if err != nil {
			t.Fatalf("validate: %v", err)
		}
		if claims.Role != RoleUser {
			t.Fatalf("expected stored role %q, got %q", RoleUser, claims.Role)
		}
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := te.IssueTokenPair(ctx, &User{ID: "00000000-0000-0000-0000-000000000000", IsActive: true})
		if !errors.Is(err, ErrUserNotFound) {
			t.Fatalf("expected user not found, got %v", err)
		}
	})
}

func TestLatencyHistogramsRecorded(t *testing.T) {
	te := newTestEngine(t, openRedis)
	te.mustCreateUser(t, "kate@example.com")
	login := te.mustLogin(t, "kate@example.com")
	if _, err := te.Refresh(context.Background(), login.RefreshToken); err != nil {
		t.Fatal(err)
	}

	snap := te.MetricsSnapshot()
	for _, id := range []MetricID{MetricLoginLatency, MetricRefreshLatency} {
		var total uint64
		for _, v := range snap.Histograms[id] {
			total += v
		}
		if total != 1 {
			t.Fatalf("histogram %d: expected 1 observation, got %d", id, total)
		}
	}
}

func TestEngineNotReady(t *testing.T) {
	var e *Engine
	if _, err := e.Refresh(context.Background(), "x"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected not ready, got %v", err)
	}
	if _, err := e.ValidateAccess("x"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected not ready, got %v", err)
	}
	e.Close()
}
