// HealthAPI - Medical Imaging Analysis REST Backend
// Copyright 2026 OpenHealthLab
// SPDX-License-Identifier: Apache-2.0
// https://github.com/OpenHealthLab/HealthAPI

package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/OpenHealthLab/HealthAPI/internal/audit"
	"github.com/OpenHealthLab/HealthAPI/internal/authz"
	"github.com/OpenHealthLab/HealthAPI/internal/config"
	"github.com/OpenHealthLab/HealthAPI/internal/models"
	"github.com/OpenHealthLab/HealthAPI/internal/store"
)

const testPassword = "Correct-Horse-1!"

type serviceFixture struct {
	svc      *Service
	store    *store.Memory
	registry *MemoryRegistry
	audit    *audit.MemoryStore
	recorder *audit.Recorder
	totp     *TOTPManager
}

func newServiceFixture(t *testing.T, mutate ...func(*ServiceOptions)) *serviceFixture {
	t.Helper()

	mem := store.NewMemory()
	for _, role := range []string{"user", "doctor", "radiologist"} {
		if err := mem.CreateRole(context.Background(), &models.Role{Name: role, System: true}); err != nil {
			t.Fatalf("CreateRole(%s): %v", role, err)
		}
	}

	tokens, err := NewTokenManager(testSecret, 15*time.Minute, 7*24*time.Hour, 5*time.Second)
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}
	totp, err := NewTOTPManager("HealthAPI", 6, 30)
	if err != nil {
		t.Fatalf("NewTOTPManager: %v", err)
	}

	engine := authz.NewEngine()
	rules := []models.PolicyRule{
		{Role: "user", Resource: "/api/v2/studies", Action: "read|list", Effect: models.EffectAllow},
		{Role: "doctor", Resource: "/api/v2/studies/*", Action: ".*", Effect: models.EffectAllow},
	}
	if err := engine.Load(rules, map[string]string{"doctor": "user", "radiologist": "doctor"}); err != nil {
		t.Fatalf("engine.Load: %v", err)
	}

	auditStore := audit.NewMemoryStore(1000)
	recorder := audit.NewRecorder(auditStore, nil)
	t.Cleanup(func() { recorder.Close() })

	registry := NewMemoryRegistry()

	opts := ServiceOptions{
		Principals:  mem,
		Roles:       mem,
		Hasher:      NewHasher(config.DefaultPasswordPolicy()),
		TOTP:        totp,
		Tokens:      tokens,
		Registry:    registry,
		Limiter:     NewRateLimiter(5, time.Minute),
		Engine:      engine,
		Recorder:    recorder,
		DefaultRole: "user",
	}
	for _, m := range mutate {
		m(&opts)
	}
	svc := NewService(opts)

	return &serviceFixture{
		svc:      svc,
		store:    mem,
		registry: registry,
		audit:    auditStore,
		recorder: recorder,
		totp:     totp,
	}
}

func (f *serviceFixture) register(t *testing.T, username string) *models.Principal {
	t.Helper()
	p, err := f.svc.Register(context.Background(), RegisterInput{
		Username: username,
		Email:    username + "@clinic.example",
		Password: testPassword,
	})
	if err != nil {
		t.Fatalf("Register(%s): %v", username, err)
	}
	return p
}

// auditEvents drains the recorder and returns events of the given type.
func (f *serviceFixture) auditEvents(t *testing.T, typ audit.EventType) []audit.Event {
	t.Helper()
	// The recorder writes asynchronously; give the writer a moment.
	deadline := time.Now().Add(2 * time.Second)
	for {
		events, err := f.audit.Query(context.Background(), audit.QueryFilter{Types: []audit.EventType{typ}})
		if err != nil {
			t.Fatalf("audit query: %v", err)
		}
		if len(events) > 0 || time.Now().After(deadline) {
			return events
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRegisterAndAuthenticate(t *testing.T) {
	f := newServiceFixture(t)
	p := f.register(t, "alice")

	pair, err := f.svc.Authenticate(context.Background(), Credentials{Login: "alice", Password: testPassword})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("token pair incomplete")
	}
	if pair.TokenType != "Bearer" {
		t.Errorf("token type = %q", pair.TokenType)
	}
	if pair.ExpiresIn != int64((15 * time.Minute).Seconds()) {
		t.Errorf("expires_in = %d", pair.ExpiresIn)
	}

	// Last login recorded.
	stored, err := f.store.GetByID(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.LastLogin == nil {
		t.Error("last login not recorded")
	}

	if events := f.auditEvents(t, audit.EventTypeAuthSuccess); len(events) == 0 {
		t.Error("no auth.success audit event")
	}
}

func TestFullSessionLifecycle(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	p := f.register(t, "alice")

	// Only the digest is stored, never the plaintext.
	stored, err := f.store.GetByID(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.PasswordHash == testPassword || stored.PasswordHash == "" {
		t.Fatalf("stored credential = %q", stored.PasswordHash)
	}

	pair, err := f.svc.Authenticate(ctx, Credentials{Login: "alice", Password: testPassword})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	claims, err := f.svc.Authorize(ctx, pair.AccessToken, "/api/v2/studies", "read", audit.Source{})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != "user" {
		t.Errorf("roles = %v, want [user]", claims.Roles)
	}

	if _, err := f.svc.RevokeAllSessions(ctx, p.ID, p.Username, audit.Source{}); err != nil {
		t.Fatalf("RevokeAllSessions: %v", err)
	}
	if _, err := f.svc.Authorize(ctx, pair.AccessToken, "/api/v2/studies", "read", audit.Source{}); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("after revocation: error = %v, want ErrTokenRevoked", err)
	}
}

func TestAuthenticateByEmail(t *testing.T) {
	f := newServiceFixture(t)
	f.register(t, "alice")

	if _, err := f.svc.Authenticate(context.Background(), Credentials{Login: "ALICE@clinic.example", Password: testPassword}); err != nil {
		t.Fatalf("Authenticate by email: %v", err)
	}
}

func TestAuthenticateUniformFailures(t *testing.T) {
	f := newServiceFixture(t)
	f.register(t, "alice")

	disabled := f.register(t, "bob")
	disabled.Active = false
	if err := f.store.Update(context.Background(), disabled); err != nil {
		t.Fatalf("Update: %v", err)
	}

	tests := []struct {
		name  string
		creds Credentials
	}{
		{"wrong password", Credentials{Login: "alice", Password: "Wrong-Horse-1!"}},
		{"unknown user", Credentials{Login: "nobody", Password: testPassword}},
		{"disabled account", Credentials{Login: "bob", Password: testPassword}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Authenticate(context.Background(), tt.creds)
			if !errors.Is(err, ErrInvalidCredentials) {
				t.Errorf("error = %v, want ErrInvalidCredentials for all failure shapes", err)
			}
		})
	}
}

func TestAuthenticateRateLimited(t *testing.T) {
	f := newServiceFixture(t)
	f.register(t, "alice")

	for i := 0; i < 5; i++ {
		_, err := f.svc.Authenticate(context.Background(), Credentials{Login: "alice", Password: "Wrong-Horse-1!"})
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}

	// Sixth attempt inside the window is rejected even with the right
	// password, and the rejection is audited.
	_, err := f.svc.Authenticate(context.Background(), Credentials{Login: "alice", Password: testPassword})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("error = %v, want ErrRateLimited", err)
	}
	if events := f.auditEvents(t, audit.EventTypeAuthRateLimited); len(events) == 0 {
		t.Error("no auth.rate_limited audit event")
	}
}

func TestTwoFactorFlow(t *testing.T) {
	f := newServiceFixture(t)
	p := f.register(t, "alice")
	ctx := context.Background()

	secret, uri, err := f.svc.Enable2FA(ctx, p.ID)
	if err != nil {
		t.Fatalf("Enable2FA: %v", err)
	}
	if secret == "" || uri == "" {
		t.Fatal("Enable2FA returned empty secret or URI")
	}

	// Pending secret is not live: login without a code still succeeds.
	if _, err := f.svc.Authenticate(ctx, Credentials{Login: "alice", Password: testPassword}); err != nil {
		t.Fatalf("Authenticate before confirm: %v", err)
	}

	// Confirm with a wrong code fails and stays pending.
	if err := f.svc.Confirm2FA(ctx, p.ID, "000000", audit.Source{}); !errors.Is(err, ErrInvalidTwoFactorCode) {
		t.Fatalf("Confirm2FA wrong code: %v", err)
	}

	code, err := f.totp.CodeAt(secret, time.Now())
	if err != nil {
		t.Fatalf("CodeAt: %v", err)
	}
	if err := f.svc.Confirm2FA(ctx, p.ID, code, audit.Source{}); err != nil {
		t.Fatalf("Confirm2FA: %v", err)
	}

	// Password alone is no longer enough.
	_, err = f.svc.Authenticate(ctx, Credentials{Login: "alice", Password: testPassword})
	if !errors.Is(err, ErrTwoFactorRequired) {
		t.Fatalf("error = %v, want ErrTwoFactorRequired", err)
	}

	// Wrong code is rejected.
	_, err = f.svc.Authenticate(ctx, Credentials{Login: "alice", Password: testPassword, TwoFactorCode: "999999"})
	if !errors.Is(err, ErrInvalidTwoFactorCode) && err != nil {
		// A 1-in-a-million collision with the live code is possible; only
		// flag deterministic misbehavior.
		t.Fatalf("error = %v, want ErrInvalidTwoFactorCode", err)
	}

	// Correct code completes the login.
	code, err = f.totp.CodeAt(secret, time.Now())
	if err != nil {
		t.Fatalf("CodeAt: %v", err)
	}
	if _, err := f.svc.Authenticate(ctx, Credentials{Login: "alice", Password: testPassword, TwoFactorCode: code}); err != nil {
		t.Fatalf("Authenticate with code: %v", err)
	}

	// Disable requires a valid code too.
	if err := f.svc.Disable2FA(ctx, p.ID, "000000", audit.Source{}); !errors.Is(err, ErrInvalidTwoFactorCode) && err != nil {
		t.Fatalf("Disable2FA wrong code: %v", err)
	}
	code, _ = f.totp.CodeAt(secret, time.Now())
	if err := f.svc.Disable2FA(ctx, p.ID, code, audit.Source{}); err != nil {
		t.Fatalf("Disable2FA: %v", err)
	}
	if _, err := f.svc.Authenticate(ctx, Credentials{Login: "alice", Password: testPassword}); err != nil {
		t.Fatalf("Authenticate after disable: %v", err)
	}
}

func TestAuthorize(t *testing.T) {
	f := newServiceFixture(t)
	p := f.register(t, "alice")
	ctx := context.Background()

	pair, err := f.svc.Authenticate(ctx, Credentials{Login: "alice", Password: testPassword})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	// Default role "user" may read the collection.
	claims, err := f.svc.Authorize(ctx, pair.AccessToken, "/api/v2/studies", "read", audit.Source{})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if claims.Subject != p.ID {
		t.Errorf("claims subject = %s, want %s", claims.Subject, p.ID)
	}

	// But not delete it.
	_, err = f.svc.Authorize(ctx, pair.AccessToken, "/api/v2/studies", "delete", audit.Source{})
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("error = %v, want ErrPermissionDenied", err)
	}

	// Refresh token is not acceptable for authorization.
	_, err = f.svc.Authorize(ctx, pair.RefreshToken, "/api/v2/studies", "read", audit.Source{})
	if !errors.Is(err, ErrWrongTokenType) {
		t.Fatalf("error = %v, want ErrWrongTokenType", err)
	}
}

func TestAuthorizeInheritedRole(t *testing.T) {
	f := newServiceFixture(t)
	p := f.register(t, "drew")
	ctx := context.Background()

	if err := f.store.Assign(ctx, &models.RoleAssignment{PrincipalID: p.ID, Role: "doctor"}); err != nil {
		t.Fatalf("Assign: %v", err)
	}

	pair, err := f.svc.Authenticate(ctx, Credentials{Login: "drew", Password: testPassword})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	// Doctor's own rule.
	if _, err := f.svc.Authorize(ctx, pair.AccessToken, "/api/v2/studies/42", "annotate", audit.Source{}); err != nil {
		t.Fatalf("Authorize doctor rule: %v", err)
	}
	// Inherited from user.
	if _, err := f.svc.Authorize(ctx, pair.AccessToken, "/api/v2/studies", "list", audit.Source{}); err != nil {
		t.Fatalf("Authorize inherited rule: %v", err)
	}
}

func TestAuthorizeRevokedToken(t *testing.T) {
	f := newServiceFixture(t)
	f.register(t, "alice")
	ctx := context.Background()

	pair, err := f.svc.Authenticate(ctx, Credentials{Login: "alice", Password: testPassword})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	if err := f.svc.RevokeSession(ctx, pair.AccessToken, TokenAccess, audit.Source{}); err != nil {
		t.Fatalf("RevokeSession: %v", err)
	}

	_, err = f.svc.Authorize(ctx, pair.AccessToken, "/api/v2/studies", "read", audit.Source{})
	if !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("error = %v, want ErrTokenRevoked", err)
	}

	// The paired refresh token died with it.
	_, err = f.svc.RefreshSession(ctx, pair.RefreshToken, audit.Source{})
	if !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("paired refresh error = %v, want ErrTokenRevoked", err)
	}
}

func TestRefreshRotationAndReplay(t *testing.T) {
	f := newServiceFixture(t)
	f.register(t, "alice")
	ctx := context.Background()

	pair, err := f.svc.Authenticate(ctx, Credentials{Login: "alice", Password: testPassword})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	rotated, err := f.svc.RefreshSession(ctx, pair.RefreshToken, audit.Source{})
	if err != nil {
		t.Fatalf("RefreshSession: %v", err)
	}
	if rotated.RefreshToken == pair.RefreshToken {
		t.Error("refresh token not rotated")
	}

	// The new pair works.
	if _, err := f.svc.Authorize(ctx, rotated.AccessToken, "/api/v2/studies", "read", audit.Source{}); err != nil {
		t.Fatalf("Authorize with rotated access token: %v", err)
	}

	// Replaying the consumed refresh token fails inside its validity window.
	_, err = f.svc.RefreshSession(ctx, pair.RefreshToken, audit.Source{})
	if !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("replay error = %v, want ErrTokenRevoked", err)
	}
}

func TestRefreshConcurrentReplay(t *testing.T) {
	f := newServiceFixture(t)
	f.register(t, "alice")
	ctx := context.Background()

	pair, err := f.svc.Authenticate(ctx, Credentials{Login: "alice", Password: testPassword})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	// The same refresh token presented concurrently must be honored at most
	// once; the token is consumed atomically before a new pair is issued.
	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.RefreshSession(ctx, pair.RefreshToken, audit.Source{})
		}(i)
	}
	wg.Wait()

	successes := 0
	for i, err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrTokenRevoked):
		default:
			t.Errorf("caller %d: unexpected error %v", i, err)
		}
	}
	if successes != 1 {
		t.Errorf("refresh honored %d times, want exactly 1", successes)
	}
}

type erroringRoles struct {
	store.RoleStore
	err error
}

func (e erroringRoles) RolesFor(ctx context.Context, principalID string) ([]string, error) {
	return nil, e.err
}

func TestAuthenticateInternalFailureAudited(t *testing.T) {
	f := newServiceFixture(t, func(o *ServiceOptions) {
		o.Roles = erroringRoles{RoleStore: o.Roles, err: errors.New("role store offline")}
	})
	p := f.register(t, "alice")
	ctx := context.Background()

	_, err := f.svc.Authenticate(ctx, Credentials{Login: "alice", Password: testPassword})
	if err == nil {
		t.Fatal("Authenticate succeeded despite role store failure")
	}

	events := f.auditEvents(t, audit.EventTypeAuthFailure)
	if len(events) == 0 {
		t.Fatal("no auth.failure audit event for internal failure")
	}
	event := events[0]
	if event.ErrorKind != "internal" {
		t.Errorf("error kind = %q, want internal", event.ErrorKind)
	}
	if event.PrincipalID != p.ID {
		t.Errorf("principal = %q, want %q", event.PrincipalID, p.ID)
	}
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	f := newServiceFixture(t)
	f.register(t, "alice")
	ctx := context.Background()

	pair, err := f.svc.Authenticate(ctx, Credentials{Login: "alice", Password: testPassword})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	_, err = f.svc.RefreshSession(ctx, pair.AccessToken, audit.Source{})
	if !errors.Is(err, ErrWrongTokenType) {
		t.Fatalf("error = %v, want ErrWrongTokenType", err)
	}
}

func TestRevokeAllSessions(t *testing.T) {
	f := newServiceFixture(t)
	p := f.register(t, "alice")
	ctx := context.Background()

	first, err := f.svc.Authenticate(ctx, Credentials{Login: "alice", Password: testPassword})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	second, err := f.svc.Authenticate(ctx, Credentials{Login: "alice", Password: testPassword})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	count, err := f.svc.RevokeAllSessions(ctx, p.ID, p.Username, audit.Source{})
	if err != nil {
		t.Fatalf("RevokeAllSessions: %v", err)
	}
	if count != 4 { // two pairs, two sessions each
		t.Errorf("revoked %d sessions, want 4", count)
	}

	for _, token := range []string{first.AccessToken, second.AccessToken} {
		if _, err := f.svc.Authorize(ctx, token, "/api/v2/studies", "read", audit.Source{}); !errors.Is(err, ErrTokenRevoked) {
			t.Errorf("token usable after RevokeAllSessions: %v", err)
		}
	}
}

func TestChangePassword(t *testing.T) {
	f := newServiceFixture(t)
	p := f.register(t, "alice")
	ctx := context.Background()

	pair, err := f.svc.Authenticate(ctx, Credentials{Login: "alice", Password: testPassword})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	// Wrong current password.
	err = f.svc.ChangePassword(ctx, p.ID, "Wrong-Horse-1!", "Fresh-Stable-2@", audit.Source{})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("error = %v, want ErrInvalidCredentials", err)
	}

	// Weak replacement.
	err = f.svc.ChangePassword(ctx, p.ID, testPassword, "weak", audit.Source{})
	if !IsWeakPassword(err) {
		t.Fatalf("error = %v, want WeakPasswordError", err)
	}

	if err := f.svc.ChangePassword(ctx, p.ID, testPassword, "Fresh-Stable-2@", audit.Source{}); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}

	// Old sessions die with the old password.
	if _, err := f.svc.Authorize(ctx, pair.AccessToken, "/api/v2/studies", "read", audit.Source{}); !errors.Is(err, ErrTokenRevoked) {
		t.Errorf("old session survived password change: %v", err)
	}

	// Old password no longer authenticates, new one does.
	if _, err := f.svc.Authenticate(ctx, Credentials{Login: "alice", Password: testPassword}); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("old password still works: %v", err)
	}
	if _, err := f.svc.Authenticate(ctx, Credentials{Login: "alice", Password: "Fresh-Stable-2@"}); err != nil {
		t.Errorf("new password rejected: %v", err)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	f := newServiceFixture(t)
	f.register(t, "alice")

	_, err := f.svc.Register(context.Background(), RegisterInput{
		Username: "alice",
		Email:    "other@clinic.example",
		Password: testPassword,
	})
	if !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("error = %v, want store.ErrDuplicate", err)
	}
}

func TestRegisterWeakPassword(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.Register(context.Background(), RegisterInput{
		Username: "alice",
		Email:    "alice@clinic.example",
		Password: "weak",
	})
	if !IsWeakPassword(err) {
		t.Fatalf("error = %v, want WeakPasswordError", err)
	}
}
