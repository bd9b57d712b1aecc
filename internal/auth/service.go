// HealthAPI - Medical Imaging Analysis REST Backend
// Copyright 2026 OpenHealthLab
// SPDX-License-Identifier: Apache-2.0
// https://github.com/OpenHealthLab/HealthAPI

package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/OpenHealthLab/HealthAPI/internal/audit"
	"github.com/OpenHealthLab/HealthAPI/internal/authz"
	"github.com/OpenHealthLab/HealthAPI/internal/logging"
	"github.com/OpenHealthLab/HealthAPI/internal/models"
	"github.com/OpenHealthLab/HealthAPI/internal/store"
)

// dummyDigest is verified against when the login is unknown, so lookup
// misses cost roughly the same as a wrong password.
const dummyDigest = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$tPrvCHbMp1v7F0dADZL7nmllyKHDxocLHHRYIimWsPM"

// Credentials carries one authentication attempt.
type Credentials struct {
	// Login is the username or email. Matching is case-insensitive.
	Login string

	// Password in plaintext.
	Password string

	// TwoFactorCode is required when the account has 2FA enabled.
	TwoFactorCode string

	// Source describes where the attempt came from, for audit entries.
	Source audit.Source
}

// TokenPair is the result of a successful authentication or refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// RegisterInput carries a new account registration.
type RegisterInput struct {
	Username string
	Email    string
	Password string
	FullName string
	Source   audit.Source
}

// Service is the authentication facade. It owns credential verification,
// two-factor enforcement, token issuance and rotation, session revocation
// and the audit trail for all of it.
type Service struct {
	principals store.PrincipalStore
	roles      store.RoleStore
	hasher     *Hasher
	totp       *TOTPManager
	tokens     *TokenManager
	registry   SessionRegistry
	limiter    *RateLimiter
	engine     *authz.Engine
	recorder   *audit.Recorder

	defaultRole string
	now         func() time.Time
}

// ServiceOptions collects the collaborators a Service needs.
type ServiceOptions struct {
	Principals  store.PrincipalStore
	Roles       store.RoleStore
	Hasher      *Hasher
	TOTP        *TOTPManager
	Tokens      *TokenManager
	Registry    SessionRegistry
	Limiter     *RateLimiter
	Engine      *authz.Engine
	Recorder    *audit.Recorder
	DefaultRole string
}

// NewService wires the authentication facade.
func NewService(opts ServiceOptions) *Service {
	defaultRole := opts.DefaultRole
	if defaultRole == "" {
		defaultRole = "user"
	}
	return &Service{
		principals:  opts.Principals,
		roles:       opts.Roles,
		hasher:      opts.Hasher,
		totp:        opts.TOTP,
		tokens:      opts.Tokens,
		registry:    opts.Registry,
		limiter:     opts.Limiter,
		engine:      opts.Engine,
		recorder:    opts.Recorder,
		defaultRole: defaultRole,
		now:         time.Now,
	}
}

// Register creates a new account with the default role assigned. The
// password must satisfy the strength policy; a WeakPasswordError lists
// every unmet rule.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.Principal, error) {
	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	now := s.now()
	p := &models.Principal{
		ID:           uuid.NewString(),
		Username:     strings.ToLower(strings.TrimSpace(in.Username)),
		Email:        strings.ToLower(strings.TrimSpace(in.Email)),
		PasswordHash: digest,
		FullName:     in.FullName,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.principals.Create(ctx, p); err != nil {
		return nil, err
	}

	if err := s.roles.Assign(ctx, &models.RoleAssignment{
		PrincipalID: p.ID,
		Role:        s.defaultRole,
		AssignedBy:  "system",
		AssignedAt:  now,
	}); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("principal_id", p.ID).Msg("Failed to assign default role")
	}

	s.recorder.RecordAccountEvent(ctx, audit.EventTypeUserRegistered, p.ID, p.Username, "register", audit.OutcomeSuccess, "", in.Source)
	logging.Ctx(ctx).Info().Str("principal_id", p.ID).Str("username", p.Username).Msg("Principal registered")
	return p, nil
}

// Authenticate verifies credentials and issues a token pair. Failures are
// deliberately uniform: unknown logins, disabled accounts and wrong
// passwords all return ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, creds Credentials) (*TokenPair, error) {
	login := strings.ToLower(strings.TrimSpace(creds.Login))

	if !s.limiter.Allow(login) {
		authAttemptsTotal.WithLabelValues("rate_limited").Inc()
		s.recorder.RecordRateLimited(ctx, login, creds.Source)
		return nil, ErrRateLimited
	}

	p, err := s.principals.GetByLogin(ctx, login)
	if err != nil {
		// Equalize timing with the password-verification path.
		_, _ = s.hasher.Verify(creds.Password, dummyDigest)
		return nil, s.failAuth(ctx, audit.AnonymousPrincipal, login, ErrInvalidCredentials, creds.Source)
	}

	ok, err := s.hasher.Verify(creds.Password, p.PasswordHash)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("principal_id", p.ID).Msg("Credential digest unreadable")
		return nil, s.failAuth(ctx, p.ID, p.Username, ErrInvalidCredentials, creds.Source)
	}
	if !ok || !p.Active {
		return nil, s.failAuth(ctx, p.ID, p.Username, ErrInvalidCredentials, creds.Source)
	}

	if p.TOTPEnabled {
		if creds.TwoFactorCode == "" {
			return nil, s.failAuth(ctx, p.ID, p.Username, ErrTwoFactorRequired, creds.Source)
		}
		if !s.totp.VerifyCode(p.TOTPSecret, creds.TwoFactorCode, s.now()) {
			return nil, s.failAuth(ctx, p.ID, p.Username, ErrInvalidTwoFactorCode, creds.Source)
		}
	}

	roles, err := s.roles.RolesFor(ctx, p.ID)
	if err != nil {
		authAttemptsTotal.WithLabelValues("error").Inc()
		s.recorder.RecordAuthFailure(ctx, p.ID, p.Username, "internal", creds.Source)
		return nil, fmt.Errorf("load roles for %s: %w", p.ID, err)
	}

	pair, err := s.issuePair(ctx, p, roles)
	if err != nil {
		authAttemptsTotal.WithLabelValues("error").Inc()
		s.recorder.RecordAuthFailure(ctx, p.ID, p.Username, "internal", creds.Source)
		return nil, err
	}

	last := s.now()
	p.LastLogin = &last
	p.UpdatedAt = last
	if err := s.principals.Update(ctx, p); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("principal_id", p.ID).Msg("Failed to record last login")
	}

	authAttemptsTotal.WithLabelValues("success").Inc()
	s.recorder.RecordAuthSuccess(ctx, p.ID, p.Username, creds.Source, p.TOTPEnabled)
	logging.Ctx(ctx).Info().Str("principal_id", p.ID).Str("username", p.Username).Msg("Authentication succeeded")
	return pair, nil
}

// failAuth records a failed attempt in metrics and the audit trail and
// returns the given error.
func (s *Service) failAuth(ctx context.Context, principalID, username string, cause error, source audit.Source) error {
	authAttemptsTotal.WithLabelValues(ErrorKind(cause)).Inc()
	s.recorder.RecordAuthFailure(ctx, principalID, username, ErrorKind(cause), source)
	return cause
}

// issuePair issues an access and refresh token and registers both sessions.
func (s *Service) issuePair(ctx context.Context, p *models.Principal, roles []string) (*TokenPair, error) {
	access, accessClaims, err := s.tokens.Issue(p, roles, TokenAccess)
	if err != nil {
		return nil, err
	}
	refresh, refreshClaims, err := s.tokens.Issue(p, roles, TokenRefresh)
	if err != nil {
		return nil, err
	}

	if err := s.registry.Register(ctx, accessClaims.JTI(), refreshClaims.JTI(), p.ID, accessClaims.IssuedAt.Time, accessClaims.ExpiresAt.Time); err != nil {
		return nil, fmt.Errorf("register session %s: %w", accessClaims.JTI(), err)
	}
	if err := s.registry.Register(ctx, refreshClaims.JTI(), accessClaims.JTI(), p.ID, refreshClaims.IssuedAt.Time, refreshClaims.ExpiresAt.Time); err != nil {
		return nil, fmt.Errorf("register session %s: %w", refreshClaims.JTI(), err)
	}

	tokensIssuedTotal.WithLabelValues(string(TokenAccess)).Inc()
	tokensIssuedTotal.WithLabelValues(string(TokenRefresh)).Inc()

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.tokens.AccessTTL().Seconds()),
	}, nil
}

// Authorize verifies an access token and checks the policy engine for the
// requested action on the resource. Exactly one audit entry is recorded per
// call. On success the token's claims are returned so handlers can identify
// the caller.
func (s *Service) Authorize(ctx context.Context, accessToken, resource, action string, source audit.Source) (*Claims, error) {
	claims, err := s.tokens.Verify(accessToken, TokenAccess)
	if err != nil {
		s.recorder.RecordAuthzDecision(ctx, audit.AnonymousPrincipal, "", resource, action, false, ErrorKind(err), source)
		return nil, err
	}

	revoked, err := s.registry.IsRevoked(ctx, claims.JTI())
	if err != nil {
		s.recorder.RecordAuthzDecision(ctx, claims.Subject, claims.Username, resource, action, false, "internal", source)
		return nil, fmt.Errorf("revocation check for %s: %w", claims.JTI(), err)
	}
	if revoked {
		s.recorder.RecordAuthzDecision(ctx, claims.Subject, claims.Username, resource, action, false, ErrorKind(ErrTokenRevoked), source)
		return nil, ErrTokenRevoked
	}

	if !s.engine.IsAllowed(claims.Roles, resource, action) {
		s.recorder.RecordAuthzDecision(ctx, claims.Subject, claims.Username, resource, action, false, ErrorKind(ErrPermissionDenied), source)
		return nil, ErrPermissionDenied
	}

	s.recorder.RecordAuthzDecision(ctx, claims.Subject, claims.Username, resource, action, true, "", source)
	return claims, nil
}

// VerifyAccess validates an access token against signature, expiry and the
// revocation registry without consulting the policy engine. Middleware uses
// it to establish identity before a handler names the resource.
func (s *Service) VerifyAccess(ctx context.Context, accessToken string) (*Claims, error) {
	claims, err := s.tokens.Verify(accessToken, TokenAccess)
	if err != nil {
		return nil, err
	}
	revoked, err := s.registry.IsRevoked(ctx, claims.JTI())
	if err != nil {
		return nil, fmt.Errorf("revocation check for %s: %w", claims.JTI(), err)
	}
	if revoked {
		return nil, ErrTokenRevoked
	}
	return claims, nil
}

// RefreshSession rotates a refresh token: the consumed pair is revoked,
// access half included, and a fresh pair is issued. A revoked or unknown
// refresh token is rejected, so a replayed token fails even inside its
// validity window.
func (s *Service) RefreshSession(ctx context.Context, refreshToken string, source audit.Source) (*TokenPair, error) {
	claims, err := s.tokens.Verify(refreshToken, TokenRefresh)
	if err != nil {
		s.recorder.RecordTokenRefresh(ctx, audit.AnonymousPrincipal, "", false, ErrorKind(err), source)
		return nil, err
	}

	p, err := s.principals.GetByID(ctx, claims.Subject)
	if err != nil || !p.Active {
		s.recorder.RecordTokenRefresh(ctx, claims.Subject, claims.Username, false, ErrorKind(ErrTokenRevoked), source)
		return nil, ErrTokenRevoked
	}

	// The presented token is consumed, pair included, before the new pair
	// exists. Consume is atomic, so of two concurrent presentations of the
	// same jti exactly one proceeds past this point.
	live, err := s.registry.Consume(ctx, claims.JTI())
	if err != nil {
		s.recorder.RecordTokenRefresh(ctx, claims.Subject, claims.Username, false, "internal", source)
		return nil, fmt.Errorf("consume refresh token %s: %w", claims.JTI(), err)
	}
	if !live {
		s.recorder.RecordTokenRefresh(ctx, claims.Subject, claims.Username, false, ErrorKind(ErrTokenRevoked), source)
		return nil, ErrTokenRevoked
	}

	// Roles are reloaded so a rotation picks up assignment changes.
	roles, err := s.roles.RolesFor(ctx, p.ID)
	if err != nil {
		s.recorder.RecordTokenRefresh(ctx, p.ID, p.Username, false, "internal", source)
		return nil, fmt.Errorf("load roles for %s: %w", p.ID, err)
	}

	pair, err := s.issuePair(ctx, p, roles)
	if err != nil {
		s.recorder.RecordTokenRefresh(ctx, p.ID, p.Username, false, "internal", source)
		return nil, err
	}

	tokenRefreshesTotal.Inc()
	s.recorder.RecordTokenRefresh(ctx, p.ID, p.Username, true, "", source)
	return pair, nil
}

// RevokeSession revokes the session behind a token. The pair link recorded
// at issue time takes the matching access or refresh token down with it, so
// logout with either token ends the whole session.
func (s *Service) RevokeSession(ctx context.Context, token string, typ TokenType, source audit.Source) error {
	claims, err := s.tokens.Verify(token, typ)
	if err != nil {
		return err
	}
	if err := s.registry.Revoke(ctx, claims.JTI()); err != nil {
		return err
	}
	s.recorder.RecordLogout(ctx, claims.Subject, claims.Username, claims.JTI(), source)
	return nil
}

// RevokeAllSessions revokes every live session of a principal. Used for
// logout-everywhere and after password changes.
func (s *Service) RevokeAllSessions(ctx context.Context, principalID, username string, source audit.Source) (int, error) {
	count, err := s.registry.RevokeAllFor(ctx, principalID)
	if err != nil {
		return count, err
	}
	s.recorder.RecordLogoutAll(ctx, principalID, username, count, source)
	return count, nil
}

// ChangePassword verifies the current password, applies the strength policy
// to the new one, and revokes all sessions so stolen tokens die with the
// old password.
func (s *Service) ChangePassword(ctx context.Context, principalID, current, next string, source audit.Source) error {
	p, err := s.principals.GetByID(ctx, principalID)
	if err != nil {
		return err
	}
	if !p.Active {
		return ErrAccountDisabled
	}

	ok, err := s.hasher.Verify(current, p.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		s.recorder.RecordAccountEvent(ctx, audit.EventTypePasswordChanged, p.ID, p.Username, "change_password", audit.OutcomeFailure, ErrorKind(ErrInvalidCredentials), source)
		return ErrInvalidCredentials
	}

	digest, err := s.hasher.Hash(next)
	if err != nil {
		s.recorder.RecordAccountEvent(ctx, audit.EventTypePasswordChanged, p.ID, p.Username, "change_password", audit.OutcomeFailure, ErrorKind(err), source)
		return err
	}

	p.PasswordHash = digest
	p.UpdatedAt = s.now()
	if err := s.principals.Update(ctx, p); err != nil {
		return err
	}

	if _, err := s.registry.RevokeAllFor(ctx, p.ID); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("principal_id", p.ID).Msg("Failed to revoke sessions after password change")
	}

	s.recorder.RecordAccountEvent(ctx, audit.EventTypePasswordChanged, p.ID, p.Username, "change_password", audit.OutcomeSuccess, "", source)
	return nil
}

// Profile returns a principal record and its directly assigned roles.
func (s *Service) Profile(ctx context.Context, principalID string) (*models.Principal, []string, error) {
	p, err := s.principals.GetByID(ctx, principalID)
	if err != nil {
		return nil, nil, err
	}
	roles, err := s.roles.RolesFor(ctx, p.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("load roles for %s: %w", p.ID, err)
	}
	return p, roles, nil
}

// ProfileUpdate names the mutable profile fields. Nil fields are left as
// they are.
type ProfileUpdate struct {
	Email    *string
	FullName *string
}

// UpdateProfile applies a partial profile update. Email changes collide with
// other principals the same way registration does.
func (s *Service) UpdateProfile(ctx context.Context, principalID string, upd ProfileUpdate, source audit.Source) (*models.Principal, error) {
	p, err := s.principals.GetByID(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return nil, ErrAccountDisabled
	}

	if upd.Email != nil {
		p.Email = strings.ToLower(strings.TrimSpace(*upd.Email))
	}
	if upd.FullName != nil {
		p.FullName = *upd.FullName
	}
	p.UpdatedAt = s.now()
	if err := s.principals.Update(ctx, p); err != nil {
		return nil, err
	}

	s.recorder.RecordAccountEvent(ctx, audit.EventTypeProfileUpdated, p.ID, p.Username, "update_profile", audit.OutcomeSuccess, "", source)
	return p, nil
}

// SetActive soft-disables or reactivates an account. Principals are never
// hard-deleted; deactivation is the deletion surface, and it revokes every
// outstanding session so existing tokens die with the account.
func (s *Service) SetActive(ctx context.Context, principalID string, active bool, source audit.Source) (*models.Principal, error) {
	p, err := s.principals.GetByID(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if p.Active == active {
		return p, nil
	}

	p.Active = active
	p.UpdatedAt = s.now()
	if err := s.principals.Update(ctx, p); err != nil {
		return nil, err
	}

	typ := audit.EventTypeAccountEnabled
	action := "reactivate_account"
	if !active {
		typ = audit.EventTypeAccountDisabled
		action = "deactivate_account"
		if _, err := s.registry.RevokeAllFor(ctx, p.ID); err != nil {
			return nil, fmt.Errorf("revoke sessions for %s: %w", p.ID, err)
		}
	}

	s.recorder.RecordAccountEvent(ctx, typ, p.ID, p.Username, action, audit.OutcomeSuccess, "", source)
	logging.Ctx(ctx).Info().Str("principal_id", p.ID).Bool("active", active).Msg("Account active state changed")
	return p, nil
}

// Enable2FA starts TOTP provisioning: a fresh secret is stored pending and
// returned with its otpauth URI. The secret only becomes live once a valid
// code confirms it.
func (s *Service) Enable2FA(ctx context.Context, principalID string) (secret, uri string, err error) {
	p, err := s.principals.GetByID(ctx, principalID)
	if err != nil {
		return "", "", err
	}
	if !p.Active {
		return "", "", ErrAccountDisabled
	}

	secret, err = s.totp.GenerateSecret(p.Username)
	if err != nil {
		return "", "", err
	}

	p.TOTPSecret = secret
	p.TOTPEnabled = false
	p.UpdatedAt = s.now()
	if err := s.principals.Update(ctx, p); err != nil {
		return "", "", err
	}

	return secret, s.totp.ProvisioningURI(secret, p.Username), nil
}

// Confirm2FA activates a pending TOTP secret after one code verifies.
func (s *Service) Confirm2FA(ctx context.Context, principalID, code string, source audit.Source) error {
	p, err := s.principals.GetByID(ctx, principalID)
	if err != nil {
		return err
	}
	if p.TOTPSecret == "" {
		return ErrTwoFactorNotEnabled
	}
	if !s.totp.VerifyCode(p.TOTPSecret, code, s.now()) {
		s.recorder.RecordAccountEvent(ctx, audit.EventTypeTwoFactorFailure, p.ID, p.Username, "confirm_2fa", audit.OutcomeFailure, ErrorKind(ErrInvalidTwoFactorCode), source)
		return ErrInvalidTwoFactorCode
	}

	p.TOTPEnabled = true
	p.UpdatedAt = s.now()
	if err := s.principals.Update(ctx, p); err != nil {
		return err
	}

	s.recorder.RecordAccountEvent(ctx, audit.EventTypeTwoFactorEnabled, p.ID, p.Username, "confirm_2fa", audit.OutcomeSuccess, "", source)
	return nil
}

// Disable2FA turns off TOTP for an account. A valid current code is
// required so a hijacked session cannot silently weaken the account.
func (s *Service) Disable2FA(ctx context.Context, principalID, code string, source audit.Source) error {
	p, err := s.principals.GetByID(ctx, principalID)
	if err != nil {
		return err
	}
	if !p.TOTPEnabled {
		return ErrTwoFactorNotEnabled
	}
	if !s.totp.VerifyCode(p.TOTPSecret, code, s.now()) {
		s.recorder.RecordAccountEvent(ctx, audit.EventTypeTwoFactorFailure, p.ID, p.Username, "disable_2fa", audit.OutcomeFailure, ErrorKind(ErrInvalidTwoFactorCode), source)
		return ErrInvalidTwoFactorCode
	}

	p.TOTPSecret = ""
	p.TOTPEnabled = false
	p.UpdatedAt = s.now()
	if err := s.principals.Update(ctx, p); err != nil {
		return err
	}

	s.recorder.RecordAccountEvent(ctx, audit.EventTypeTwoFactorDisabled, p.ID, p.Username, "disable_2fa", audit.OutcomeSuccess, "", source)
	return nil
}
