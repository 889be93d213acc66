// Package registration implements the pending/confirmed registration state machine.
package registration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/claims-gateway/claims_gateway/internal/apperr"
	"github.com/claims-gateway/claims_gateway/internal/auth"
	"github.com/claims-gateway/claims_gateway/internal/claims"
	"github.com/claims-gateway/claims_gateway/internal/identity"
	"github.com/claims-gateway/claims_gateway/internal/notification"
)

// Policy selects how a registration becomes a confirmed identity.
type Policy string

const (
	// PolicyDirect materializes a pending identity immediately; admins flip its status.
	PolicyDirect Policy = "direct"
	// PolicyAdminReview keeps a pending record until an admin confirms or rejects it.
	PolicyAdminReview Policy = "admin_review"
	// PolicyCodeVerification sends one-time codes and promotes once every channel is verified.
	PolicyCodeVerification Policy = "code_verification"
)

// ParsePolicy validates a policy name.
func ParsePolicy(v string) (Policy, error) {
	switch p := Policy(v); p {
	case PolicyDirect, PolicyAdminReview, PolicyCodeVerification:
		return p, nil
	default:
		return "", fmt.Errorf("unknown registration policy %q", v)
	}
}

// Messages surfaced to clients.
const (
	msgPendingNotFound = "Temporary user not found"
	msgUserNotFound = "User not found"
	msgNotPending = "User is not pending"
	msgSyncFailed = "User confirmed, but failed to create placeholder"
	msgNotifyFailed = "Failed to send verification code"
	msgInvalidCode = "Invalid verification code"
	msgIncomplete = "Verification incomplete"
	msgChannelDisabled = "Verification channel not enabled"
	msgAlreadyVerified = "Channel already verified"
)

// TokenIssuer mints a bearer token for a confirmed identity.
type TokenIssuer interface {
	Issue(ident identity.Identity) (auth.Session, error)
}

// PolicyholderCreator creates the downstream claims record for an identity.
type PolicyholderCreator interface {
	CreatePolicyholder(ctx context.Context, token string, p claims.Policyholder) error
}

// Config tunes the state machine.
type Config struct {
	Policy            Policy
	Channels          []identity.Channel
	PendingTTL        time.Duration
	StoreTimeout      time.Duration
	NotifyTimeout     time.Duration
	DownstreamTimeout time.Duration
}

// Registration is the outcome of Initiate.
type Registration struct {
	ID        string
	Status    identity.Status
	CodesSent []identity.Channel
}

// Service drives registrations from pending to confirmed or rejected.
type Service struct {
	repo     identity.Repository
	notifier notification.Notifier
	alerter  notification.Alerter
	tokens   TokenIssuer
	claims   PolicyholderCreator
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs the registration service.
func NewService(repo identity.Repository, notifier notification.Notifier, tokens TokenIssuer, claimsAPI PolicyholderCreator, cfg Config, logger *slog.Logger) *Service {
	if cfg.Policy == "" {
		cfg.Policy = PolicyAdminReview
	}
	if len(cfg.Channels) == 0 {
		cfg.Channels = []identity.Channel{identity.ChannelEmail, identity.ChannelSMS}
	}
	return &Service{
		repo:     repo,
		notifier: notifier,
		tokens:   tokens,
		claims:   claimsAPI,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// SetAlerter enables admin alerts for new pending registrations.
func (s *Service) SetAlerter(a notification.Alerter) { s.alerter = a }

// Policy returns the configured policy.
func (s *Service) Policy() Policy { return s.cfg.Policy }

// Initiate validates input and records a new registration.
func (s *Service) Initiate(ctx context.Context, in RegisterInput) (Registration, error) {
	in.normalize()
	if err := in.Validate(); err != nil {
		return Registration{}, err
	}
	hash, err := identity.HashPassword(in.Password)
	if err != nil {
		return Registration{}, apperr.Internal("hash password", err)
	}

	profile := identity.Profile{
		Username:     in.Username,
		PasswordHash: hash,
		Email:        in.Email,
		Mobile:       in.Mobile,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Age:          in.Age,
	}
	now := s.now().UTC()
	reg := Registration{ID: uuid.NewString(), Status: identity.StatusPending}

	if s.cfg.Policy == PolicyDirect {
		ident := identity.Identity{
			ID:        reg.ID,
			Profile:   profile,
			Role:      identity.RoleNormal,
			Status:    identity.StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.withStore(ctx, func(ctx context.Context) error { return s.repo.CreateIdentity(ctx, ident) }); err != nil {
			return Registration{}, mapStoreError(err)
		}
	} else {
		pending := identity.PendingIdentity{ID: reg.ID, Profile: profile, CreatedAt: now}
		if s.cfg.Policy == PolicyCodeVerification {
			for _, ch := range s.cfg.Channels {
				code, err := newCode(ch)
				if err != nil {
					return Registration{}, apperr.Internal("generate code", err)
				}
				pending.SetCode(ch, code)
			}
		}
		if err := s.withStore(ctx, func(ctx context.Context) error { return s.repo.CreatePending(ctx, pending) }); err != nil {
			return Registration{}, mapStoreError(err)
		}
		if s.cfg.Policy == PolicyCodeVerification {
			for _, ch := range s.cfg.Channels {
				if err := s.sendCode(ctx, pending, ch); err != nil {
					return reg, err
				}
				reg.CodesSent = append(reg.CodesSent, ch)
			}
		}
	}

	s.logger.Info("registration.initiated",
		slog.String("user_id", reg.ID),
		slog.String("username", in.Username),
		slog.String("policy", string(s.cfg.Policy)),
	)
	s.alert(ctx, fmt.Sprintf("New registration pending: %s (%s %s)", in.Username, in.FirstName, in.LastName))
	return reg, nil
}

// VerifyCode checks a one-time code. A code can be used once; a used or unknown code
// never matches. The returned record reflects every channel verified so far.
func (s *Service) VerifyCode(ctx context.Context, pendingID string, ch identity.Channel, code string) (identity.PendingIdentity, error) {
	var p identity.PendingIdentity
	err := s.withStore(ctx, func(ctx context.Context) error {
		var err error
		p, err = s.repo.ConsumeCode(ctx, pendingID, ch, code)
		return err
	})
	switch {
	case err == nil:
	case errors.Is(err, identity.ErrNotFound):
		return identity.PendingIdentity{}, apperr.NotFound(msgPendingNotFound)
	case errors.Is(err, identity.ErrCodeMismatch):
		return identity.PendingIdentity{}, apperr.InvalidCode(msgInvalidCode)
	default:
		return identity.PendingIdentity{}, mapStoreError(err)
	}
	s.logger.Info("registration.code_verified", slog.String("user_id", p.ID), slog.String("channel", string(ch)))
	return p, nil
}

// ResendCode replaces the code for a channel and sends it again.
func (s *Service) ResendCode(ctx context.Context, pendingID string, ch identity.Channel) error {
	if !s.channelEnabled(ch) {
		return apperr.Validation(msgChannelDisabled)
	}
	p, err := s.findPending(ctx, pendingID)
	if err != nil {
		return err
	}
	if p.Verified(ch) {
		return apperr.Validation(msgAlreadyVerified)
	}
	code, err := newCode(ch)
	if err != nil {
		return apperr.Internal("generate code", err)
	}
	err = s.withStore(ctx, func(ctx context.Context) error { return s.repo.ReplaceCode(ctx, p.ID, ch, code) })
	switch {
	case err == nil:
	case errors.Is(err, identity.ErrNotFound):
		return apperr.NotFound(msgPendingNotFound)
	case errors.Is(err, identity.ErrAlreadyVerified):
		return apperr.Validation(msgAlreadyVerified)
	default:
		return mapStoreError(err)
	}
	p.SetCode(ch, code)
	return s.sendCode(ctx, p, ch)
}

// FullyVerified reports whether every configured channel of p is verified.
func (s *Service) FullyVerified(p identity.PendingIdentity) bool {
	for _, ch := range s.cfg.Channels {
		if !p.Verified(ch) {
			return false
		}
	}
	return true
}

// Promote turns a verified pending registration into an accepted identity and creates
// its downstream policyholder. A second call for the same registration reports
// NotFound. When only the downstream call fails the identity is kept and a
// DownstreamSync error is returned alongside it.
func (s *Service) Promote(ctx context.Context, pendingID string) (identity.Identity, error) {
	p, err := s.findPending(ctx, pendingID)
	if err != nil {
		return identity.Identity{}, err
	}
	if s.cfg.Policy == PolicyCodeVerification && !s.FullyVerified(p) {
		return identity.Identity{}, apperr.Validation(msgIncomplete)
	}
	return s.promote(ctx, p.ID)
}

func (s *Service) promote(ctx context.Context, pendingID string) (identity.Identity, error) {
	var ident identity.Identity
	err := s.withStore(ctx, func(ctx context.Context) error {
		var err error
		ident, err = s.repo.Promote(ctx, pendingID, identity.StatusAccepted)
		return err
	})
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return identity.Identity{}, apperr.NotFound(msgPendingNotFound)
		}
		return identity.Identity{}, mapStoreError(err)
	}
	s.logger.Info("registration.promoted", slog.String("user_id", ident.ID), slog.String("username", ident.Username))
	return s.sync(ctx, ident)
}

// Confirm is the admin approval path.
func (s *Service) Confirm(ctx context.Context, username string) (identity.Identity, error) {
	if s.cfg.Policy == PolicyDirect {
		ident, err := s.findIdentity(ctx, username)
		if err != nil {
			return identity.Identity{}, err
		}
		if err := s.transition(ctx, username, identity.StatusPending, identity.StatusAccepted); err != nil {
			return identity.Identity{}, err
		}
		ident.Status = identity.StatusAccepted
		return s.sync(ctx, ident)
	}

	var p identity.PendingIdentity
	err := s.withStore(ctx, func(ctx context.Context) error {
		var err error
		p, err = s.repo.FindPendingByUsername(ctx, username)
		return err
	})
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return identity.Identity{}, apperr.NotFound(msgPendingNotFound)
		}
		return identity.Identity{}, mapStoreError(err)
	}
	return s.promote(ctx, p.ID)
}

// Reject is the admin refusal path. A materialized pending identity is rejected in
// place; a pending registration is materialized with status rejected.
func (s *Service) Reject(ctx context.Context, username string) error {
	_, err := s.findIdentity(ctx, username)
	switch {
	case err == nil:
		if err := s.transition(ctx, username, identity.StatusPending, identity.StatusRejected); err != nil {
			return err
		}
	case errors.Is(err, apperr.ErrNotFound):
		var p identity.PendingIdentity
		err := s.withStore(ctx, func(ctx context.Context) error {
			var err error
			if p, err = s.repo.FindPendingByUsername(ctx, username); err != nil {
				return err
			}
			_, err = s.repo.Promote(ctx, p.ID, identity.StatusRejected)
			return err
		})
		if err != nil {
			if errors.Is(err, identity.ErrNotFound) {
				return apperr.NotFound(msgUserNotFound)
			}
			return mapStoreError(err)
		}
	default:
		return err
	}
	s.logger.Info("registration.rejected", slog.String("username", username))
	return nil
}

// ListPending returns every pending registration.
func (s *Service) ListPending(ctx context.Context) ([]identity.PendingIdentity, error) {
	var out []identity.PendingIdentity
	err := s.withStore(ctx, func(ctx context.Context) error {
		var err error
		out, err = s.repo.ListPending(ctx)
		return err
	})
	if err != nil {
		return nil, mapStoreError(err)
	}
	return out, nil
}

// Resync retries the downstream policyholder creation for an accepted identity.
func (s *Service) Resync(ctx context.Context, username string) (identity.Identity, error) {
	ident, err := s.findIdentity(ctx, username)
	if err != nil {
		return identity.Identity{}, err
	}
	if ident.Status != identity.StatusAccepted {
		return identity.Identity{}, apperr.Conflict("User is not accepted")
	}
	if ident.PolicyholderSynced {
		return ident, nil
	}
	return s.sync(ctx, ident)
}

// AdminInput describes the administrator account seeded at startup.
type AdminInput struct {
	Username string
	Password string
	Email    string
	Mobile   string
}

// SeedAdmin creates the administrator account unless the username already exists.
func (s *Service) SeedAdmin(ctx context.Context, in AdminInput) error {
	if in.Username == "" || in.Password == "" || in.Email == "" || in.Mobile == "" {
		return apperr.Validation("admin username, password, email and mobile are required")
	}
	if _, err := s.findIdentity(ctx, in.Username); err == nil {
		return nil
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return err
	}

	hash, err := identity.HashPassword(in.Password)
	if err != nil {
		return apperr.Internal("hash password", err)
	}
	now := s.now().UTC()
	ident := identity.Identity{
		ID: uuid.NewString(),
		Profile: identity.Profile{
			Username:     in.Username,
			PasswordHash: hash,
			Email:        in.Email,
			Mobile:       in.Mobile,
			FirstName:    "Admin",
			LastName:     in.Username,
			Age:          MinimumAge,
		},
		Role:      identity.RoleAdmin,
		Status:    identity.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.withStore(ctx, func(ctx context.Context) error { return s.repo.CreateIdentity(ctx, ident) }); err != nil {
		return mapStoreError(err)
	}
	if err := s.transition(ctx, in.Username, identity.StatusPending, identity.StatusAccepted); err != nil {
		return err
	}
	s.logger.Info("registration.admin_seeded", slog.String("username", in.Username))
	return nil
}

// sync creates the downstream policyholder using a token minted for ident.
func (s *Service) sync(ctx context.Context, ident identity.Identity) (identity.Identity, error) {
	session, err := s.tokens.Issue(ident)
	if err != nil {
		return ident, apperr.DownstreamSync(msgSyncFailed, err)
	}

	callCtx, cancel := withTimeout(ctx, s.cfg.DownstreamTimeout)
	defer cancel()
	err = s.claims.CreatePolicyholder(callCtx, session.AccessToken, claims.Policyholder{
		Name:     ident.FullName(),
		Age:      ident.Age,
		Policies: []string{},
	})
	if err != nil {
		s.logger.Warn("registration.policyholder_failed", slog.String("username", ident.Username), slog.Any("error", err))
		return ident, apperr.DownstreamSync(msgSyncFailed, err)
	}

	if err := s.withStore(ctx, func(ctx context.Context) error { return s.repo.MarkSynced(ctx, ident.Username, true) }); err != nil {
		s.logger.Warn("registration.mark_synced_failed", slog.String("username", ident.Username), slog.Any("error", err))
	} else {
		ident.PolicyholderSynced = true
	}
	return ident, nil
}

func (s *Service) sendCode(ctx context.Context, p identity.PendingIdentity, ch identity.Channel) error {
	subject, body := codeMessage(ch, p.Code(ch))
	callCtx, cancel := withTimeout(ctx, s.cfg.NotifyTimeout)
	defer cancel()
	err := s.notifier.Send(callCtx, notification.Message{
		Channel:     ch,
		Destination: p.Address(ch),
		Subject:     subject,
		Body:        body,
	})
	if err != nil {
		s.logger.Warn("registration.notify_failed", slog.String("user_id", p.ID), slog.String("channel", string(ch)), slog.Any("error", err))
		return apperr.DownstreamSync(msgNotifyFailed, err)
	}
	return nil
}

func (s *Service) alert(ctx context.Context, text string) {
	if s.alerter == nil || s.cfg.Policy == PolicyCodeVerification {
		return
	}
	callCtx, cancel := withTimeout(ctx, s.cfg.NotifyTimeout)
	defer cancel()
	if err := s.alerter.Alert(callCtx, text); err != nil {
		s.logger.Warn("registration.alert_failed", slog.Any("error", err))
	}
}

func (s *Service) channelEnabled(ch identity.Channel) bool {
	for _, c := range s.cfg.Channels {
		if c == ch {
			return true
		}
	}
	return false
}

func (s *Service) findPending(ctx context.Context, id string) (identity.PendingIdentity, error) {
	var p identity.PendingIdentity
	err := s.withStore(ctx, func(ctx context.Context) error {
		var err error
		p, err = s.repo.FindPending(ctx, id)
		return err
	})
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return identity.PendingIdentity{}, apperr.NotFound(msgPendingNotFound)
		}
		return identity.PendingIdentity{}, mapStoreError(err)
	}
	return p, nil
}

func (s *Service) findIdentity(ctx context.Context, username string) (identity.Identity, error) {
	var ident identity.Identity
	err := s.withStore(ctx, func(ctx context.Context) error {
		var err error
		ident, err = s.repo.FindByUsername(ctx, username)
		return err
	})
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return identity.Identity{}, apperr.NotFound(msgUserNotFound)
		}
		return identity.Identity{}, mapStoreError(err)
	}
	return ident, nil
}

func (s *Service) transition(ctx context.Context, username string, from, to identity.Status) error {
	err := s.withStore(ctx, func(ctx context.Context) error { return s.repo.UpdateStatus(ctx, username, from, to) })
	switch {
	case err == nil:
		return nil
	case errors.Is(err, identity.ErrNotFound):
		return apperr.NotFound(msgUserNotFound)
	case errors.Is(err, identity.ErrStatusMismatch):
		return apperr.Conflict(msgNotPending)
	default:
		return mapStoreError(err)
	}
}

func (s *Service) withStore(ctx context.Context, fn func(context.Context) error) error {
	callCtx, cancel := withTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	return fn(callCtx)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// mapStoreError converts store failures into client-facing errors.
func mapStoreError(err error) error {
	var dup *identity.DuplicateError
	if errors.As(err, &dup) {
		switch dup.Field {
		case identity.FieldMobile:
			return apperr.Conflict("Number already exists")
		case identity.FieldEmail:
			return apperr.Conflict("Email already registered")
		default:
			return apperr.Conflict("Username already exists")
		}
	}
	if errors.Is(err, identity.ErrNotFound) {
		return apperr.NotFound(msgUserNotFound)
	}
	return apperr.Internal("identity store", err)
}
