package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/tripkeeper/internal/common"
	"github.com/dmitrijs2005/tripkeeper/internal/logging"
	"github.com/dmitrijs2005/tripkeeper/internal/server/auth"
	"github.com/dmitrijs2005/tripkeeper/internal/server/config"
	"github.com/dmitrijs2005/tripkeeper/internal/server/forensics"
	"github.com/dmitrijs2005/tripkeeper/internal/server/metrics"
	"github.com/google/uuid"
)

type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// SessionService is what the authentication endpoints call. It turns
// engine outcomes into the errors a client may see and escalates reuse.
type SessionService struct {
	families                     *FamilyService
	signer                       auth.Signer
	archiver                     forensics.Archiver
	metrics                      *metrics.Metrics
	logger                       logging.Logger
	accessTokenValidityDuration  time.Duration
	refreshTokenValidityDuration time.Duration
	now                          func() time.Time
	newID                        func() string
}

func NewSessionService(families *FamilyService, signer auth.Signer, archiver forensics.Archiver,
	m *metrics.Metrics, logger logging.Logger, cfg *config.Config) *SessionService {

	if archiver == nil {
		archiver = forensics.Nop{}
	}
	if logger == nil {
		logger = logging.Nop{}
	}
	return &SessionService{
		families:                     families,
		signer:                       signer,
		archiver:                     archiver,
		metrics:                      m,
		logger:                       logger.With("module", "sessions"),
		accessTokenValidityDuration:  cfg.AccessTokenValidityDuration,
		refreshTokenValidityDuration: cfg.RefreshTokenValidityDuration,
		now:                          time.Now,
		newID:                        uuid.NewString,
	}
}

// IssueSession starts a new family for a freshly authenticated user.
// User ids must be positive.
func (s *SessionService) IssueSession(ctx context.Context, userID int64, ip, ua string) (*TokenPair, error) {
	if userID <= 0 {
		return nil, common.ErrInvalidUser
	}

	tokenID := s.newID()

	_, err := s.families.CreateFamily(ctx, userID, tokenID, s.now().Add(s.refreshTokenValidityDuration), ip, ua)
	if err != nil {
		s.logger.Error(ctx, "session issue failed", "user_id", userID, "error", err)
		return nil, common.ErrorInternal
	}

	pair, err := s.generateTokenPair(userID, tokenID)
	if err != nil {
		s.logger.Error(ctx, "token signing failed", "user_id", userID, "error", err)
		return nil, common.ErrorInternal
	}

	s.metrics.SessionIssued()
	return pair, nil
}

// RefreshSession exchanges a refresh credential for a new pair. A replayed
// credential revokes its whole family and yields an error matching both
// common.ErrSecurityViolation and common.ErrTokenReused. Failed rotations
// are never retried: the old token's state is unknown, so the client has to
// re-authenticate.
func (s *SessionService) RefreshSession(ctx context.Context, presented string, ip, ua string) (*TokenPair, error) {
	claims, err := s.signer.Verify(presented)
	if err != nil {
		if errors.Is(err, common.ErrTokenExpired) {
			return nil, s.refreshFailed(ctx, metrics.StageValidate, common.ErrTokenExpired)
		}
		return nil, s.refreshFailed(ctx, metrics.StageValidate, common.ErrInvalidToken)
	}
	if claims.Kind != common.TokenKindRefresh {
		return nil, s.refreshFailed(ctx, metrics.StageValidate, common.ErrInvalidToken)
	}

	userID, tokenID := claims.UserID, claims.TokenID

	current, err := s.families.Validate(ctx, userID, tokenID)
	if err != nil {
		return nil, s.refreshFailed(ctx, metrics.StageValidate, err)
	}

	reused, err := s.families.DetectReuse(ctx, userID, current.FamilyID)
	if err != nil {
		return nil, s.refreshFailed(ctx, metrics.StageDetect, err)
	}
	if reused {
		return nil, s.escalate(ctx, metrics.StageDetect, &ReuseError{UserID: userID, FamilyID: current.FamilyID, TokenID: tokenID})
	}

	newTokenID := s.newID()
	if _, err := s.families.Rotate(ctx, userID, tokenID, newTokenID, s.now().Add(s.refreshTokenValidityDuration), ip, ua); err != nil {
		return nil, s.refreshFailed(ctx, metrics.StageRotate, err)
	}

	pair, err := s.generateTokenPair(userID, newTokenID)
	if err != nil {
		s.logger.Error(ctx, "token signing failed", "user_id", userID, "error", err)
		s.metrics.RefreshFailure(metrics.ReasonInternal)
		return nil, common.ErrorInternal
	}

	s.metrics.SessionRefreshed()
	return pair, nil
}

// Logout revokes every session of the user.
func (s *SessionService) Logout(ctx context.Context, userID int64) error {
	if err := s.families.RevokeAll(ctx, userID); err != nil {
		s.logger.Error(ctx, "logout failed", "user_id", userID, "error", err)
		return common.ErrorInternal
	}
	s.metrics.Revocation(metrics.ScopeUser)
	return nil
}

// LogoutOne revokes a single refresh token.
func (s *SessionService) LogoutOne(ctx context.Context, userID int64, tokenID string) error {
	if err := s.families.RevokeOne(ctx, userID, tokenID); err != nil {
		s.logger.Error(ctx, "logout failed", "user_id", userID, "error", err)
		return common.ErrorInternal
	}
	s.metrics.Revocation(metrics.ScopeOne)
	return nil
}

// refreshFailed maps an engine error to what the caller may see.
func (s *SessionService) refreshFailed(ctx context.Context, stage string, err error) error {
	var reuse *ReuseError
	switch {
	case errors.As(err, &reuse):
		return s.escalate(ctx, stage, reuse)
	case errors.Is(err, common.ErrInvalidToken):
		s.logger.Debug(ctx, "refresh rejected", "reason", metrics.ReasonInvalid)
		s.metrics.RefreshFailure(metrics.ReasonInvalid)
		return common.ErrInvalidToken
	case errors.Is(err, common.ErrTokenExpired):
		s.logger.Debug(ctx, "refresh rejected", "reason", metrics.ReasonExpired)
		s.metrics.RefreshFailure(metrics.ReasonExpired)
		return common.ErrTokenExpired
	default:
		s.logger.Error(ctx, "refresh failed", "stage", stage, "error", err)
		s.metrics.RefreshFailure(metrics.ReasonInternal)
		return common.ErrorInternal
	}
}

// escalate handles a replayed token: the family is revoked before the
// error is returned, and a snapshot is archived for investigation.
func (s *SessionService) escalate(ctx context.Context, stage string, reuse *ReuseError) error {
	s.logger.Error(ctx, "refresh token reuse detected",
		"user_id", reuse.UserID, "family_id", reuse.FamilyID, "stage", stage)
	s.metrics.ReuseDetected(stage)
	s.metrics.RefreshFailure(metrics.ReasonReused)

	if err := s.families.RevokeFamily(ctx, reuse.UserID, reuse.FamilyID); err != nil {
		s.logger.Error(ctx, "family revocation failed",
			"user_id", reuse.UserID, "family_id", reuse.FamilyID, "error", err)
	} else {
		s.metrics.Revocation(metrics.ScopeFamily)
	}

	s.archive(ctx, stage, reuse)

	return fmt.Errorf("%w: %w", common.ErrSecurityViolation, reuse)
}

func (s *SessionService) archive(ctx context.Context, stage string, reuse *ReuseError) {
	if _, ok := s.archiver.(forensics.Nop); ok {
		return
	}

	tokens, err := s.families.ListFamily(ctx, reuse.UserID, reuse.FamilyID)
	if err != nil {
		s.logger.Warn(ctx, "forensics snapshot skipped", "family_id", reuse.FamilyID, "error", err)
		return
	}

	snap := forensics.Snapshot{
		UserID:     reuse.UserID,
		FamilyID:   reuse.FamilyID,
		Reason:     stage,
		DetectedAt: s.now().UTC(),
		Tokens:     tokens,
	}
	if err := s.archiver.ArchiveFamily(ctx, snap); err != nil {
		s.logger.Warn(ctx, "forensics snapshot failed", "family_id", reuse.FamilyID, "error", err)
	}
}

func (s *SessionService) generateTokenPair(userID int64, tokenID string) (*TokenPair, error) {
	accessToken, err := s.signer.Sign(userID, auth.RotationClaims{TokenID: tokenID, Kind: common.TokenKindAccess}, s.accessTokenValidityDuration)
	if err != nil {
		return nil, err
	}

	refreshToken, err := s.signer.Sign(userID, auth.RotationClaims{TokenID: tokenID, Kind: common.TokenKindRefresh}, s.refreshTokenValidityDuration)
	if err != nil {
		return nil, err
	}

	return &TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}
