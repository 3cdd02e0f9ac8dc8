package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/tripkeeper/internal/common"
	"github.com/dmitrijs2005/tripkeeper/internal/logging"
	"github.com/dmitrijs2005/tripkeeper/internal/server/models"
	"github.com/dmitrijs2005/tripkeeper/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/tripkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/tripkeeper/internal/server/repositories/tokencache"
	"github.com/google/uuid"
)

// ReuseError reports that an already revoked refresh token was presented.
// It matches common.ErrTokenReused.
type ReuseError struct {
	UserID   int64
	FamilyID string
	TokenID  string
}

func (e *ReuseError) Error() string {
	return fmt.Sprintf("%s: family %s", common.ErrTokenReused, e.FamilyID)
}

func (e *ReuseError) Unwrap() error {
	return common.ErrTokenReused
}

type RotateResult struct {
	Token    *models.RefreshToken
	FamilyID string
}

// FamilyService owns the lifecycle of refresh-token families: creation,
// validation, rotation, reuse detection and revocation.
type FamilyService struct {
	repomanager repomanager.RepositoryManager
	cache       tokencache.Cache
	logger      logging.Logger
	now         func() time.Time
	newID       func() string
}

func NewFamilyService(m repomanager.RepositoryManager, cache tokencache.Cache, logger logging.Logger) *FamilyService {
	if cache == nil {
		cache = tokencache.Nop{}
	}
	if logger == nil {
		logger = logging.Nop{}
	}
	return &FamilyService{
		repomanager: m,
		cache:       cache,
		logger:      logger.With("module", "families"),
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// CreateFamily starts a new lineage with tokenID as its first member.
func (s *FamilyService) CreateFamily(ctx context.Context, userID int64, tokenID string, expiresAt time.Time, ip, ua string) (*models.RefreshToken, error) {
	token := &models.RefreshToken{
		TokenID:       tokenID,
		FamilyID:      s.newID(),
		UserID:        userID,
		ExpiresAt:     expiresAt,
		CreatedAt:     s.now(),
		CreatedFromIP: ip,
		UserAgent:     ua,
	}

	if err := s.repomanager.RefreshTokens().Insert(ctx, token); err != nil {
		return nil, fmt.Errorf("error creating token family: %w", err)
	}

	s.cacheForget(ctx, userID, tokenID)
	return token, nil
}

// Validate returns the token if it is present, not revoked and not expired,
// checked in that order. Revocation and expiry always come from the store;
// the cache can only short-circuit a lookup of an unknown token.
func (s *FamilyService) Validate(ctx context.Context, userID int64, tokenID string) (*models.RefreshToken, error) {
	missing, err := s.cache.Missing(ctx, userID, tokenID)
	if err != nil {
		s.logger.Warn(ctx, "token cache read failed", "error", err)
	}
	if missing {
		return nil, common.ErrInvalidToken
	}

	token, err := s.find(ctx, s.repomanager.RefreshTokens(), userID, tokenID)
	if err != nil {
		if errors.Is(err, common.ErrInvalidToken) {
			s.cacheMarkMissing(ctx, userID, tokenID)
		}
		return nil, err
	}

	if err := s.check(token); err != nil {
		return nil, err
	}
	return token, nil
}

// DetectReuse reports whether the family shows signs of a replayed token:
// more than one simultaneously active member, or recorded evidence of a
// rotation that was refused because its token had already been rotated.
func (s *FamilyService) DetectReuse(ctx context.Context, userID int64, familyID string) (bool, error) {
	repo := s.repomanager.RefreshTokens()

	tokens, err := repo.FindByFamilyAndUser(ctx, familyID, userID)
	if err != nil {
		return false, fmt.Errorf("error loading token family: %w", err)
	}

	now := s.now()
	active := 0
	for i := range tokens {
		if tokens[i].IsActive(now) {
			active++
		}
	}
	if active > 1 {
		return true, nil
	}

	found, err := repo.HasReuseEvent(ctx, familyID, userID)
	if err != nil {
		return false, fmt.Errorf("error loading reuse events: %w", err)
	}
	return found, nil
}

// Rotate revokes oldTokenID and issues newTokenID in the same family, in
// one transaction. The revoke is conditional, so of two concurrent rotations
// of the same token exactly one succeeds; the other gets a *ReuseError.
func (s *FamilyService) Rotate(ctx context.Context, userID int64, oldTokenID, newTokenID string, expiresAt time.Time, ip, ua string) (*RotateResult, error) {
	var (
		result *RotateResult
		old    *models.RefreshToken
	)

	err := s.repomanager.WithTx(ctx, func(ctx context.Context, repo refreshtokens.Repository) error {
		var err error
		old, err = s.find(ctx, repo, userID, oldTokenID)
		if err != nil {
			return err
		}
		if err := s.check(old); err != nil {
			return err
		}

		revoked, err := repo.RevokeIfActive(ctx, oldTokenID, userID)
		if err != nil {
			return fmt.Errorf("error revoking refresh token: %w", err)
		}
		if !revoked {
			return &ReuseError{UserID: userID, FamilyID: old.FamilyID, TokenID: oldTokenID}
		}

		next := &models.RefreshToken{
			TokenID:       newTokenID,
			FamilyID:      old.FamilyID,
			UserID:        userID,
			ExpiresAt:     expiresAt,
			CreatedAt:     s.now(),
			CreatedFromIP: ip,
			UserAgent:     ua,
		}
		if err := repo.Insert(ctx, next); err != nil {
			return fmt.Errorf("error inserting rotated token: %w", err)
		}

		result = &RotateResult{Token: next, FamilyID: old.FamilyID}
		return nil
	})

	if err != nil {
		var reuse *ReuseError
		if errors.As(err, &reuse) && old != nil {
			s.recordReuse(ctx, old, ip, ua)
		}
		return nil, err
	}

	s.cacheForget(ctx, userID, newTokenID)
	return result, nil
}

// RevokeFamily revokes every member of the family. Idempotent.
func (s *FamilyService) RevokeFamily(ctx context.Context, userID int64, familyID string) error {
	if err := s.repomanager.RefreshTokens().MarkFamilyRevoked(ctx, familyID, userID); err != nil {
		return fmt.Errorf("error revoking token family: %w", err)
	}
	return nil
}

// RevokeAll revokes every token the user holds, across families. Idempotent.
func (s *FamilyService) RevokeAll(ctx context.Context, userID int64) error {
	if err := s.repomanager.RefreshTokens().MarkAllUserRevoked(ctx, userID); err != nil {
		return fmt.Errorf("error revoking user tokens: %w", err)
	}
	return nil
}

// RevokeOne revokes a single token. Idempotent.
func (s *FamilyService) RevokeOne(ctx context.Context, userID int64, tokenID string) error {
	if err := s.repomanager.RefreshTokens().MarkRevoked(ctx, tokenID, userID); err != nil {
		return fmt.Errorf("error revoking refresh token: %w", err)
	}
	return nil
}

// ListFamily returns every member of the family, oldest first.
func (s *FamilyService) ListFamily(ctx context.Context, userID int64, familyID string) ([]models.RefreshToken, error) {
	tokens, err := s.repomanager.RefreshTokens().FindByFamilyAndUser(ctx, familyID, userID)
	if err != nil {
		return nil, fmt.Errorf("error loading token family: %w", err)
	}
	return tokens, nil
}

func (s *FamilyService) find(ctx context.Context, repo refreshtokens.Repository, userID int64, tokenID string) (*models.RefreshToken, error) {
	token, err := repo.FindByTokenIDAndUser(ctx, tokenID, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrInvalidToken
		}
		return nil, fmt.Errorf("error searching refresh token: %w", err)
	}
	return token, nil
}

func (s *FamilyService) check(token *models.RefreshToken) error {
	if token.IsRevoked {
		return &ReuseError{UserID: token.UserID, FamilyID: token.FamilyID, TokenID: token.TokenID}
	}
	if token.IsExpired(s.now()) {
		return common.ErrTokenExpired
	}
	return nil
}

// recordReuse stores evidence outside the failed transaction so a later
// DetectReuse on the family sees it.
func (s *FamilyService) recordReuse(ctx context.Context, old *models.RefreshToken, ip, ua string) {
	event := &models.ReuseEvent{
		ID:         s.newID(),
		UserID:     old.UserID,
		FamilyID:   old.FamilyID,
		TokenID:    old.TokenID,
		DetectedAt: s.now(),
		ExpiresAt:  old.ExpiresAt,
		IPAddress:  ip,
		UserAgent:  ua,
	}
	if err := s.repomanager.RefreshTokens().InsertReuseEvent(ctx, event); err != nil {
		s.logger.Error(ctx, "failed to record reuse event", "user_id", old.UserID, "family_id", old.FamilyID, "error", err)
	}
}

func (s *FamilyService) cacheMarkMissing(ctx context.Context, userID int64, tokenID string) {
	if err := s.cache.MarkMissing(ctx, userID, tokenID); err != nil {
		s.logger.Warn(ctx, "token cache write failed", "error", err)
	}
}

func (s *FamilyService) cacheForget(ctx context.Context, userID int64, tokenID string) {
	if err := s.cache.Forget(ctx, userID, tokenID); err != nil {
		s.logger.Warn(ctx, "token cache invalidation failed", "error", err)
	}
}
