package refreshtokens

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/tripkeeper/internal/common"
	"github.com/dmitrijs2005/tripkeeper/internal/server/models"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	tokA   = "0d6f5b8e-8c1c-4a43-9d0b-0c1a9b1e2f01"
	tokB   = "0d6f5b8e-8c1c-4a43-9d0b-0c1a9b1e2f02"
	famF1  = "7a1e2c44-5b6d-4e8f-9a0b-1c2d3e4f5a61"
	user42 = int64(42)
)

var tokenCols = []string{"token_id", "family_id", "user_id", "expires_at", "is_revoked", "created_at", "created_from_ip", "user_agent"}

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func TestInsert_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	expires := time.Date(2026, 10, 23, 0, 0, 0, 0, time.UTC)
	created := time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)

	q := `(?s)^\s*INSERT\s+INTO\s+refresh_tokens\s*\(token_id,.*user_agent\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4,\s*\$5,\s*\$6,\s*\$7,\s*\$8\)\s*$`
	mock.ExpectExec(q).
		WithArgs(tokA, famF1, user42, expires, false, created, "10.0.0.1", nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Insert(context.Background(), &models.RefreshToken{
		TokenID:       tokA,
		FamilyID:      famF1,
		UserID:        user42,
		ExpiresAt:     expires,
		CreatedAt:     created,
		CreatedFromIP: "10.0.0.1",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsert_DuplicateMapsToAlreadyExists(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT\s+INTO\s+refresh_tokens`).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key"})

	err := repo.Insert(context.Background(), &models.RefreshToken{TokenID: tokA, FamilyID: famF1, UserID: user42})
	assert.ErrorIs(t, err, common.ErrorAlreadyExists)
}

func TestInsert_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT\s+INTO\s+refresh_tokens`).
		WillReturnError(errors.New("db down"))

	err := repo.Insert(context.Background(), &models.RefreshToken{TokenID: tokA})
	if err == nil || !regexp.MustCompile(`error performing sql request: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestFindByTokenIDAndUser_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	expires := time.Now().Add(10 * time.Minute).UTC()
	created := time.Now().UTC()

	q := `(?s)^\s*SELECT\s+token_id,.*FROM\s+refresh_tokens\s+WHERE\s+token_id\s*=\s*\$1\s+AND\s+user_id\s*=\s*\$2\s*$`
	mock.ExpectQuery(q).
		WithArgs(tokA, user42).
		WillReturnRows(sqlmock.NewRows(tokenCols).
			AddRow(tokA, famF1, user42, expires, true, created, nil, "curl/8"))

	got, err := repo.FindByTokenIDAndUser(context.Background(), tokA, user42)
	require.NoError(t, err)
	assert.Equal(t, tokA, got.TokenID)
	assert.Equal(t, famF1, got.FamilyID)
	assert.Equal(t, user42, got.UserID)
	assert.True(t, got.ExpiresAt.Equal(expires))
	assert.True(t, got.IsRevoked)
	assert.Empty(t, got.CreatedFromIP)
	assert.Equal(t, "curl/8", got.UserAgent)
}

func TestFindByTokenIDAndUser_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT\s+token_id`).
		WithArgs(tokA, user42).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByTokenIDAndUser(context.Background(), tokA, user42)
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestFindByTokenIDAndUser_MalformedIDSkipsQuery(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	_, err := repo.FindByTokenIDAndUser(context.Background(), "not-a-uuid", user42)
	assert.ErrorIs(t, err, common.ErrorNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByTokenIDAndUser_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT\s+token_id`).
		WillReturnError(errors.New("db err"))

	_, err := repo.FindByTokenIDAndUser(context.Background(), tokA, user42)
	if err == nil || !regexp.MustCompile(`db error: .*db err`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestFindByFamilyAndUser(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now().UTC()
	q := `(?s)FROM\s+refresh_tokens\s+WHERE\s+family_id\s*=\s*\$1\s+AND\s+user_id\s*=\s*\$2\s+ORDER\s+BY\s+created_at`
	mock.ExpectQuery(q).
		WithArgs(famF1, user42).
		WillReturnRows(sqlmock.NewRows(tokenCols).
			AddRow(tokA, famF1, user42, now.Add(time.Hour), true, now.Add(-time.Minute), nil, nil).
			AddRow(tokB, famF1, user42, now.Add(time.Hour), false, now, nil, nil))

	got, err := repo.FindByFamilyAndUser(context.Background(), famF1, user42)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, tokA, got[0].TokenID)
	assert.True(t, got[0].IsRevoked)
	assert.Equal(t, tokB, got[1].TokenID)
	assert.False(t, got[1].IsRevoked)
}

func TestFindByFamilyAndUser_Empty(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`WHERE\s+family_id`).
		WithArgs(famF1, user42).
		WillReturnRows(sqlmock.NewRows(tokenCols))

	got, err := repo.FindByFamilyAndUser(context.Background(), famF1, user42)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestFindByFamilyAndUser_RowError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`WHERE\s+family_id`).
		WillReturnRows(sqlmock.NewRows(tokenCols).
			AddRow(tokA, famF1, user42, time.Now(), false, time.Now(), nil, nil).
			RowError(0, errors.New("broken row")))

	_, err := repo.FindByFamilyAndUser(context.Background(), famF1, user42)
	require.Error(t, err)
}

func TestRevokeIfActive(t *testing.T) {
	q := `(?s)UPDATE\s+refresh_tokens\s+SET\s+is_revoked\s*=\s*TRUE\s+WHERE\s+token_id\s*=\s*\$1\s+AND\s+user_id\s*=\s*\$2\s+AND\s+is_revoked\s*=\s*FALSE`

	t.Run("flipped", func(t *testing.T) {
		repo, mock, db := newRepoWithMock(t)
		defer db.Close()
		mock.ExpectExec(q).WithArgs(tokA, user42).WillReturnResult(sqlmock.NewResult(0, 1))

		ok, err := repo.RevokeIfActive(context.Background(), tokA, user42)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("already revoked", func(t *testing.T) {
		repo, mock, db := newRepoWithMock(t)
		defer db.Close()
		mock.ExpectExec(q).WithArgs(tokA, user42).WillReturnResult(sqlmock.NewResult(0, 0))

		ok, err := repo.RevokeIfActive(context.Background(), tokA, user42)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("db error", func(t *testing.T) {
		repo, mock, db := newRepoWithMock(t)
		defer db.Close()
		mock.ExpectExec(q).WillReturnError(errors.New("db err"))

		_, err := repo.RevokeIfActive(context.Background(), tokA, user42)
		require.Error(t, err)
	})
}

func TestMassRevocations(t *testing.T) {
	ctx := context.Background()

	t.Run("one", func(t *testing.T) {
		repo, mock, db := newRepoWithMock(t)
		defer db.Close()
		mock.ExpectExec(`UPDATE\s+refresh_tokens\s+SET\s+is_revoked\s*=\s*TRUE\s+WHERE\s+token_id\s*=\s*\$1\s+AND\s+user_id\s*=\s*\$2$`).
			WithArgs(tokA, user42).
			WillReturnResult(sqlmock.NewResult(0, 0))
		require.NoError(t, repo.MarkRevoked(ctx, tokA, user42))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("family", func(t *testing.T) {
		repo, mock, db := newRepoWithMock(t)
		defer db.Close()
		mock.ExpectExec(`UPDATE\s+refresh_tokens\s+SET\s+is_revoked\s*=\s*TRUE\s+WHERE\s+family_id\s*=\s*\$1\s+AND\s+user_id\s*=\s*\$2`).
			WithArgs(famF1, user42).
			WillReturnResult(sqlmock.NewResult(0, 3))
		require.NoError(t, repo.MarkFamilyRevoked(ctx, famF1, user42))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("user", func(t *testing.T) {
		repo, mock, db := newRepoWithMock(t)
		defer db.Close()
		mock.ExpectExec(`UPDATE\s+refresh_tokens\s+SET\s+is_revoked\s*=\s*TRUE\s+WHERE\s+user_id\s*=\s*\$1`).
			WithArgs(user42).
			WillReturnResult(sqlmock.NewResult(0, 0))
		require.NoError(t, repo.MarkAllUserRevoked(ctx, user42))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("malformed ids are no-ops", func(t *testing.T) {
		repo, mock, db := newRepoWithMock(t)
		defer db.Close()
		require.NoError(t, repo.MarkRevoked(ctx, "x", user42))
		require.NoError(t, repo.MarkFamilyRevoked(ctx, "y", user42))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("db error propagates", func(t *testing.T) {
		repo, mock, db := newRepoWithMock(t)
		defer db.Close()
		mock.ExpectExec(`UPDATE\s+refresh_tokens`).WillReturnError(errors.New("db err"))
		require.Error(t, repo.MarkAllUserRevoked(ctx, user42))
	})
}

func TestDeleteExpiredBefore(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Date(2026, 10, 16, 3, 30, 0, 0, time.UTC)
	mock.ExpectExec(`(?s)^DELETE\s+FROM\s+refresh_tokens\s+WHERE\s+expires_at\s*<\s*\$1$`).
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 5))

	n, err := repo.DeleteExpiredBefore(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}

func TestDeleteExpiredBefore_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`DELETE\s+FROM\s+refresh_tokens`).WillReturnError(errors.New("db err"))

	_, err := repo.DeleteExpiredBefore(context.Background(), time.Now())
	require.Error(t, err)
}

func TestReuseEvents(t *testing.T) {
	ctx := context.Background()
	detected := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

	t.Run("insert", func(t *testing.T) {
		repo, mock, db := newRepoWithMock(t)
		defer db.Close()
		mock.ExpectExec(`INSERT\s+INTO\s+refresh_token_reuse_events`).
			WithArgs("ev1", user42, famF1, tokA, detected, detected.Add(time.Hour), nil, "ua").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.InsertReuseEvent(ctx, &models.ReuseEvent{
			ID: "ev1", UserID: user42, FamilyID: famF1, TokenID: tokA,
			DetectedAt: detected, ExpiresAt: detected.Add(time.Hour), UserAgent: "ua",
		})
		require.NoError(t, err)
	})

	t.Run("exists", func(t *testing.T) {
		repo, mock, db := newRepoWithMock(t)
		defer db.Close()
		mock.ExpectQuery(`(?s)SELECT\s+EXISTS.*refresh_token_reuse_events.*family_id\s*=\s*\$1\s+AND\s+user_id\s*=\s*\$2`).
			WithArgs(famF1, user42).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		ok, err := repo.HasReuseEvent(ctx, famF1, user42)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("delete expired", func(t *testing.T) {
		repo, mock, db := newRepoWithMock(t)
		defer db.Close()
		mock.ExpectExec(`DELETE\s+FROM\s+refresh_token_reuse_events\s+WHERE\s+expires_at\s*<\s*\$1`).
			WithArgs(detected).
			WillReturnResult(sqlmock.NewResult(0, 2))

		n, err := repo.DeleteExpiredReuseEventsBefore(ctx, detected)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})
}
