package repository

import (
	"context"
	"fmt"
	"testing"

	"ecoswap/internal/models"
	"ecoswap/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestGetOrCreateWalletIsIdempotent(t *testing.T) {
	db := testutil.NewDB(t)
	u := testutil.CreateUser(t, db, "alice")
	repo := NewPointRepository(db)
	ctx := context.Background()

	w1, err := repo.GetOrCreateWallet(ctx, u.ID)
	require.NoError(t, err)
	w2, err := repo.GetOrCreateWallet(ctx, u.ID)
	require.NoError(t, err)

	assert.Equal(t, u.ID, w1.UserID)
	assert.Equal(t, int64(0), w2.Balance)

	var n int64
	require.NoError(t, db.Model(&models.PointWallet{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestIncrementBalance(t *testing.T) {
	db := testutil.NewDB(t)
	u := testutil.CreateUser(t, db, "alice")
	repo := NewPointRepository(db)
	ctx := context.Background()

	_, err := repo.IncrementBalance(ctx, u.ID, 5)
	assert.ErrorIs(t, err, ErrWalletMissing)

	_, err = repo.GetOrCreateWallet(ctx, u.ID)
	require.NoError(t, err)
	bal, err := repo.IncrementBalance(ctx, u.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), bal)
	bal, err = repo.IncrementBalance(ctx, u.ID, -2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), bal)
}

func TestAppendEntryDuplicateKey(t *testing.T) {
	db := testutil.NewDB(t)
	u := testutil.CreateUser(t, db, "alice")
	repo := NewPointRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.AppendEntry(ctx, &models.PointLedger{UserID: u.ID, Delta: 10, IdempotencyKey: strPtr("k1")}))
	err := repo.AppendEntry(ctx, &models.PointLedger{UserID: u.ID, Delta: 10, IdempotencyKey: strPtr("k1")})
	assert.ErrorIs(t, err, ErrDuplicateIdempotencyKey)

	// NULL keys never collide.
	require.NoError(t, repo.AppendEntry(ctx, &models.PointLedger{UserID: u.ID, Delta: 1}))
	require.NoError(t, repo.AppendEntry(ctx, &models.PointLedger{UserID: u.ID, Delta: 1}))

	seen, err := repo.HasIdempotencyKey(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, seen)
	seen, err = repo.HasIdempotencyKey(ctx, "k2")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestSumPositiveDeltas(t *testing.T) {
	db := testutil.NewDB(t)
	u := testutil.CreateUser(t, db, "alice")
	other := testutil.CreateUser(t, db, "bob")
	repo := NewPointRepository(db)
	ctx := context.Background()

	sum, err := repo.SumPositiveDeltas(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), sum)

	for _, d := range []int64{10, -4, 25} {
		require.NoError(t, repo.AppendEntry(ctx, &models.PointLedger{UserID: u.ID, Delta: d}))
	}
	require.NoError(t, repo.AppendEntry(ctx, &models.PointLedger{UserID: other.ID, Delta: 100}))

	sum, err = repo.SumPositiveDeltas(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(35), sum)
}

func TestPageEntries(t *testing.T) {
	db := testutil.NewDB(t)
	u := testutil.CreateUser(t, db, "alice")
	repo := NewPointRepository(db)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		require.NoError(t, repo.AppendEntry(ctx, &models.PointLedger{UserID: u.ID, Delta: int64(i), Reason: strPtr(fmt.Sprint("e", i))}))
	}
	ids := func(list []models.PointLedger) []uint {
		out := make([]uint, len(list))
		for i, e := range list {
			out[i] = e.ID
		}
		return out
	}

	page, next, err := repo.PageEntries(ctx, u.ID, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, []uint{5, 4}, ids(page))
	require.NotNil(t, next)
	assert.Equal(t, uint(4), *next)

	page, next, err = repo.PageEntries(ctx, u.ID, 2, next)
	require.NoError(t, err)
	assert.Equal(t, []uint{3, 2}, ids(page))
	require.NotNil(t, next)
	assert.Equal(t, uint(2), *next)

	page, next, err = repo.PageEntries(ctx, u.ID, 2, next)
	require.NoError(t, err)
	assert.Equal(t, []uint{1}, ids(page))
	assert.Nil(t, next)

	all, err := repo.ListAllEntries(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{5, 4, 3, 2, 1}, ids(all))
}

func TestTransactionRollsBackBoth(t *testing.T) {
	db := testutil.NewDB(t)
	u := testutil.CreateUser(t, db, "alice")
	repo := NewPointRepository(db)
	ctx := context.Background()
	_, err := repo.GetOrCreateWallet(ctx, u.ID)
	require.NoError(t, err)

	err = repo.Transaction(ctx, func(tx *PointRepository) error {
		if err := tx.AppendEntry(ctx, &models.PointLedger{UserID: u.ID, Delta: 7}); err != nil {
			return err
		}
		if _, err := tx.IncrementBalance(ctx, u.ID, 7); err != nil {
			return err
		}
		return fmt.Errorf("abort")
	})
	require.Error(t, err)

	w, err := repo.GetOrCreateWallet(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), w.Balance)
	all, err := repo.ListAllEntries(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, all)
}
