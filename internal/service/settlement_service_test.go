package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"ecoswap/internal/domain"
	"ecoswap/internal/matching"
	"ecoswap/internal/models"
	"ecoswap/internal/repository"
	"ecoswap/internal/testutil"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type settleFixture struct {
	db        *gorm.DB
	svc       *SettlementService
	client    *fakeClient
	supplier  *models.User
	requester *models.User
}

func newSettleFixture(t *testing.T, defaultValue int64) *settleFixture {
	db := testutil.NewDB(t)
	log := testutil.Logger()
	points := NewPointService(repository.NewPointRepository(db), testLevels, log)
	client := &fakeClient{}
	return &settleFixture{
		db:        db,
		client:    client,
		svc:       NewSettlementService(db, points, repository.NewUserRepository(db), client, defaultValue, DefaultRetryPolicy(), log),
		supplier:  testutil.CreateUser(t, db, "alice"),
		requester: testutil.CreateUser(t, db, "bob"),
	}
}

func fastPolicy(attempts uint) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, Delay: time.Millisecond, Multiplier: 1}
}

func valuedRecord(status string, value int64) *matching.MatchRecord {
	rec := record(status, "10", "alice", "20", "bob")
	rec.Resource.Value = int64Ptr(value)
	rec.Request.ItemName = "Glass jars"
	rec.Request.Amount = "3"
	return rec
}

func TestTrySettleAwardsOnThirdPoll(t *testing.T) {
	f := newSettleFixture(t, 0)
	states := []string{"proposed", "proposed", "matched"}
	polls := 0
	f.client.byResource = func(string) (*matching.MatchRecord, error) {
		st := states[polls]
		polls++
		return valuedRecord(st, 15), nil
	}

	res, err := f.svc.TrySettle(context.Background(), "10", "20", fastPolicy(3))
	require.NoError(t, err)
	assert.True(t, res.Awarded)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, "matched", res.State)
	require.NotNil(t, res.Detail)
	assert.Equal(t, int64(15), res.Detail.Points)
	assert.Equal(t, "match_record", res.Detail.ValueSource)
	require.Len(t, res.Detail.Awards, 2)

	for _, u := range []*models.User{f.supplier, f.requester} {
		entries := ledger(t, f.db, u.ID)
		require.Len(t, entries, 1)
		e := entries[0]
		assert.Equal(t, int64(15), e.Delta)
		assert.Equal(t, domain.RefTypeResource, *e.RefType)
		assert.Equal(t, "10", *e.RefID)
		assert.Equal(t, "Glass jars", *e.ItemTitle)
		assert.InDelta(t, 3.0, *e.ItemAmount, 1e-9)
		assert.Equal(t, domain.MatchIdempotencyKey("10", u.ID), *e.IdempotencyKey)
	}
}

func TestTrySettleNotMatchedAfterRetries(t *testing.T) {
	f := newSettleFixture(t, 10)
	f.client.byResource = func(string) (*matching.MatchRecord, error) {
		return valuedRecord("proposed", 15), nil
	}

	res, err := f.svc.TrySettle(context.Background(), "10", "20", fastPolicy(3))
	require.NoError(t, err)
	assert.False(t, res.Awarded)
	assert.Equal(t, domain.SettleReasonNotMatched, res.Reason)
	assert.Equal(t, "proposed", res.State)
	assert.Equal(t, 3, f.client.callCount("by_resource"))
	assert.Equal(t, 3, f.client.callCount("by_request"))
	assert.Empty(t, ledger(t, f.db, f.supplier.ID))
}

func TestTrySettleFallsBackToRequest(t *testing.T) {
	f := newSettleFixture(t, 0)
	f.client.byResource = func(string) (*matching.MatchRecord, error) {
		return nil, errors.New("connection refused")
	}
	f.client.byRequest = func(string) (*matching.MatchRecord, error) {
		rec := valuedRecord("accepted", 8)
		rec.Resource.ID = ""
		rec.Request.MatchedResourceID = "99"
		return rec, nil
	}

	res, err := f.svc.TrySettle(context.Background(), "10", "20", fastPolicy(1))
	require.NoError(t, err)
	require.True(t, res.Awarded)
	assert.Equal(t, "99", res.Detail.ResourceID)
	entries := ledger(t, f.db, f.requester.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, "99", *entries[0].RefID)
}

func TestTrySettleIsIdempotent(t *testing.T) {
	f := newSettleFixture(t, 0)
	f.client.byResource = func(string) (*matching.MatchRecord, error) {
		return valuedRecord("matched", 12), nil
	}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := f.svc.TrySettle(ctx, "10", "20", fastPolicy(1))
		require.NoError(t, err)
		require.True(t, res.Awarded)
		for _, a := range res.Detail.Awards {
			assert.Equal(t, int64(12), a.Balance)
		}
	}
	assert.Len(t, ledger(t, f.db, f.supplier.ID), 1)
	assert.Len(t, ledger(t, f.db, f.requester.ID), 1)
}

func TestTrySettleValueChain(t *testing.T) {
	tests := []struct {
		name       string
		recValue   *int64
		supplier   []matching.ResourceBrief
		global     []matching.ResourceBrief
		defaultVal int64
		want       int64
		source     string
	}{
		{"record", int64Ptr(20), nil, nil, 5, 20, "match_record"},
		{"supplier listing", int64Ptr(0), []matching.ResourceBrief{{ID: "10", Value: int64Ptr(7)}}, nil, 5, 7, "supplier_listing"},
		{"global listing", nil, []matching.ResourceBrief{{ID: "11", Value: int64Ptr(9)}}, []matching.ResourceBrief{{ID: "10", Value: int64Ptr(6)}}, 5, 6, "global_listing"},
		{"default", nil, nil, nil, 5, 5, "default"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSettleFixture(t, tt.defaultVal)
			f.client.byResource = func(string) (*matching.MatchRecord, error) {
				rec := record("matched", "10", "alice", "20", "bob")
				rec.Resource.Value = tt.recValue
				return rec, nil
			}
			f.client.resourcesOfUser = func(string) ([]matching.ResourceBrief, error) { return tt.supplier, nil }
			f.client.resources = func() ([]matching.ResourceBrief, error) { return tt.global, nil }

			res, err := f.svc.TrySettle(context.Background(), "10", "20", fastPolicy(1))
			require.NoError(t, err)
			require.True(t, res.Awarded)
			assert.Equal(t, tt.want, res.Detail.Points)
			assert.Equal(t, tt.source, res.Detail.ValueSource)
			assert.Equal(t, domain.DefaultItemTitle, res.Detail.ItemTitle)
		})
	}
}

func TestTrySettleNeverAwardsNonPositiveValue(t *testing.T) {
	f := newSettleFixture(t, 0)
	f.client.byResource = func(string) (*matching.MatchRecord, error) {
		return valuedRecord("matched", 0), nil
	}
	f.client.resourcesOfUser = func(string) ([]matching.ResourceBrief, error) {
		return []matching.ResourceBrief{{ID: "10", Value: int64Ptr(-5)}}, nil
	}

	res, err := f.svc.TrySettle(context.Background(), "10", "20", fastPolicy(1))
	require.NoError(t, err)
	assert.False(t, res.Awarded)
	assert.Equal(t, domain.SettleReasonValueFailed, res.Reason)
	assert.Empty(t, ledger(t, f.db, f.supplier.ID))
	assert.Empty(t, ledger(t, f.db, f.requester.ID))
}

func TestTrySettleUnknownParty(t *testing.T) {
	f := newSettleFixture(t, 0)
	f.client.byResource = func(string) (*matching.MatchRecord, error) {
		rec := valuedRecord("matched", 10)
		rec.Request.Username = "mallory"
		return rec, nil
	}

	res, err := f.svc.TrySettle(context.Background(), "10", "20", fastPolicy(1))
	require.NoError(t, err)
	assert.False(t, res.Awarded)
	assert.Equal(t, domain.SettleReasonPartyFailed, res.Reason)
	assert.Empty(t, ledger(t, f.db, f.supplier.ID))
}

func TestTrySettleRequesterFromRequestListing(t *testing.T) {
	f := newSettleFixture(t, 0)
	f.client.byResource = func(string) (*matching.MatchRecord, error) {
		rec := valuedRecord("matched", 10)
		rec.Request = matching.RequestBrief{ID: "20"}
		return rec, nil
	}
	f.client.requests = func() ([]matching.RequestBrief, error) {
		return []matching.RequestBrief{
			{ID: "19", Username: "carol"},
			{ID: "20", Username: "bob", ItemName: "Cardboard", Amount: "2.5"},
		}, nil
	}

	res, err := f.svc.TrySettle(context.Background(), "10", "20", fastPolicy(1))
	require.NoError(t, err)
	require.True(t, res.Awarded)
	entries := ledger(t, f.db, f.requester.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, "Cardboard", *entries[0].ItemTitle)
	assert.InDelta(t, 2.5, *entries[0].ItemAmount, 1e-9)
}

func TestTrySettleSelfMatchAwardsOnce(t *testing.T) {
	f := newSettleFixture(t, 0)
	f.client.byResource = func(string) (*matching.MatchRecord, error) {
		rec := valuedRecord("matched", 10)
		rec.Request.Username = "alice"
		return rec, nil
	}

	res, err := f.svc.TrySettle(context.Background(), "10", "20", fastPolicy(1))
	require.NoError(t, err)
	require.True(t, res.Awarded)
	require.Len(t, res.Detail.Awards, 1)
	assert.Equal(t, int64(10), res.Detail.Awards[0].Balance)
	assert.Len(t, ledger(t, f.db, f.supplier.ID), 1)
}

func TestTrySettleRollsBackAllAwards(t *testing.T) {
	for _, attempts := range []uint{1, 3} {
		t.Run(fmt.Sprintf("attempts=%d", attempts), func(t *testing.T) {
			f := newSettleFixture(t, 0)
			f.client.byResource = func(string) (*matching.MatchRecord, error) {
				return valuedRecord("matched", 10), nil
			}
			boom := errors.New("disk full")
			requesterID := f.requester.ID
			require.NoError(t, f.db.Callback().Create().Before("gorm:create").Register("test:fail_requester_entry", func(tx *gorm.DB) {
				if e, ok := tx.Statement.Dest.(*models.PointLedger); ok && e.UserID == requesterID {
					_ = tx.AddError(boom)
				}
			}))

			res, err := f.svc.TrySettle(context.Background(), "10", "20", fastPolicy(attempts))
			require.ErrorIs(t, err, boom)
			var perm *backoff.PermanentError
			assert.False(t, errors.As(err, &perm), "storage error leaked retry wrapper: %T", err)
			assert.Nil(t, res)
			assert.Equal(t, 1, f.client.callCount("by_resource"))
			assert.Empty(t, ledger(t, f.db, f.supplier.ID))

			var wallets int64
			require.NoError(t, f.db.Model(&models.PointWallet{}).Count(&wallets).Error)
			assert.Zero(t, wallets)
		})
	}
}

func TestTrySettleCancelledReturnsNotMatched(t *testing.T) {
	f := newSettleFixture(t, 0)
	f.client.byResource = func(string) (*matching.MatchRecord, error) {
		return valuedRecord("proposed", 10), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	res, err := f.svc.TrySettle(ctx, "10", "20", RetryPolicy{MaxAttempts: 5, Delay: time.Hour})
	require.NoError(t, err)
	assert.False(t, res.Awarded)
	assert.Equal(t, domain.SettleReasonNotMatched, res.Reason)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestSettleAcceptedSkipsStateWait(t *testing.T) {
	f := newSettleFixture(t, 0)
	f.client.byResource = func(string) (*matching.MatchRecord, error) {
		return valuedRecord("proposed", 4), nil
	}

	res, err := f.svc.SettleAccepted(context.Background(), "10", "20")
	require.NoError(t, err)
	assert.True(t, res.Awarded)
	assert.Equal(t, "proposed", res.State)
	assert.Equal(t, 1, f.client.callCount("by_resource"))
}
