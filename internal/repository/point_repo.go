package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ecoswap/internal/database"
	"ecoswap/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrDuplicateIdempotencyKey is returned by AppendEntry when the unique index on
// point_ledger.idempotency_key rejects the insert.
var ErrDuplicateIdempotencyKey = errors.New("idempotency key already recorded")

var ErrWalletMissing = errors.New("point wallet missing")

// PointRepository is the wallet/ledger store. Only the award engine writes
// through it.
type PointRepository struct {
	db *gorm.DB
}

func NewPointRepository(db *gorm.DB) *PointRepository {
	return &PointRepository{db: db}
}

// WithTx returns a repository bound to an open transaction.
func (r *PointRepository) WithTx(tx *gorm.DB) *PointRepository {
	return &PointRepository{db: tx}
}

// Transaction runs fn inside a transaction. When the repository is already
// bound to one, gorm opens a savepoint instead, so a failing fn only undoes
// its own writes.
func (r *PointRepository) Transaction(ctx context.Context, fn func(repo *PointRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(r.WithTx(tx))
	})
}

func (r *PointRepository) GetOrCreateWallet(ctx context.Context, userID uint) (*models.PointWallet, error) {
	db := r.db.WithContext(ctx)
	w := models.PointWallet{UserID: userID}
	err := db.Clauses(clause.OnConflict{DoNothing: true}).
		Omit(clause.Associations).
		Create(&w).Error
	if err != nil {
		return nil, fmt.Errorf("create wallet: %w", err)
	}
	var out models.PointWallet
	if err := db.Where("user_id = ?", userID).First(&out).Error; err != nil {
		return nil, fmt.Errorf("load wallet: %w", err)
	}
	return &out, nil
}

// IncrementBalance adds delta in a single UPDATE so concurrent increments on
// the same row never lose an update, then returns the new balance.
func (r *PointRepository) IncrementBalance(ctx context.Context, userID uint, delta int64) (int64, error) {
	db := r.db.WithContext(ctx)
	res := db.Model(&models.PointWallet{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"balance":    gorm.Expr("balance + ?", delta),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("increment balance: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return 0, ErrWalletMissing
	}
	var w models.PointWallet
	if err := db.Where("user_id = ?", userID).First(&w).Error; err != nil {
		return 0, fmt.Errorf("load wallet: %w", err)
	}
	return w.Balance, nil
}

func (r *PointRepository) AppendEntry(ctx context.Context, e *models.PointLedger) error {
	err := r.db.WithContext(ctx).Omit(clause.Associations).Create(e).Error
	if database.IsDuplicateKey(err) {
		return ErrDuplicateIdempotencyKey
	}
	if err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}

func (r *PointRepository) HasIdempotencyKey(ctx context.Context, key string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.PointLedger{}).
		Where("idempotency_key = ?", key).
		Count(&n).Error
	return n > 0, err
}

// SumPositiveDeltas returns the points a user has earned over their lifetime.
func (r *PointRepository) SumPositiveDeltas(ctx context.Context, userID uint) (int64, error) {
	var sum int64
	err := r.db.WithContext(ctx).Model(&models.PointLedger{}).
		Where("user_id = ? AND delta > 0", userID).
		Select("COALESCE(SUM(delta), 0)").
		Scan(&sum).Error
	return sum, err
}

// PageEntries returns up to limit entries older than beforeID, newest first.
// The cursor is only set when the page came back full.
func (r *PointRepository) PageEntries(ctx context.Context, userID uint, limit int, beforeID *uint) ([]models.PointLedger, *uint, error) {
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if beforeID != nil && *beforeID > 0 {
		q = q.Where("id < ?", *beforeID)
	}
	var list []models.PointLedger
	if err := q.Order("id DESC").Limit(limit).Find(&list).Error; err != nil {
		return nil, nil, err
	}
	if len(list) > 0 && len(list) == limit {
		next := list[len(list)-1].ID
		return list, &next, nil
	}
	return list, nil, nil
}

func (r *PointRepository) ListAllEntries(ctx context.Context, userID uint) ([]models.PointLedger, error) {
	var list []models.PointLedger
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("id DESC").Find(&list).Error
	return list, err
}
