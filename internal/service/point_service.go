package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"ecoswap/internal/database"
	"ecoswap/internal/metrics"
	"ecoswap/internal/models"
	"ecoswap/internal/repository"

	"gorm.io/gorm"
)

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100

	maxAwardTxAttempts = 3
)

// AwardInput describes one point movement. Empty strings are stored as NULL.
type AwardInput struct {
	UserID         uint
	Amount         int64
	Reason         string
	RefType        string
	RefID          string
	ItemTitle      string
	ItemAmount     *float64
	IdempotencyKey string
}

type BalanceStatus struct {
	Balance        int64  `json:"balance"`
	LifetimeEarned int64  `json:"lifetime_earned"`
	Level          int    `json:"level"`
	Title          string `json:"title"`
}

// PointService is the award engine: the only writer of wallets and ledger
// entries.
type PointService struct {
	repo   *repository.PointRepository
	levels LevelTable
	log    *slog.Logger
	nested bool
}

func NewPointService(repo *repository.PointRepository, levels LevelTable, log *slog.Logger) *PointService {
	return &PointService{
		repo:   repo,
		levels: levels,
		log:    log.With("component", "points"),
	}
}

// WithTx binds the engine to an outer transaction. Each Award then runs in a
// savepoint and the outer transaction decides the final commit.
func (s *PointService) WithTx(tx *gorm.DB) *PointService {
	return &PointService{repo: s.repo.WithTx(tx), levels: s.levels, log: s.log, nested: true}
}

// Award applies in.Amount to the user's wallet and ledger atomically and
// returns the resulting balance. Zero amounts and already-recorded
// idempotency keys leave everything untouched and return the current balance.
func (s *PointService) Award(ctx context.Context, in AwardInput) (int64, error) {
	if in.Amount == 0 {
		metrics.AwardsTotal.WithLabelValues("noop").Inc()
		return s.balance(ctx, in.UserID)
	}
	if in.IdempotencyKey != "" {
		seen, err := s.repo.HasIdempotencyKey(ctx, in.IdempotencyKey)
		if err != nil {
			metrics.AwardsTotal.WithLabelValues("failed").Inc()
			return 0, fmt.Errorf("check idempotency key: %w", err)
		}
		if seen {
			return s.replayed(ctx, in)
		}
	}

	var (
		balance int64
		err     error
	)
	for attempt := 1; attempt <= maxAwardTxAttempts; attempt++ {
		balance, err = s.apply(ctx, in)
		if s.nested || !database.IsRetryable(err) {
			break
		}
		s.log.WarnContext(ctx, "award transaction conflict, retrying",
			"user_id", in.UserID, "attempt", attempt, "error", err)
	}
	if errors.Is(err, repository.ErrDuplicateIdempotencyKey) {
		return s.replayed(ctx, in)
	}
	if err != nil {
		metrics.AwardsTotal.WithLabelValues("failed").Inc()
		s.log.ErrorContext(ctx, "award failed", "user_id", in.UserID, "amount", in.Amount, "error", err)
		return 0, err
	}

	metrics.AwardsTotal.WithLabelValues("applied").Inc()
	if in.Amount > 0 {
		metrics.PointsMoved.WithLabelValues("earned").Add(float64(in.Amount))
	} else {
		metrics.PointsMoved.WithLabelValues("spent").Add(-float64(in.Amount))
	}
	s.log.InfoContext(ctx, "points awarded",
		"user_id", in.UserID, "delta", in.Amount, "balance", balance,
		"ref_type", in.RefType, "ref_id", in.RefID)
	return balance, nil
}

// apply inserts the entry before touching the wallet so a duplicate key
// aborts the transaction before any balance change.
func (s *PointService) apply(ctx context.Context, in AwardInput) (int64, error) {
	var balance int64
	err := s.repo.Transaction(ctx, func(repo *repository.PointRepository) error {
		entry := &models.PointLedger{
			UserID:         in.UserID,
			Delta:          in.Amount,
			Reason:         nullable(in.Reason),
			RefType:        nullable(in.RefType),
			RefID:          nullable(in.RefID),
			ItemTitle:      nullable(in.ItemTitle),
			ItemAmount:     in.ItemAmount,
			IdempotencyKey: nullable(in.IdempotencyKey),
		}
		if err := repo.AppendEntry(ctx, entry); err != nil {
			return err
		}
		b, err := repo.IncrementBalance(ctx, in.UserID, in.Amount)
		if errors.Is(err, repository.ErrWalletMissing) {
			if _, err = repo.GetOrCreateWallet(ctx, in.UserID); err != nil {
				return err
			}
			b, err = repo.IncrementBalance(ctx, in.UserID, in.Amount)
		}
		if err != nil {
			return err
		}
		balance = b
		return nil
	})
	return balance, err
}

func (s *PointService) replayed(ctx context.Context, in AwardInput) (int64, error) {
	metrics.AwardsTotal.WithLabelValues("replayed").Inc()
	s.log.DebugContext(ctx, "award replay ignored", "user_id", in.UserID, "key", in.IdempotencyKey)
	return s.balance(ctx, in.UserID)
}

func (s *PointService) balance(ctx context.Context, userID uint) (int64, error) {
	w, err := s.repo.GetOrCreateWallet(ctx, userID)
	if err != nil {
		return 0, err
	}
	return w.Balance, nil
}

// BalanceStatus creates the wallet when missing, so it succeeds for any user.
func (s *PointService) BalanceStatus(ctx context.Context, userID uint) (*BalanceStatus, error) {
	bal, err := s.balance(ctx, userID)
	if err != nil {
		return nil, err
	}
	earned, err := s.repo.SumPositiveDeltas(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("sum earned points: %w", err)
	}
	level, title := s.levels.Level(earned)
	return &BalanceStatus{
		Balance:        bal,
		LifetimeEarned: earned,
		Level:          level,
		Title:          title,
	}, nil
}

// History pages the ledger newest first. limit is clamped to [1, MaxHistoryLimit].
func (s *PointService) History(ctx context.Context, userID uint, limit int, beforeID *uint) ([]models.PointLedger, *uint, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	return s.repo.PageEntries(ctx, userID, limit, beforeID)
}

func (s *PointService) AllEntries(ctx context.Context, userID uint) ([]models.PointLedger, error) {
	return s.repo.ListAllEntries(ctx, userID)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
