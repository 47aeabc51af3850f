package models

import "time"

// PointLedger is one immutable point movement. Rows are only ever inserted.
type PointLedger struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	UserID         uint      `gorm:"not null;index:ix_point_ledger_user_id" json:"user_id"`
	Delta          int64     `gorm:"not null" json:"delta"` // positive = earned, negative = spent
	Reason         *string   `gorm:"size:50" json:"reason"`
	RefType        *string   `gorm:"size:50" json:"ref_type"`
	RefID          *string   `gorm:"size:100" json:"ref_id"`
	ItemTitle      *string   `gorm:"size:100" json:"item_title"`
	ItemAmount     *float64  `json:"item_amount"`
	IdempotencyKey *string   `gorm:"size:128;uniqueIndex:uq_point_ledger_idemp" json:"-"`
	CreatedAt      time.Time `gorm:"not null" json:"created_at"`

	User User `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
}

func (PointLedger) TableName() string {
	return "point_ledger"
}
