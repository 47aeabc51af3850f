package models

import "time"

// PointWallet holds the current point balance of one user. The balance always
// equals the sum of that user's PointLedger deltas.
type PointWallet struct {
	UserID    uint      `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	Balance   int64     `gorm:"not null;default:0" json:"balance"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	User User `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
}

func (PointWallet) TableName() string {
	return "point_wallets"
}
