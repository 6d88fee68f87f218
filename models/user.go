package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type User struct {
	gorm.Model

	UserCode string `gorm:"uniqueIndex;size:32" json:"user_code"`
	IsActive bool   `gorm:"default:true" json:"is_active"`

	// FrozenBalance is the escrowed subset of Balance; funds available
	// for withdrawal are Balance - FrozenBalance.
	Balance       decimal.Decimal `gorm:"type:numeric(16,2);default:0" json:"balance"`
	FrozenBalance decimal.Decimal `gorm:"type:numeric(16,2);default:0" json:"frozen_balance"`

	Transactions []Transaction `gorm:"foreignKey:UserID"`
}

func (u User) Available() decimal.Decimal {
	return u.Balance.Sub(u.FrozenBalance)
}
