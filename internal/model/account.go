package model

import "github.com/shopspring/decimal"

// Account holds a user balance. The balance changes only through
// atomic debit/credit operations tied to a trade's open or close.
type Account struct {
	ID       string
	UserID   string
	Balance  decimal.Decimal
	Currency string
}
