package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Fee transaction kinds.
const (
	TransactionWorkshop = "workshop"
	TransactionConcert  = "concert"
)

// FeeTransaction records the processor's fee breakdown for a paid order or
// registration. Amounts are kept in pence, as reported by the balance
// transaction, so no rounding happens on our side.
type FeeTransaction struct {
	gorm.Model
	TransactionType string `gorm:"not null;index:idx_txn_type_date" json:"transactionType"`

	// Exactly one of the two links is set.
	RegistrationID *uint         `gorm:"uniqueIndex" json:"registrationId,omitempty"`
	Registration   *Registration `gorm:"foreignKey:RegistrationID" json:"-"`
	TicketOrderID  *uint         `gorm:"uniqueIndex" json:"ticketOrderId,omitempty"`
	TicketOrder    *TicketOrder  `gorm:"foreignKey:TicketOrderID" json:"-"`

	PaymentIntentID      string `gorm:"not null;index" json:"paymentIntentId"`
	ChargeID             string `json:"chargeId,omitempty"`
	BalanceTransactionID string `json:"balanceTransactionId,omitempty"`

	GrossAmount int64 `gorm:"not null" json:"grossAmount"` // pence
	Fee         int64 `gorm:"not null" json:"fee"`         // pence
	NetAmount   int64 `gorm:"not null" json:"netAmount"`   // pence

	TransactionDate time.Time `gorm:"not null;index:idx_txn_type_date" json:"transactionDate"`
}

func penceToPounds(pence int64) decimal.Decimal {
	return decimal.NewFromInt(pence).Div(decimal.NewFromInt(100))
}

func (t *FeeTransaction) GrossPounds() decimal.Decimal { return penceToPounds(t.GrossAmount) }
func (t *FeeTransaction) FeePounds() decimal.Decimal   { return penceToPounds(t.Fee) }
func (t *FeeTransaction) NetPounds() decimal.Decimal   { return penceToPounds(t.NetAmount) }

// Expense categories.
const (
	ExpenseVenueHire    = "venue_hire"
	ExpenseRefreshments = "refreshments"
	ExpenseOther        = "other"
)

// ExpenseCategories in display order.
var ExpenseCategories = []string{ExpenseVenueHire, ExpenseRefreshments, ExpenseOther}

var ErrExpenseDoubleLink = errors.New("expense cannot be linked to both a workshop and a concert")

// Expense is an outgoing cost, optionally linked to a workshop or a concert
// (never both); unlinked expenses are general.
type Expense struct {
	gorm.Model
	Category    string `gorm:"not null;default:'other';index:idx_expense_cat_date" json:"category"`
	Description string `gorm:"not null" json:"description"`
	Notes       string `json:"notes,omitempty"`

	Amount      decimal.Decimal `gorm:"type:numeric(8,2);not null" json:"amount"`
	ExpenseDate time.Time       `gorm:"type:date;not null;index:idx_expense_cat_date" json:"expenseDate"`

	WorkshopID *uint     `json:"workshopId,omitempty"`
	Workshop   *Workshop `gorm:"foreignKey:WorkshopID" json:"-"`
	ConcertID  *uint     `json:"concertId,omitempty"`
	Concert    *Concert  `gorm:"foreignKey:ConcertID" json:"-"`

	ReceiptPath string `json:"-"`

	CreatedByID *uint `json:"createdById,omitempty"`
	CreatedBy   *User `gorm:"foreignKey:CreatedByID" json:"-"`
}

// Validate enforces the single-link rule.
func (e *Expense) Validate() error {
	if e.WorkshopID != nil && e.ConcertID != nil {
		return ErrExpenseDoubleLink
	}
	return nil
}
