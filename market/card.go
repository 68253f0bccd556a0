package market

import (
	"regexp"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Card data is checked for shape and expiry only. Nothing is ever charged.
var (
	cardNumberPattern = regexp.MustCompile(`^\d{16}$`)
	cvvPattern        = regexp.MustCompile(`^\d{3}$`)
	expiryPattern     = regexp.MustCompile(`^(0[1-9]|1[0-2])/\d{2}$`)
)

// Rejection reasons, in the order the checks run.
const (
	ReasonAmountNotPositive = "Amount must be positive"
	ReasonAmountScale       = "Amount must have at most 2 decimal places"
	ReasonInvalidCard       = "Invalid card number"
	ReasonInvalidCVV        = "Invalid CVV"
	ReasonInvalidExpiry     = "Invalid expiry format"
	ReasonCardExpired       = "Card expired"
)

// MoneyScale is the number of decimal places every stored amount keeps.
const MoneyScale = 2

// IsCents reports whether d fits MoneyScale without rounding.
// Trailing zeros are fine: 1.500 is 1.50.
func IsCents(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(MoneyScale))
}

// ValidateDeposit checks a deposit request against the current time.
func ValidateDeposit(amount decimal.Decimal, cardNumber, expiry, cvv string, now time.Time) error {
	if !amount.IsPositive() {
		return &TransactionError{Reason: ReasonAmountNotPositive}
	}
	if !IsCents(amount) {
		return &TransactionError{Reason: ReasonAmountScale}
	}
	if !cardNumberPattern.MatchString(cardNumber) {
		return &TransactionError{Reason: ReasonInvalidCard}
	}
	if !cvvPattern.MatchString(cvv) {
		return &TransactionError{Reason: ReasonInvalidCVV}
	}
	if !expiryPattern.MatchString(expiry) {
		return &TransactionError{Reason: ReasonInvalidExpiry}
	}
	if cardExpired(expiry, now) {
		return &TransactionError{Reason: ReasonCardExpired}
	}
	return nil
}

// ValidateWithdrawal checks the amount and card shape. The balance check
// happens in the ledger, against the locked user row.
func ValidateWithdrawal(amount decimal.Decimal, cardNumber string) error {
	if !amount.IsPositive() {
		return &TransactionError{Reason: ReasonAmountNotPositive}
	}
	if !IsCents(amount) {
		return &TransactionError{Reason: ReasonAmountScale}
	}
	if !cardNumberPattern.MatchString(cardNumber) {
		return &TransactionError{Reason: ReasonInvalidCard}
	}
	return nil
}

// cardExpired reports whether an MM/YY expiry lies before now's month.
// A card expiring this month is still valid. expiry must already match
// expiryPattern.
func cardExpired(expiry string, now time.Time) bool {
	mm, _ := strconv.Atoi(expiry[:2])
	yy, _ := strconv.Atoi(expiry[3:])
	cardMonth := (2000+yy)*12 + mm - 1
	nowMonth := now.Year()*12 + int(now.Month()) - 1
	return cardMonth < nowMonth
}
