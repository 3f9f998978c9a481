package enums

import "fmt"

// TransactionType classifies billing transactions in the audit trail.
type TransactionType string

const (
	TransactionTypePurchase      TransactionType = "purchase"
	TransactionTypeAutoRecharge  TransactionType = "auto_recharge"
	TransactionTypeRenewal       TransactionType = "subscription_renewal"
	TransactionTypeRenewalFailed TransactionType = "subscription_payment_failed"
)

var validTransactionTypes = []TransactionType{
	TransactionTypePurchase,
	TransactionTypeAutoRecharge,
	TransactionTypeRenewal,
	TransactionTypeRenewalFailed,
}

// String implements fmt.Stringer.
func (t TransactionType) String() string {
	return string(t)
}

// IsValid reports whether the value is known.
func (t TransactionType) IsValid() bool {
	for _, candidate := range validTransactionTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseTransactionType converts raw input into a TransactionType.
func ParseTransactionType(value string) (TransactionType, error) {
	for _, candidate := range validTransactionTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction type %q", value)
}
