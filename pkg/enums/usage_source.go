package enums

import "fmt"

// UsageSource identifies which credit pool a usage event drew from.
type UsageSource string

const (
	UsageSourceMonthly  UsageSource = "monthly"
	UsageSourcePurchase UsageSource = "purchase"
)

var validUsageSources = []UsageSource{
	UsageSourceMonthly,
	UsageSourcePurchase,
}

// String implements fmt.Stringer.
func (u UsageSource) String() string {
	return string(u)
}

// IsValid reports whether the value is known.
func (u UsageSource) IsValid() bool {
	for _, candidate := range validUsageSources {
		if candidate == u {
			return true
		}
	}
	return false
}

// ParseUsageSource converts raw input into a UsageSource.
func ParseUsageSource(value string) (UsageSource, error) {
	for _, candidate := range validUsageSources {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid usage source %q", value)
}
