// Package items defines the enumerations shared by reports, claims and the
// actuator: item categories, report kinds, and reporter types.
package items

import (
	"fmt"
	"strings"

	"lostfound/internal/services"
)

// Category identifies the kind of item and, through the actuator channel
// table, the compartment it is stored in.
type Category string

const (
	CategoryPhone      Category = "phone"
	CategoryWallet     Category = "wallet"
	CategoryUmbrella   Category = "umbrella"
	CategoryCalculator Category = "calculator"
	CategoryRandom     Category = "random"
)

// Categories returns every known category in display order.
func Categories() []Category {
	return []Category{CategoryPhone, CategoryWallet, CategoryUmbrella, CategoryCalculator, CategoryRandom}
}

// ParseCategory normalizes and validates a category name.
func ParseCategory(value string) (Category, error) {
	normalized := Category(strings.ToLower(strings.TrimSpace(value)))
	for _, c := range Categories() {
		if c == normalized {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: unknown category %q", services.ErrValidation, value)
}

// Kind distinguishes lost reports from found reports.
type Kind string

const (
	KindLost  Kind = "lost"
	KindFound Kind = "found"
)

// ParseKind normalizes and validates a report kind.
func ParseKind(value string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(value))) {
	case KindLost:
		return KindLost, nil
	case KindFound:
		return KindFound, nil
	default:
		return "", fmt.Errorf("%w: report kind must be lost or found, got %q", services.ErrValidation, value)
	}
}

// ReporterType classifies a registered identity.
type ReporterType string

const (
	ReporterStudent ReporterType = "student"
	ReporterStaff   ReporterType = "staff"
)

// ParseReporterType normalizes and validates a reporter type.
func ParseReporterType(value string) (ReporterType, error) {
	switch ReporterType(strings.ToLower(strings.TrimSpace(value))) {
	case ReporterStudent:
		return ReporterStudent, nil
	case ReporterStaff:
		return ReporterStaff, nil
	default:
		return "", fmt.Errorf("%w: reporter type must be student or staff, got %q", services.ErrValidation, value)
	}
}
