package items_test

import (
	"errors"
	"testing"

	"lostfound/internal/items"
	"lostfound/internal/services"
)

func TestParseCategory(t *testing.T) {
	tests := []struct {
		input string
		want  items.Category
		ok    bool
	}{
		{"phone", items.CategoryPhone, true},
		{" Wallet ", items.CategoryWallet, true},
		{"CALCULATOR", items.CategoryCalculator, true},
		{"laptop", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, err := items.ParseCategory(tt.input)
		if tt.ok {
			if err != nil || got != tt.want {
				t.Fatalf("ParseCategory(%q) = %q, %v; want %q", tt.input, got, err, tt.want)
			}
			continue
		}
		if !errors.Is(err, services.ErrValidation) {
			t.Fatalf("ParseCategory(%q) expected validation error, got %v", tt.input, err)
		}
	}
}

func TestParseKindAndReporter(t *testing.T) {
	if kind, err := items.ParseKind("FOUND"); err != nil || kind != items.KindFound {
		t.Fatalf("ParseKind(FOUND) = %q, %v", kind, err)
	}
	if _, err := items.ParseKind("misplaced"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if rt, err := items.ParseReporterType("Staff"); err != nil || rt != items.ReporterStaff {
		t.Fatalf("ParseReporterType(Staff) = %q, %v", rt, err)
	}
	if _, err := items.ParseReporterType("visitor"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
