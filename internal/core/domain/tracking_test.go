package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestFormatTrackingNumber(t *testing.T) {
	day := time.Date(2025, 3, 7, 23, 59, 0, 0, time.UTC)
	if got := FormatTrackingNumber(day, 42); got != "TRK20250307-00000042" {
		t.Errorf("unexpected tracking number %s", got)
	}

	gotDay, seq, err := ParseTrackingNumber(FormatTrackingNumber(day, 42))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if seq != 42 || gotDay.Format("20060102") != "20250307" {
		t.Errorf("unexpected parse result %v %d", gotDay, seq)
	}
}

func TestParseTrackingNumber_Invalid(t *testing.T) {
	for _, s := range []string{
		"",
		"TRK20250307",
		"TRX20250307-00000001",
		"TRK2025037-00000001",
		"TRK20250307-0001",
		"TRK20250307-00000000",
		"TRK20250307-0000000a",
	} {
		if _, _, err := ParseTrackingNumber(s); !errors.Is(err, ErrInvalidTrackingNumber) {
			t.Errorf("ParseTrackingNumber(%q) = %v, want ErrInvalidTrackingNumber", s, err)
		}
	}
}

func TestValidateSuppliedTrackingNumber(t *testing.T) {
	for _, s := range []string{"1Z999AA10123456784", "JD014600006281370810", "9400-1000-0000"} {
		if err := ValidateSuppliedTrackingNumber(s); err != nil {
			t.Errorf("ValidateSuppliedTrackingNumber(%q) = %v, want nil", s, err)
		}
	}
	for _, s := range []string{
		"",
		" 1Z999AA10123456784",
		"TRK20250307-00000001",
		"trk-custom",
		strings.Repeat("9", 65),
	} {
		if err := ValidateSuppliedTrackingNumber(s); !errors.Is(err, ErrInvalidTrackingNumber) {
			t.Errorf("ValidateSuppliedTrackingNumber(%q) = %v, want ErrInvalidTrackingNumber", s, err)
		}
	}
}
