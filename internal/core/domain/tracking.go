package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	trackingPrefix     = "TRK"
	trackingDateLayout = "20060102"
	trackingSeqDigits  = 8

	maxTrackingNumberLen = 64
)

// FormatTrackingNumber renders TRKYYYYMMDD-NNNNNNNN. The sequence must be
// unique per day for the number to be globally unique.
func FormatTrackingNumber(day time.Time, seq int64) string {
	return fmt.Sprintf("%s%s-%0*d", trackingPrefix, day.UTC().Format(trackingDateLayout), trackingSeqDigits, seq)
}

// ParseTrackingNumber is the inverse of FormatTrackingNumber.
func ParseTrackingNumber(s string) (time.Time, int64, error) {
	rest, ok := strings.CutPrefix(s, trackingPrefix)
	if !ok {
		return time.Time{}, 0, fmt.Errorf("%w: %q", ErrInvalidTrackingNumber, s)
	}
	datePart, seqPart, ok := strings.Cut(rest, "-")
	if !ok || len(seqPart) < trackingSeqDigits {
		return time.Time{}, 0, fmt.Errorf("%w: %q", ErrInvalidTrackingNumber, s)
	}
	day, err := time.Parse(trackingDateLayout, datePart)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("%w: %q", ErrInvalidTrackingNumber, s)
	}
	seq, err := strconv.ParseInt(seqPart, 10, 64)
	if err != nil || seq <= 0 {
		return time.Time{}, 0, fmt.Errorf("%w: %q", ErrInvalidTrackingNumber, s)
	}
	return day, seq, nil
}

// ValidateSuppliedTrackingNumber checks a carrier-assigned number. The TRK
// namespace belongs to the generator, so supplied numbers may not use it.
func ValidateSuppliedTrackingNumber(s string) error {
	if s == "" || len(s) > maxTrackingNumberLen || strings.TrimSpace(s) != s {
		return fmt.Errorf("%w: %q", ErrInvalidTrackingNumber, s)
	}
	if strings.HasPrefix(strings.ToUpper(s), trackingPrefix) {
		return fmt.Errorf("%w: %q uses the reserved %s prefix", ErrInvalidTrackingNumber, s, trackingPrefix)
	}
	return nil
}
