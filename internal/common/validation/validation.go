package validation

import (
	"fmt"
	"strings"
	"time"
)

const (
	MaxPrizeLength       = 100
	MaxDescriptionLength = 500
	MaxCodeLength        = 500

	MinWinnerCount = 1
	MaxWinnerCount = 20

	MinDuration     = time.Minute
	MaxDuration     = 28 * 24 * time.Hour
	MinClaimTimeout = time.Minute
	MaxClaimTimeout = 7 * 24 * time.Hour
)

// ValidatePrize checks the prize display name.
func ValidatePrize(prize string) error {
	prize = strings.TrimSpace(prize)
	if prize == "" {
		return fmt.Errorf("prize cannot be empty")
	}
	if len(prize) > MaxPrizeLength {
		return fmt.Errorf("prize cannot exceed %d characters", MaxPrizeLength)
	}
	return nil
}

// ValidateDescription checks the optional description.
func ValidateDescription(description string) error {
	if len(description) > MaxDescriptionLength {
		return fmt.Errorf("description cannot exceed %d characters", MaxDescriptionLength)
	}
	return nil
}

// ValidateCodes checks the prize code list.
func ValidateCodes(codes []string) error {
	if len(codes) == 0 {
		return fmt.Errorf("at least one prize code is required")
	}
	for i, code := range codes {
		if strings.TrimSpace(code) == "" {
			return fmt.Errorf("code %d is empty", i+1)
		}
		if len(code) > MaxCodeLength {
			return fmt.Errorf("code %d exceeds %d characters", i+1, MaxCodeLength)
		}
	}
	return nil
}

// ValidateWinnerCount checks the requested number of winner slots.
func ValidateWinnerCount(count int) error {
	if count < MinWinnerCount || count > MaxWinnerCount {
		return fmt.Errorf("winner count must be between %d and %d", MinWinnerCount, MaxWinnerCount)
	}
	return nil
}

// ValidateDuration checks the entry window length.
func ValidateDuration(d time.Duration) error {
	if d < MinDuration {
		return fmt.Errorf("duration must be at least %s", MinDuration)
	}
	if d > MaxDuration {
		return fmt.Errorf("duration cannot exceed %s", MaxDuration)
	}
	return nil
}

// ValidateClaimTimeout checks the per-winner claim window.
func ValidateClaimTimeout(d time.Duration) error {
	if d < MinClaimTimeout {
		return fmt.Errorf("claim timeout must be at least %s", MinClaimTimeout)
	}
	if d > MaxClaimTimeout {
		return fmt.Errorf("claim timeout cannot exceed %s", MaxClaimTimeout)
	}
	return nil
}
