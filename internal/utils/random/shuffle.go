package random

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Shuffle reorders the slice in place with a Fisher-Yates pass driven
// by crypto/rand. Draw fairness is a trust property here, so math/rand
// with a time seed is deliberately not used.
func Shuffle[T any](items []T) error {
	for i := len(items) - 1; i > 0; i-- {
		pick, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return fmt.Errorf("draw random index: %w", err)
		}
		j := pick.Int64()
		items[i], items[j] = items[j], items[i]
	}
	return nil
}
