// Package resolver maps free-text shop references to catalog shops.
package resolver

import (
	"log/slog"
	"strings"

	"github.com/kalambet/cartbot/internal/catalog"
)

// DefaultThreshold is the minimum similarity ratio for a fuzzy match.
const DefaultThreshold = 0.6

// Resolver finds the shop a message refers to.
type Resolver struct {
	threshold float64
}

// New returns a Resolver. A threshold outside (0, 1] falls back to DefaultThreshold.
func New(threshold float64) *Resolver {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Resolver{threshold: threshold}
}

// Threshold returns the configured acceptance ratio.
func (r *Resolver) Threshold() float64 { return r.threshold }

// Resolve tries an exact case-insensitive substring match first, in list
// order, then falls back to the shop with the highest Ratio against the
// message, accepted only at or above the threshold.
func (r *Resolver) Resolve(message string, shops []catalog.Shop) (catalog.Shop, bool) {
	lower := strings.ToLower(message)
	if strings.TrimSpace(lower) == "" || len(shops) == 0 {
		return catalog.Shop{}, false
	}

	for _, s := range shops {
		name := strings.ToLower(strings.TrimSpace(s.Name))
		if name != "" && strings.Contains(lower, name) {
			return s, true
		}
	}

	best, bestRatio := -1, 0.0
	for i, s := range shops {
		if strings.TrimSpace(s.Name) == "" {
			continue
		}
		if ratio := Ratio(s.Name, message); ratio > bestRatio {
			best, bestRatio = i, ratio
		}
	}
	if best < 0 || bestRatio < r.threshold {
		return catalog.Shop{}, false
	}
	slog.Debug("shop resolved by similarity", "shop", shops[best].Name, "ratio", bestRatio)
	return shops[best], true
}

// Resolve uses DefaultThreshold.
func Resolve(message string, shops []catalog.Shop) (catalog.Shop, bool) {
	return New(DefaultThreshold).Resolve(message, shops)
}

// Ratio returns 2*LCS/(len(a)+len(b)) over the runes of the lower-cased
// inputs, where LCS is the longest common subsequence. The result is in [0, 1].
func Ratio(a, b string) float64 {
	ra := []rune(strings.ToLower(a))
	rb := []rune(strings.ToLower(b))
	total := len(ra) + len(rb)
	if total == 0 {
		return 1
	}
	return 2 * float64(lcs(ra, rb)) / float64(total)
}

func lcs(a, b []rune) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			switch {
			case a[i-1] == b[j-1]:
				curr[j] = prev[j-1] + 1
			case prev[j] >= curr[j-1]:
				curr[j] = prev[j]
			default:
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
