// Package settlement holds the commission policy applied when a paid
// consultation is settled.
package settlement

import "math/bits"

// ExpertPercent is the share of the gross amount paid to the expert.  The
// platform receives the remainder.
const ExpertPercent = 80

// Split is the result of dividing a gross amount between the expert and
// the platform.  Expert+Platform always equals the gross amount.
type Split struct {
	Expert   uint64 `json:"expert_share"`
	Platform uint64 `json:"platform_share"`
}

// Compute returns floor(amount*ExpertPercent/100) for the expert and the
// remainder for the platform.  The multiplication is carried out in 128
// bits so the result is exact for every uint64 amount.
func Compute(amount uint64) Split {
	hi, lo := bits.Mul64(amount, ExpertPercent)
	expert, _ := bits.Div64(hi, lo, 100)
	return Split{Expert: expert, Platform: amount - expert}
}
