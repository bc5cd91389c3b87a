package game

// Winning bets pay 1.9x the stake, floored. The stake itself was debited at
// acceptance and is not returned, so the net win is 0.9x. This is a fixed
// game-economics constant, not parimutuel odds.
const (
	payoutNumerator   = 19
	payoutDenominator = 10
)

// WinPayout returns floor(amount * 1.9) using integer arithmetic.
func WinPayout(amount int64) int64 {
	return amount * payoutNumerator / payoutDenominator
}
