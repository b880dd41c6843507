package mysterypack

import "github.com/holiman/uint256"

// DefaultReserve is the minimum custody balance a vault keeps so its address
// stays funded.
const DefaultReserve uint64 = 890_880

// Available returns balance minus reserve, floored at zero.
func Available(balance, reserve *uint256.Int) *uint256.Int {
	if balance == nil {
		return uint256.NewInt(0)
	}
	if reserve == nil {
		return balance.Clone()
	}
	if balance.Lt(reserve) {
		return uint256.NewInt(0)
	}
	return new(uint256.Int).Sub(balance, reserve)
}
