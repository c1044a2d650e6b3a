package types

// Enum values for a split position's lifecycle. A position is created by
// splitYield and destroyed either by full recombination or by redeeming the
// principal side after maturity (or early under liquidation protection).
type PositionState string

const (
	PositionSplit             PositionState = "SPLIT"
	PositionRecombined        PositionState = "RECOMBINED"
	PositionMaturedRedeemed   PositionState = "MATURED_REDEEMED"
	PositionProtectedRedeemed PositionState = "PROTECTED_EARLY_REDEEMED"
)

func (s PositionState) String() string {
	return string(s)
}

// Terminal reports whether the position can no longer be operated on.
func (s PositionState) Terminal() bool {
	switch s {
	case PositionRecombined, PositionMaturedRedeemed, PositionProtectedRedeemed:
		return true
	default:
		return false
	}
}
