package vaultmath

import (
	sdkmath "cosmossdk.io/math"
)

// All conversions between asset amounts and share amounts live here so the
// rounding rule stays in one place: every division floors. Shares carry 18
// decimals, the asset carries its own (typically 6), weights and fees are
// basis points on a 10000 scale.

const (
	// MaxBasisPoints is 100% on the basis-point scale.
	MaxBasisPoints = uint32(10_000)

	// ShareDecimals is the fixed decimal count of every share/token supply.
	ShareDecimals = 18
)

// ShareUnit is one full share (10^18).
var ShareUnit = sdkmath.NewIntWithDecimal(1, ShareDecimals)

// ShareScalar returns the multiplier converting one smallest asset unit into
// shares at neutral (1:1) pricing, i.e. 10^(18-assetDecimals).
func ShareScalar(assetDecimals uint8) sdkmath.Int {
	if assetDecimals > ShareDecimals {
		// malformed config, treated as neutral scaling
		return sdkmath.OneInt()
	}
	return sdkmath.NewIntWithDecimal(1, ShareDecimals-int(assetDecimals))
}

// SharesForDeposit computes the shares minted for depositing amount against
// the current totals. The first deposit bootstraps at the neutral scalar;
// afterwards shares = floor(amount * totalShares / totalAssets).
func SharesForDeposit(amount, totalAssets, totalShares, scalar sdkmath.Int) sdkmath.Int {
	if !amount.IsPositive() {
		return sdkmath.ZeroInt()
	}
	if totalShares.IsZero() || totalAssets.IsZero() {
		return amount.Mul(scalar)
	}
	return amount.Mul(totalShares).Quo(totalAssets)
}

// AssetsForShares computes the asset value of shares at the current exchange
// rate: floor(shares * totalAssets / totalShares).
func AssetsForShares(shares, totalAssets, totalShares sdkmath.Int) sdkmath.Int {
	if !shares.IsPositive() || totalShares.IsZero() {
		return sdkmath.ZeroInt()
	}
	return shares.Mul(totalAssets).Quo(totalShares)
}

// PricePerFullShare returns the asset amount backing one full (10^18) share,
// floored. An empty vault reports the neutral price of 10^assetDecimals.
func PricePerFullShare(totalAssets, totalShares, scalar sdkmath.Int) sdkmath.Int {
	if totalShares.IsZero() {
		return ShareUnit.Quo(scalar)
	}
	return totalAssets.Mul(ShareUnit).Quo(totalShares)
}

// ValueAtPrice converts a share amount to asset units at an explicit
// price-per-full-share: floor(shares * price / 10^18).
func ValueAtPrice(shares, pricePerFullShare sdkmath.Int) sdkmath.Int {
	if !shares.IsPositive() {
		return sdkmath.ZeroInt()
	}
	return shares.Mul(pricePerFullShare).Quo(ShareUnit)
}

// SharesAtPrice converts an asset amount to shares at an explicit
// price-per-full-share: floor(amount * 10^18 / price).
func SharesAtPrice(amount, pricePerFullShare sdkmath.Int) sdkmath.Int {
	if !amount.IsPositive() || !pricePerFullShare.IsPositive() {
		return sdkmath.ZeroInt()
	}
	return amount.Mul(ShareUnit).Quo(pricePerFullShare)
}

// BasisPoints applies a basis-point fraction to an amount, floored.
func BasisPoints(amount sdkmath.Int, bp uint32) sdkmath.Int {
	if !amount.IsPositive() || bp == 0 {
		return sdkmath.ZeroInt()
	}
	return amount.Mul(sdkmath.NewInt(int64(bp))).Quo(sdkmath.NewInt(int64(MaxBasisPoints)))
}

// WeightBp expresses part as a basis-point fraction of total, floored.
// A zero total yields zero.
func WeightBp(part, total sdkmath.Int) uint32 {
	if !part.IsPositive() || !total.IsPositive() {
		return 0
	}
	bp := part.Mul(sdkmath.NewInt(int64(MaxBasisPoints))).Quo(total)
	if !bp.IsInt64() || bp.Int64() > int64(MaxBasisPoints) {
		return MaxBasisPoints
	}
	return uint32(bp.Int64())
}

// AbsDiffBp returns |a - b| on the basis-point scale.
func AbsDiffBp(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}

// ProRata computes floor(amount * numerator / denominator), the share of
// amount attributable to numerator out of denominator. A zero denominator
// yields zero.
func ProRata(amount, numerator, denominator sdkmath.Int) sdkmath.Int {
	if !amount.IsPositive() || !numerator.IsPositive() || !denominator.IsPositive() {
		return sdkmath.ZeroInt()
	}
	return amount.Mul(numerator).Quo(denominator)
}

// Min returns the smaller of two Ints.
func Min(a, b sdkmath.Int) sdkmath.Int {
	if a.LT(b) {
		return a
	}
	return b
}
