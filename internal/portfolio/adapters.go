package portfolio

import (
	"context"

	sdkmath "cosmossdk.io/math"

	"github.com/stratafi-io/yield-vault-engine/internal/compounder"
	"github.com/stratafi-io/yield-vault-engine/internal/vault"
	"github.com/stratafi-io/yield-vault-engine/internal/vaultmath"
)

// Adapters expose the engines through the Strategy contract so a portfolio
// position can be backed by a whole vault. Each adapter acts as a single
// account on its engine and translates between asset amounts (the Strategy
// currency) and the engine's shares.

// VaultPosition drives a multi-strategy ShareVault as one portfolio
// position.
type VaultPosition struct {
	v       *vault.ShareVault
	account string
}

func NewVaultPosition(v *vault.ShareVault, account string) *VaultPosition {
	return &VaultPosition{v: v, account: account}
}

func (p *VaultPosition) Denom() string {
	return p.v.AssetDenom()
}

func (p *VaultPosition) Deposit(ctx context.Context, amount sdkmath.Int) error {
	_, err := p.v.Deposit(ctx, p.account, amount, p.account)
	return err
}

func (p *VaultPosition) Withdraw(ctx context.Context, amount sdkmath.Int) (sdkmath.Int, error) {
	if err := p.v.Sync(ctx); err != nil {
		return sdkmath.ZeroInt(), err
	}
	shares := sharesCovering(amount, p.v.PricePerFullShare(), p.v.SharesOf(p.account))
	if !shares.IsPositive() {
		return sdkmath.ZeroInt(), nil
	}
	receipt, err := p.v.Withdraw(ctx, p.account, shares, p.account, p.account)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return receipt.Amount, nil
}

func (p *VaultPosition) Balance(ctx context.Context) (sdkmath.Int, error) {
	if err := p.v.Sync(ctx); err != nil {
		return sdkmath.ZeroInt(), err
	}
	return p.v.AssetsForShares(p.v.SharesOf(p.account)), nil
}

func (p *VaultPosition) APY(ctx context.Context) (uint32, error) {
	return p.v.APY(ctx)
}

// CompounderPosition drives a CompoundingVault as one portfolio position.
// It also surfaces the vault's harvest step, so HarvestAllPositions realizes
// its pending yield.
type CompounderPosition struct {
	c       *compounder.CompoundingVault
	account string
}

func NewCompounderPosition(c *compounder.CompoundingVault, account string) *CompounderPosition {
	return &CompounderPosition{c: c, account: account}
}

func (p *CompounderPosition) Denom() string {
	return p.c.AssetDenom()
}

func (p *CompounderPosition) Deposit(ctx context.Context, amount sdkmath.Int) error {
	_, err := p.c.Deposit(ctx, p.account, amount)
	return err
}

func (p *CompounderPosition) Withdraw(ctx context.Context, amount sdkmath.Int) (sdkmath.Int, error) {
	shares := sharesCovering(amount, p.c.PricePerFullShare(), p.c.SharesOf(p.account))
	if !shares.IsPositive() {
		return sdkmath.ZeroInt(), nil
	}
	receipt, err := p.c.Withdraw(ctx, p.account, shares)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return receipt.Amount, nil
}

func (p *CompounderPosition) Balance(ctx context.Context) (sdkmath.Int, error) {
	return vaultmath.ValueAtPrice(p.c.SharesOf(p.account), p.c.PricePerFullShare()), nil
}

func (p *CompounderPosition) APY(ctx context.Context) (uint32, error) {
	return p.c.APY(ctx)
}

func (p *CompounderPosition) Harvest(ctx context.Context) (sdkmath.Int, error) {
	receipt, err := p.c.Harvest(ctx, p.account)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return receipt.Amount, nil
}

// sharesCovering converts an asset amount into the share count whose value
// covers it at the given price, capped at the held balance. Flooring alone
// can come up one asset unit short, so a single share is added back when the
// floor undershoots.
func sharesCovering(amount, price, held sdkmath.Int) sdkmath.Int {
	if !amount.IsPositive() || !price.IsPositive() {
		return sdkmath.ZeroInt()
	}
	shares := vaultmath.SharesAtPrice(amount, price)
	if vaultmath.ValueAtPrice(shares, price).LT(amount) {
		shares = shares.Add(sdkmath.OneInt())
	}
	return vaultmath.Min(shares, held)
}
