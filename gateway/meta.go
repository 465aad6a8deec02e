package gateway

import (
	"strings"

	ethav "github.com/KOREAN139/ethereum-address-validator"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"gorenbridge/config"
	"gorenbridge/types"
)

// Meta classifies a transfer against the asset registry.
type Meta struct {
	IsMint    bool        `json:"isMint"`
	IsRelease bool        `json:"isRelease"`
	IsH2H     bool        `json:"isH2H"`
	LockChain types.Chain `json:"lockChain"`
}

func contains(chains []types.Chain, c types.Chain) bool {
	for _, ch := range chains {
		if ch == c {
			return true
		}
	}
	return false
}

func ResolveMeta(cfg *config.Configuration, asset types.Asset, from, to types.Chain) (Meta, error) {
	ac, ok := cfg.Asset(asset)
	if !ok || !cfg.IsSupported(asset) {
		return Meta{}, errors.Wrapf(ErrUnsupportedPair, "asset %s is not enabled", asset)
	}

	meta := Meta{LockChain: ac.LockChain}
	fromMint := contains(ac.MintChains, from)
	switch {
	case to == ac.LockChain && fromMint:
		meta.IsRelease = true
	case contains(ac.MintChains, to) && (from == ac.LockChain || fromMint):
		meta.IsMint = true
	default:
		return Meta{}, errors.Wrapf(ErrUnsupportedPair, "%s from %s to %s", asset, from, to)
	}

	fc, fok := cfg.Chain(from)
	tc, tok := cfg.Chain(to)
	if !fok || !tok {
		return Meta{}, errors.Wrapf(ErrUnsupportedPair, "%s or %s is not configured", from, to)
	}
	meta.IsH2H = fc.Family == types.FamilyEVM && tc.Family == types.FamilyEVM
	return meta, nil
}

// ValidateIntent checks the intent shape and its addresses against the
// destination and source chain families.
func ValidateIntent(cfg *config.Configuration, intent types.TransferIntent) error {
	if err := intent.Validate(); err != nil {
		return err
	}

	to, ok := cfg.Chain(intent.To)
	if !ok {
		return types.NewValidationError("to", "unknown destination chain")
	}
	if err := validateAddress(to, intent.ToAddress); err != nil {
		return types.NewValidationError("toAddress", err.Error())
	}

	from, ok := cfg.Chain(intent.From)
	if !ok {
		return types.NewValidationError("from", "unknown source chain")
	}
	if intent.FromAddress != "" {
		if err := validateAddress(from, intent.FromAddress); err != nil {
			return types.NewValidationError("fromAddress", err.Error())
		}
	}
	return nil
}

func validateAddress(chain config.ChainConfig, address string) error {
	switch chain.Family {
	case types.FamilyEVM:
		if !common.IsHexAddress(address) {
			return errors.New("invalid address")
		}
		if err := ethav.Validate(common.HexToAddress(address).Hex()); err != nil {
			return errors.Wrap(err, "invalid address")
		}
	case types.FamilyUTXO:
		if strings.TrimSpace(address) != address || address == "" {
			return errors.New("invalid address")
		}
		// only Bitcoin addresses can be decoded offline
		if chain.Name == types.Bitcoin {
			if _, err := btcutil.DecodeAddress(address, &chaincfg.MainNetParams); err != nil {
				return errors.Wrap(err, "invalid address")
			}
		}
	}
	return nil
}
