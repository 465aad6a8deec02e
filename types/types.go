package types

import (
	"math/big"
	"regexp"
	"strings"
)

// Chain identifies a blockchain by the name the bridging network uses for it.
type Chain string

const (
	Bitcoin           Chain = "Bitcoin"
	BitcoinCash       Chain = "BitcoinCash"
	Zcash             Chain = "Zcash"
	Dogecoin          Chain = "Dogecoin"
	DigiByte          Chain = "DigiByte"
	Ethereum          Chain = "Ethereum"
	BinanceSmartChain Chain = "BinanceSmartChain"
	Polygon           Chain = "Polygon"
	Arbitrum          Chain = "Arbitrum"
	Avalanche         Chain = "Avalanche"
	Fantom            Chain = "Fantom"
)

// ChainFamily tells which RPC dialect a chain speaks
type ChainFamily string

const (
	FamilyEVM  ChainFamily = "evm"
	FamilyUTXO ChainFamily = "utxo"
)

type Asset string

const (
	BTC  Asset = "BTC"
	BCH  Asset = "BCH"
	ZEC  Asset = "ZEC"
	DOGE Asset = "DOGE"
	DGB  Asset = "DGB"
	ETH  Asset = "ETH"
	DAI  Asset = "DAI"
	USDC Asset = "USDC"
)

// Stage tags one chain-side step of a transfer, in execution order.
type Stage string

const (
	StageApproval Stage = "approval"
	StageIn       Stage = "in"
	StageNetwork  Stage = "network"
	StageOut      Stage = "out"
)

// Stages lists all stages in execution order
var Stages = []Stage{StageApproval, StageIn, StageNetwork, StageOut}

func ParseStage(s string) (Stage, bool) {
	for _, st := range Stages {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

type SubmissionStatus string

const (
	NotSubmitted SubmissionStatus = "not-submitted"
	Submitting   SubmissionStatus = "submitting"
	Submitted    SubmissionStatus = "submitted"
	SubmitFailed SubmissionStatus = "failed"
)

type ConfirmationStatus string

const (
	StatusPending    ConfirmationStatus = "pending"
	StatusConfirming ConfirmationStatus = "confirming"
	StatusDone       ConfirmationStatus = "done"
	// StatusReverted is only reported by the network stage and is surfaced as an error
	StatusReverted ConfirmationStatus = "reverted"
)

// TransferParams are the user-chosen parameters of a transfer. Amount is a
// decimal string in chain-native units ("0.5" BTC).
type TransferParams struct {
	Asset       Asset  `json:"asset"`
	From        Chain  `json:"from"`
	To          Chain  `json:"to"`
	Amount      string `json:"amount"`
	FromAddress string `json:"fromAddress"`
	ToAddress   string `json:"toAddress"`
}

// TransferIntent is the immutable input of a gateway session. NetworkHash is
// only set when resuming an existing transfer.
type TransferIntent struct {
	TransferParams
	NetworkHash string `json:"renVMHash,omitempty"`
}

func (p TransferParams) Validate() error {
	if p.Asset == "" {
		return NewValidationError("asset", "asset not provided")
	}
	if p.From == "" {
		return NewValidationError("from", "source chain not provided")
	}
	if p.To == "" {
		return NewValidationError("to", "destination chain not provided")
	}
	if p.From == p.To {
		return NewValidationError("to", "source and destination chain must differ")
	}
	amount, ok := ParseAmount(p.Amount)
	if !ok {
		return NewValidationError("amount", "amount is not a decimal number")
	}
	if amount.Sign() <= 0 {
		return NewValidationError("amount", "amount must be greater than zero")
	}
	if strings.TrimSpace(p.ToAddress) == "" {
		return NewValidationError("toAddress", "recipient address not provided")
	}
	return nil
}

var decimalAmount = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)$`)

// ParseAmount parses a plain decimal amount string. Fractions, exponents and
// base prefixes are rejected.
func ParseAmount(s string) (*big.Rat, bool) {
	s = strings.TrimSpace(s)
	if !decimalAmount.MatchString(s) {
		return nil, false
	}
	return new(big.Rat).SetString(s)
}

// ToBaseUnits shifts a decimal amount by decimals and truncates the remainder.
func ToBaseUnits(amount string, decimals int) (*big.Int, bool) {
	r, ok := ParseAmount(amount)
	if !ok {
		return nil, false
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	r.Mul(r, new(big.Rat).SetInt(scale))
	return new(big.Int).Quo(r.Num(), r.Denom()), true
}

// FromBaseUnits renders an integer amount in base units as a decimal string
func FromBaseUnits(units *big.Int, decimals int) string {
	if units == nil {
		return ""
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	r := new(big.Rat).SetFrac(units, scale)
	s := r.FloatString(decimals)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
	}
	return s
}

// ChainTransactionRecord is the serializable snapshot of one chain-side step.
type ChainTransactionRecord struct {
	Stage              Stage              `json:"stage"`
	SubmissionStatus   SubmissionStatus   `json:"submissionStatus"`
	ConfirmationStatus ConfirmationStatus `json:"confirmationStatus"`
	Confirmations      int                `json:"confirmations"`
	Target             int                `json:"target"`
	Hash               string             `json:"hash,omitempty"`
	ExplorerURL        string             `json:"explorerUrl,omitempty"`
	Amount             string             `json:"amount,omitempty"` // post-fee, decimals-adjusted
}

const LocalTxVersion = 1

// LocalTxData is the persisted unit, keyed by (owner address, network hash).
// Done only ever goes from false to true.
type LocalTxData struct {
	Version   int            `json:"version"`
	Params    TransferParams `json:"params"`
	Timestamp int64          `json:"timestamp"` // unix millis
	Done      bool           `json:"done"`
	// lock-stage hash, lets a resumed session rebuild the in stage
	InHash string `json:"inHash,omitempty"`
}

// LocalTxs maps network hash to stored data for one owner
type LocalTxs map[string]LocalTxData
