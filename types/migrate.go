package types

import (
	"encoding/json"
	"math/big"

	"github.com/pkg/errors"
)

// legacyLocalTx is the loosely typed shape written by the browser storage
// before records were versioned.
type legacyLocalTx struct {
	Params struct {
		Asset  string `json:"asset"`
		FromTx struct {
			Chain   string `json:"chain"`
			Amount  string `json:"amount"`
			Address string `json:"address"`
		} `json:"fromTx"`
		To struct {
			Chain   string `json:"chain"`
			Address string `json:"address"`
		} `json:"to"`
	} `json:"params"`
	Timestamp int64 `json:"timestamp"`
	Done      bool  `json:"done"`
}

// DecimalsFunc resolves the decimals of an asset on a chain
type DecimalsFunc func(asset Asset, chain Chain) (int, bool)

// DecodeLocalTx decodes a stored record of any known version and migrates it
// to the current schema.
func DecodeLocalTx(raw []byte, decimals DecimalsFunc) (LocalTxData, error) {
	var probe struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return LocalTxData{}, errors.Wrap(err, "cannot decode local tx")
	}

	switch probe.Version {
	case 0:
		var legacy legacyLocalTx
		if err := json.Unmarshal(raw, &legacy); err != nil {
			return LocalTxData{}, errors.Wrap(err, "cannot decode legacy local tx")
		}
		return migrateLegacy(legacy, decimals), nil
	case LocalTxVersion:
		var data LocalTxData
		if err := json.Unmarshal(raw, &data); err != nil {
			return LocalTxData{}, errors.Wrap(err, "cannot decode local tx")
		}
		return data, nil
	default:
		return LocalTxData{}, errors.Errorf("unknown local tx version %d", probe.Version)
	}
}

// legacy amounts were stored in base units of the source chain
func migrateLegacy(l legacyLocalTx, decimals DecimalsFunc) LocalTxData {
	amount := l.Params.FromTx.Amount
	if decimals != nil {
		if d, ok := decimals(Asset(l.Params.Asset), Chain(l.Params.FromTx.Chain)); ok {
			if units, ok := new(big.Int).SetString(amount, 10); ok {
				amount = FromBaseUnits(units, d)
			}
		}
	}
	return LocalTxData{
		Version: LocalTxVersion,
		Params: TransferParams{
			Asset:       Asset(l.Params.Asset),
			From:        Chain(l.Params.FromTx.Chain),
			To:          Chain(l.Params.To.Chain),
			Amount:      amount,
			FromAddress: l.Params.FromTx.Address,
			ToAddress:   l.Params.To.Address,
		},
		Timestamp: l.Timestamp,
		Done:      l.Done,
	}
}
