package types

import (
	"net/url"
	"strings"
)

// query keys of deep-linkable flow state
const (
	queryAsset       = "asset"
	queryFrom        = "from"
	queryTo          = "to"
	queryAmount      = "amount"
	queryFromAddress = "fromAddress"
	queryToAddress   = "toAddress"
	queryNetworkHash = "renVMHash"
)

// EncodeQuery renders transfer params, and the network hash once known, as a
// query string that can rebuild the flow on reload.
func EncodeQuery(p TransferParams, networkHash string) string {
	v := url.Values{}
	v.Set(queryAsset, string(p.Asset))
	v.Set(queryFrom, string(p.From))
	v.Set(queryTo, string(p.To))
	v.Set(queryAmount, p.Amount)
	if p.FromAddress != "" {
		v.Set(queryFromAddress, p.FromAddress)
	}
	if p.ToAddress != "" {
		v.Set(queryToAddress, p.ToAddress)
	}
	if networkHash != "" {
		v.Set(queryNetworkHash, networkHash)
	}
	return v.Encode()
}

// ParseQuery is the inverse of EncodeQuery. Malformed input yields a
// validation error.
func ParseQuery(raw string) (TransferIntent, error) {
	raw = strings.TrimPrefix(raw, "?")
	v, err := url.ParseQuery(raw)
	if err != nil {
		return TransferIntent{}, NewValidationError("query", "malformed query string")
	}
	intent := TransferIntent{
		TransferParams: TransferParams{
			Asset:       Asset(v.Get(queryAsset)),
			From:        Chain(v.Get(queryFrom)),
			To:          Chain(v.Get(queryTo)),
			Amount:      v.Get(queryAmount),
			FromAddress: v.Get(queryFromAddress),
			ToAddress:   v.Get(queryToAddress),
		},
		NetworkHash: v.Get(queryNetworkHash),
	}
	if err := intent.Validate(); err != nil {
		return intent, err
	}
	return intent, nil
}
