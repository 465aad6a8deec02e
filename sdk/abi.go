package sdk

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
)

// gateway contract entry points
const gatewayABIJSON = `[
{"type":"function","name":"lock","stateMutability":"payable","inputs":[{"name":"recipientAddress","type":"string"},{"name":"recipientChain","type":"string"},{"name":"amount","type":"uint256"}],"outputs":[]},
{"type":"function","name":"burn","stateMutability":"nonpayable","inputs":[{"name":"to","type":"bytes"},{"name":"amount","type":"uint256"}],"outputs":[]},
{"type":"function","name":"mint","stateMutability":"nonpayable","inputs":[{"name":"pHash","type":"bytes32"},{"name":"amount","type":"uint256"},{"name":"nHash","type":"bytes32"},{"name":"sig","type":"bytes"}],"outputs":[]},
{"type":"function","name":"release","stateMutability":"nonpayable","inputs":[{"name":"pHash","type":"bytes32"},{"name":"amount","type":"uint256"},{"name":"nHash","type":"bytes32"},{"name":"sig","type":"bytes"}],"outputs":[]}
]`

const erc20ABIJSON = `[
{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

var (
	gatewayABI = mustParseABI(gatewayABIJSON)
	erc20ABI   = mustParseABI(erc20ABIJSON)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

func approveCall(spender string, amount *big.Int) (string, error) {
	data, err := erc20ABI.Pack("approve", common.HexToAddress(spender), amount)
	if err != nil {
		return "", errors.Wrap(err, "cannot encode approve")
	}
	return hexutil.Encode(data), nil
}

func lockCall(recipient, recipientChain string, amount *big.Int) (string, error) {
	data, err := gatewayABI.Pack("lock", recipient, recipientChain, amount)
	if err != nil {
		return "", errors.Wrap(err, "cannot encode lock")
	}
	return hexutil.Encode(data), nil
}

func burnCall(recipient string, amount *big.Int) (string, error) {
	data, err := gatewayABI.Pack("burn", []byte(recipient), amount)
	if err != nil {
		return "", errors.Wrap(err, "cannot encode burn")
	}
	return hexutil.Encode(data), nil
}

// mintCall encodes mint, or release when release is set. The signature
// comes from the network response.
func mintCall(release bool, phash, nhash string, amount *big.Int, sig string) (string, error) {
	sigBytes, err := hexutil.Decode(ensure0x(sig))
	if err != nil {
		return "", errors.Wrap(err, "malformed network signature")
	}
	method := "mint"
	if release {
		method = "release"
	}
	data, err := gatewayABI.Pack(method, common.HexToHash(phash), amount, common.HexToHash(nhash), sigBytes)
	if err != nil {
		return "", errors.Wrapf(err, "cannot encode %s", method)
	}
	return hexutil.Encode(data), nil
}

func ensure0x(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s
	}
	return "0x" + s
}
