package config

import (
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"gorenbridge/types"
)

type Configuration struct {
	// Server config
	Server struct {
		Listen    string `yaml:"listen" envconfig:"LISTEN"`
		UseSSL    bool   `yaml:"ssl" envconfig:"SSL"`
		RedisPort int    `yaml:"redis_port" envconfig:"REDIS_PORT"`
		RedisHost string `yaml:"redis_host" envconfig:"REDIS_HOST"`
		RedisDB   int    `yaml:"redis_db" envconfig:"REDIS_DB"`
		LogDir    string `yaml:"log_dir" envconfig:"LOG_DIR"`
		LogLevel  string `yaml:"log_level" envconfig:"LOG_LEVEL"`
	} `yaml:"server"`
	// bridging network (custodian network) endpoints
	Network struct {
		RPCURL      string `yaml:"rpc_url" envconfig:"RPC_URL"`
		ExplorerURL string `yaml:"explorer_url" envconfig:"EXPLORER_URL"` // fmt template taking the network hash
	} `yaml:"network"`
	Polling struct {
		IntervalMs       int `yaml:"interval_ms" envconfig:"INTERVAL_MS"`
		SubmitTimeoutSec int `yaml:"submit_timeout_sec" envconfig:"SUBMIT_TIMEOUT_SEC"`
	} `yaml:"polling"`
	// "*" enables the default asset list
	EnabledAssets []string `yaml:"enabled_assets" envconfig:"ENABLED_ASSETS"`

	Chains map[types.Chain]ChainConfig `yaml:"chains" ignored:"true"`
	Assets map[types.Asset]AssetConfig `yaml:"assets" ignored:"true"`
}

// Config is the process-wide configuration populated by Init
var Config Configuration

type ChainConfig struct {
	Name            types.Chain       `yaml:"-"`
	Family          types.ChainFamily `yaml:"family"`
	ChainID         int64             `yaml:"chain_id"` // EVM only
	RPCList         []string          `yaml:"rpc"`
	RPCUser         string            `yaml:"rpc_user"` // UTXO nodes
	RPCPassword     string            `yaml:"rpc_pass"`
	ExplorerTx      string            `yaml:"explorer_tx"`      // fmt template taking the tx hash
	ExplorerAddress string            `yaml:"explorer_address"` // fmt template taking the address
	Confirmations   int               `yaml:"confirmations"`    // finality threshold
}

type AssetConfig struct {
	Asset      types.Asset         `yaml:"-"`
	LockChain  types.Chain         `yaml:"lock_chain"`
	MintChains []types.Chain       `yaml:"mint_chains"`
	Decimals   map[types.Chain]int `yaml:"decimals"`
	// gateway contract on EVM chains, deposit address on the lock chain when it is UTXO
	Gateways map[types.Chain]string `yaml:"gateways"`
	// ERC-20 token contract on EVM chains, needs approval before locking
	Tokens map[types.Chain]string `yaml:"tokens"`
}

var defaultAssets = []types.Asset{types.BTC, types.BCH, types.DGB, types.DOGE, types.ZEC, types.DAI, types.USDC}

var evmMintChains = []types.Chain{types.Ethereum, types.BinanceSmartChain, types.Polygon, types.Arbitrum, types.Avalanche, types.Fantom}

// EVM-chains configs
var defaultChains = map[types.Chain]ChainConfig{
	types.Bitcoin:     utxoChain("https://mempool.space/tx/%s", "https://mempool.space/address/%s", 6),
	types.BitcoinCash: utxoChain("https://blockchair.com/bitcoin-cash/transaction/%s", "https://blockchair.com/bitcoin-cash/address/%s", 6),
	types.Zcash:       utxoChain("https://blockchair.com/zcash/transaction/%s", "https://blockchair.com/zcash/address/%s", 6),
	types.Dogecoin:    utxoChain("https://blockchair.com/dogecoin/transaction/%s", "https://blockchair.com/dogecoin/address/%s", 40),
	types.DigiByte:    utxoChain("https://digiexplorer.info/tx/%s", "https://digiexplorer.info/address/%s", 40),
	types.Ethereum: {
		Family:          types.FamilyEVM,
		ChainID:         1,
		RPCList:         []string{"https://eth.drpc.org", "https://eth.llamarpc.com"},
		ExplorerTx:      "https://etherscan.io/tx/%s",
		ExplorerAddress: "https://etherscan.io/address/%s",
		Confirmations:   30,
	},
	types.BinanceSmartChain: {
		Family:          types.FamilyEVM,
		ChainID:         56,
		RPCList:         []string{"https://rpc.ankr.com/bsc", "https://bsc.drpc.org", "https://bsc.meowrpc.com"},
		ExplorerTx:      "https://bscscan.com/tx/%s",
		ExplorerAddress: "https://bscscan.com/address/%s",
		Confirmations:   20,
	},
	types.Polygon: {
		Family:          types.FamilyEVM,
		ChainID:         137,
		RPCList:         []string{"https://polygon-rpc.com", "https://polygon.drpc.org"},
		ExplorerTx:      "https://polygonscan.com/tx/%s",
		ExplorerAddress: "https://polygonscan.com/address/%s",
		Confirmations:   50,
	},
	types.Arbitrum: {
		Family:          types.FamilyEVM,
		ChainID:         42161,
		RPCList:         []string{"https://rpc.ankr.com/arbitrum", "https://arbitrum.llamarpc.com", "https://arbitrum.meowrpc.com"},
		ExplorerTx:      "https://arbiscan.io/tx/%s",
		ExplorerAddress: "https://arbiscan.io/address/%s",
		Confirmations:   20,
	},
	types.Avalanche: {
		Family:          types.FamilyEVM,
		ChainID:         43114,
		RPCList:         []string{"https://api.avax.network/ext/bc/C/rpc", "https://avalanche.drpc.org"},
		ExplorerTx:      "https://snowtrace.io/tx/%s",
		ExplorerAddress: "https://snowtrace.io/address/%s",
		Confirmations:   20,
	},
	types.Fantom: {
		Family:          types.FamilyEVM,
		ChainID:         250,
		RPCList:         []string{"https://rpc.ftm.tools", "https://fantom.drpc.org"},
		ExplorerTx:      "https://ftmscan.com/tx/%s",
		ExplorerAddress: "https://ftmscan.com/address/%s",
		Confirmations:   20,
	},
}

func utxoChain(txTpl, addrTpl string, confirmations int) ChainConfig {
	return ChainConfig{
		Family:          types.FamilyUTXO,
		RPCList:         []string{"http://127.0.0.1:8332"},
		ExplorerTx:      txTpl,
		ExplorerAddress: addrTpl,
		Confirmations:   confirmations,
	}
}

func lockAsset(chain types.Chain, decimals int, mintChains []types.Chain) AssetConfig {
	d := map[types.Chain]int{chain: decimals}
	for _, c := range mintChains {
		d[c] = decimals
	}
	return AssetConfig{LockChain: chain, MintChains: mintChains, Decimals: d}
}

func defaultAssetConfigs() map[types.Asset]AssetConfig {
	mintChainsWithoutEth := evmMintChains[1:]
	return map[types.Asset]AssetConfig{
		types.BTC:  lockAsset(types.Bitcoin, 8, evmMintChains),
		types.BCH:  lockAsset(types.BitcoinCash, 8, evmMintChains),
		types.ZEC:  lockAsset(types.Zcash, 8, evmMintChains),
		types.DOGE: lockAsset(types.Dogecoin, 8, evmMintChains),
		types.DGB:  lockAsset(types.DigiByte, 8, evmMintChains),
		types.ETH:  lockAsset(types.Ethereum, 18, mintChainsWithoutEth),
		types.DAI:  lockAsset(types.Ethereum, 18, mintChainsWithoutEth),
		types.USDC: lockAsset(types.Ethereum, 6, mintChainsWithoutEth),
	}
}

// Defaults returns a configuration with built-in chain and asset tables
func Defaults() *Configuration {
	cfg := &Configuration{}
	cfg.Server.Listen = ":8080"
	cfg.Server.RedisHost = "127.0.0.1"
	cfg.Server.RedisPort = 6379
	cfg.Server.LogDir = "logs"
	cfg.Server.LogLevel = "info"
	cfg.Network.RPCURL = "https://rpc.renproject.io"
	cfg.Network.ExplorerURL = "https://explorer.renproject.io/#/tx/%s"
	cfg.Polling.IntervalMs = 5000
	cfg.Polling.SubmitTimeoutSec = 120
	cfg.EnabledAssets = []string{"*"}
	cfg.Chains = map[types.Chain]ChainConfig{}
	cfg.Assets = defaultAssetConfigs()
	for name, c := range defaultChains {
		cfg.Chains[name] = c
	}
	return cfg
}

func (c *Configuration) PollInterval() time.Duration {
	if c.Polling.IntervalMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.Polling.IntervalMs) * time.Millisecond
}

func (c *Configuration) SubmitTimeout() time.Duration {
	if c.Polling.SubmitTimeoutSec <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(c.Polling.SubmitTimeoutSec) * time.Second
}

func (c *Configuration) Chain(chain types.Chain) (ChainConfig, bool) {
	cc, ok := c.Chains[chain]
	cc.Name = chain
	return cc, ok
}

func (c *Configuration) Asset(asset types.Asset) (AssetConfig, bool) {
	ac, ok := c.Assets[asset]
	ac.Asset = asset
	return ac, ok
}

// Decimals of an asset on a chain (native on the lock chain, wrapped elsewhere)
func (c *Configuration) Decimals(asset types.Asset, chain types.Chain) (int, bool) {
	ac, ok := c.Assets[asset]
	if !ok {
		return 0, false
	}
	d, ok := ac.Decimals[chain]
	return d, ok
}

func (c *Configuration) TxURL(chain types.Chain, hash string) string {
	cc, ok := c.Chains[chain]
	if !ok || cc.ExplorerTx == "" || hash == "" {
		return ""
	}
	return fmt.Sprintf(cc.ExplorerTx, hash)
}

func (c *Configuration) AddressURL(chain types.Chain, address string) string {
	cc, ok := c.Chains[chain]
	if !ok || cc.ExplorerAddress == "" || address == "" {
		return ""
	}
	return fmt.Sprintf(cc.ExplorerAddress, address)
}

func (c *Configuration) NetworkTxURL(hash string) string {
	if c.Network.ExplorerURL == "" || hash == "" {
		return ""
	}
	return fmt.Sprintf(c.Network.ExplorerURL, hash)
}

// SupportedAssets resolves EnabledAssets against the asset table. Unknown
// names are logged and skipped.
func (c *Configuration) SupportedAssets() []types.Asset {
	if len(c.EnabledAssets) == 0 || c.EnabledAssets[0] == "*" {
		out := make([]types.Asset, 0, len(defaultAssets))
		for _, a := range defaultAssets {
			if _, ok := c.Assets[a]; ok {
				out = append(out, a)
			}
		}
		return out
	}

	out := make([]types.Asset, 0, len(c.EnabledAssets))
	for _, name := range c.EnabledAssets {
		a := types.Asset(strings.TrimSpace(name))
		if _, ok := c.Assets[a]; !ok {
			log.Errorf("Unknown asset: %s", name)
			continue
		}
		out = append(out, a)
	}
	return out
}

func (c *Configuration) IsSupported(asset types.Asset) bool {
	for _, a := range c.SupportedAssets() {
		if a == asset {
			return true
		}
	}
	return false
}
