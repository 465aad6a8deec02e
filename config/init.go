package config

import (
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"

	"gorenbridge/types"
)

// reading config error is fatal, and exists main thread
func processError(err error) {
	fmt.Println(err)
	os.Exit(2)
}

func readFile(cfg *Configuration, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "cannot open %s", path)
	}
	defer f.Close()

	// file sections override defaults, chain and asset entries are merged
	var fileCfg Configuration
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&fileCfg); err != nil {
		return errors.Wrapf(err, "cannot decode %s", path)
	}
	merge(cfg, &fileCfg)
	return nil
}

func readEnv(cfg *Configuration) error {
	return errors.Wrap(envconfig.Process("", cfg), "cannot read environment")
}

func merge(dst, src *Configuration) {
	if src.Server.Listen != "" {
		dst.Server.Listen = src.Server.Listen
	}
	dst.Server.UseSSL = dst.Server.UseSSL || src.Server.UseSSL
	if src.Server.RedisHost != "" {
		dst.Server.RedisHost = src.Server.RedisHost
	}
	if src.Server.RedisPort != 0 {
		dst.Server.RedisPort = src.Server.RedisPort
	}
	if src.Server.RedisDB != 0 {
		dst.Server.RedisDB = src.Server.RedisDB
	}
	if src.Server.LogDir != "" {
		dst.Server.LogDir = src.Server.LogDir
	}
	if src.Server.LogLevel != "" {
		dst.Server.LogLevel = src.Server.LogLevel
	}
	if src.Network.RPCURL != "" {
		dst.Network.RPCURL = src.Network.RPCURL
	}
	if src.Network.ExplorerURL != "" {
		dst.Network.ExplorerURL = src.Network.ExplorerURL
	}
	if src.Polling.IntervalMs != 0 {
		dst.Polling.IntervalMs = src.Polling.IntervalMs
	}
	if src.Polling.SubmitTimeoutSec != 0 {
		dst.Polling.SubmitTimeoutSec = src.Polling.SubmitTimeoutSec
	}
	if len(src.EnabledAssets) > 0 {
		dst.EnabledAssets = src.EnabledAssets
	}
	for name, c := range src.Chains {
		dst.Chains[name] = mergeChain(dst.Chains[name], c)
	}
	for name, a := range src.Assets {
		dst.Assets[name] = mergeAsset(dst.Assets[name], a)
	}
}

func mergeChain(dst, src ChainConfig) ChainConfig {
	if src.Family != "" {
		dst.Family = src.Family
	}
	if src.ChainID != 0 {
		dst.ChainID = src.ChainID
	}
	if len(src.RPCList) > 0 {
		dst.RPCList = src.RPCList
	}
	if src.RPCUser != "" {
		dst.RPCUser = src.RPCUser
		dst.RPCPassword = src.RPCPassword
	}
	if src.ExplorerTx != "" {
		dst.ExplorerTx = src.ExplorerTx
	}
	if src.ExplorerAddress != "" {
		dst.ExplorerAddress = src.ExplorerAddress
	}
	if src.Confirmations != 0 {
		dst.Confirmations = src.Confirmations
	}
	return dst
}

func mergeAsset(dst, src AssetConfig) AssetConfig {
	if src.LockChain != "" {
		dst.LockChain = src.LockChain
	}
	if len(src.MintChains) > 0 {
		dst.MintChains = src.MintChains
	}
	dst.Decimals = mergeMap(dst.Decimals, src.Decimals)
	dst.Gateways = mergeMap(dst.Gateways, src.Gateways)
	dst.Tokens = mergeMap(dst.Tokens, src.Tokens)
	return dst
}

func mergeMap[V any](dst, src map[types.Chain]V) map[types.Chain]V {
	if dst == nil {
		dst = map[types.Chain]V{}
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// Load builds the configuration from defaults, the optional YAML file at
// path, then the environment.
func Load(path string) (*Configuration, error) {
	cfg := Defaults()
	if path != "" {
		if err := readFile(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := readEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Init(path string) {
	cfg, err := Load(path)
	if err != nil {
		processError(err)
	}
	Config = *cfg
}
