package gateway

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gorenbridge/config"
	"gorenbridge/types"
)

func TestResolveMeta(t *testing.T) {
	cfg := config.Defaults()

	tests := []struct {
		asset   types.Asset
		from    types.Chain
		to      types.Chain
		want    Meta
		wantErr bool
	}{
		{types.BTC, types.Bitcoin, types.Ethereum, Meta{IsMint: true, LockChain: types.Bitcoin}, false},
		{types.BTC, types.Ethereum, types.Bitcoin, Meta{IsRelease: true, LockChain: types.Bitcoin}, false},
		{types.BTC, types.Ethereum, types.Polygon, Meta{IsMint: true, IsH2H: true, LockChain: types.Bitcoin}, false},
		{types.DAI, types.Polygon, types.Ethereum, Meta{IsRelease: true, IsH2H: true, LockChain: types.Ethereum}, false},
		{types.BTC, types.Bitcoin, types.Zcash, Meta{}, true},
		// ETH is not enabled by default
		{types.ETH, types.Ethereum, types.Polygon, Meta{}, true},
	}
	for _, tt := range tests {
		got, err := ResolveMeta(cfg, tt.asset, tt.from, tt.to)
		if tt.wantErr {
			assert.True(t, errors.Is(err, ErrUnsupportedPair), "%s %s->%s", tt.asset, tt.from, tt.to)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s %s->%s", tt.asset, tt.from, tt.to)
	}
}

func TestValidateAddress(t *testing.T) {
	cfg := config.Defaults()
	eth, _ := cfg.Chain(types.Ethereum)
	btc, _ := cfg.Chain(types.Bitcoin)
	doge, _ := cfg.Chain(types.Dogecoin)

	assert.NoError(t, validateAddress(eth, "0x52908400098527886E0F7030069857D2E4169EE7"))
	assert.NoError(t, validateAddress(eth, "0x52908400098527886e0f7030069857d2e4169ee7"))
	assert.Error(t, validateAddress(eth, "52908400098527886E0F7030069857D2E4169EE"))

	assert.NoError(t, validateAddress(btc, "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"))
	assert.Error(t, validateAddress(btc, "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNb"))

	assert.NoError(t, validateAddress(doge, "DH5yaieqoZN36fDVciNyRueRGvGLR3mr7L"))
	assert.Error(t, validateAddress(doge, " DH5yaieqoZN36fDVciNyRueRGvGLR3mr7L"))
}
