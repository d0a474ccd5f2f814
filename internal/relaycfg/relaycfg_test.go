// (c) 2024, Chainbridge Relay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package relaycfg

import (
	"math/big"
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/chainbridge/relay/internal/relayerr"
)

func testViper(t *testing.T, extra map[string]string) *viper.Viper {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs)
	require.NoError(t, fs.Parse(nil))

	v := viper.New()
	require.NoError(t, v.BindPFlags(fs))
	v.Set("account", "0x00000000000000000000000000000000000000aa")
	v.Set("homechain.ws_uri", "ws://home")
	v.Set("homechain.token", "0x0000000000000000000000000000000000000001")
	v.Set("homechain.relay", "0x0000000000000000000000000000000000000002")
	v.Set("homechain.anchor_frequency", "0")
	v.Set("sidechain.ws_uri", "ws://side")
	v.Set("sidechain.token", "0x0000000000000000000000000000000000000003")
	v.Set("sidechain.relay", "0x0000000000000000000000000000000000000004")
	v.Set("sidechain.confirmations", "10")
	v.Set("sidechain.anchor_frequency", "100")
	for k, val := range extra {
		v.Set(k, val)
	}
	return v
}

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(testViper(t, nil))
	require.NoError(t, err)
	require.Equal(t, uint64(100), cfg.Side.AnchorFrequency)
	require.Equal(t, uint64(10), cfg.Side.Confirmations)
}

func TestLoadRejectsZeroSideAnchorFrequency(t *testing.T) {
	_, err := Load(testViper(t, map[string]string{"sidechain.anchor_frequency": "0"}))
	require.ErrorIs(t, err, relayerr.ErrInvalidAnchorFrequency)
}

func TestLoadRejectsConfirmationsNotLessThanAnchorFrequency(t *testing.T) {
	_, err := Load(testViper(t, map[string]string{
		"sidechain.anchor_frequency": "10",
		"sidechain.confirmations":    "10",
	}))
	require.ErrorIs(t, err, relayerr.ErrInvalidConfirmations)
}

func TestLoadRejectsInvalidAccountAddress(t *testing.T) {
	v := testViper(t, nil)
	v.Set("account", "not-an-address")
	_, err := Load(v)
	require.Error(t, err)
}

func TestParseOptionalBigInt(t *testing.T) {
	v, err := parseOptionalBigInt("")
	require.NoError(t, err)
	require.Nil(t, v)

	v, err = parseOptionalBigInt("12345")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(12345), v)

	_, err = parseOptionalBigInt("not-a-number")
	require.Error(t, err)
}
