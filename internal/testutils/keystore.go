// (c) 2024, Chainbridge Relay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package testutils

import (
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/stretchr/testify/require"
)

// Password is the fixed keyfile password NewKeyDir encrypts
// under, shared by every test so callers don't have to thread it through.
const Password = "test-password"

// NewKeyDir creates a fresh on-disk keystore directory containing key
// encrypted under Password, and returns the directory plus the resulting
// account — ready to pass as network.Config's KeyDir/Account so network.New
// loads the same keyfile and network.Unlock(Password) succeeds.
func NewKeyDir(t *testing.T, key *Key) (string, accounts.Account) {
	t.Helper()
	dir := t.TempDir()
	ks := keystore.NewKeyStore(dir, keystore.LightScryptN, keystore.LightScryptP)
	acct, err := ks.ImportECDSA(key.PrivateKey, Password)
	require.NoError(t, err)
	return dir, acct
}
