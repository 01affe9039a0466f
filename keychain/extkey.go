package keychain

import (
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"

	"github.com/moneymikec/mSIGNA/cryptosvc"
	"github.com/moneymikec/mSIGNA/store"
)

func parseExtKey(serialized []byte) (*hdkeychain.ExtendedKey, error) {
	key, err := hdkeychain.NewKeyFromString(string(serialized))
	if err != nil {
		return nil, fmt.Errorf("parse extended public key: %w", err)
	}
	return key, nil
}

// rebuildExtKey reconstructs the private extended key from a
// Keychain row's structural fields plus the two decrypted secrets, so
// btcutil's own child-derivation math can be reused rather than
// reimplemented.
func rebuildExtKey(row *store.Keychain, chainCode, privKey []byte) (*hdkeychain.ExtendedKey, error) {
	parentFP := make([]byte, 4)
	binary.BigEndian.PutUint32(parentFP, row.ParentFP)

	version := cryptosvc.Params.HDPrivateKeyID[:]
	key := hdkeychain.NewExtendedKey(version, privKey, chainCode, parentFP, row.Depth, row.ChildNum, true)
	return key, nil
}
