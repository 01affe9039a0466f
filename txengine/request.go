package txengine

import (
	"github.com/moneymikec/mSIGNA/store"
	"github.com/moneymikec/mSIGNA/vscript"
)

// Signer identifies a keychain whose signature is still owed on some
// input of a GetSigningRequest's transaction.
type Signer struct {
	KeychainName string
	ContentHash  []byte
}

// SigningRequest is the result of spec.md's get_signing_request: the
// number of still-empty signature slots across all inputs (one per
// redeem-script pubkey that has not signed, so an unsigned 2-of-3
// input counts 3, not 2), which keychains can still supply a
// signature, and the raw transaction to hand to whatever presents it
// for signing.
type SigningRequest struct {
	SigsStillNeeded int
	Signers         []Signer
	RawTx           []byte
}

// GetSigningRequest implements spec.md's get_signing_request,
// collecting the set of keychains that own a still-missing signature
// across every input of the named transaction.
func (s *Store) GetSigningRequest(unsignedHash []byte) (*SigningRequest, error) {
	t, err := s.sess.TxByUnsignedHash(unsignedHash)
	if err != nil {
		return nil, err
	}
	tx, err := s.materialize(t)
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]bool)
	var signers []Signer
	needed := 0
	for _, in := range tx.TxIn {
		if len(in.SignatureScript) == 0 {
			continue
		}
		missing, err := vscript.MissingSigners(in.SignatureScript)
		if err != nil {
			continue
		}
		needed += len(missing)
		for _, pub := range missing {
			keyRow, err := s.sess.KeyByPubKey(pub.SerializeCompressed())
			if err == store.ErrNotFound {
				continue
			}
			if err != nil {
				return nil, err
			}
			if seen[keyRow.KeychainID] {
				continue
			}
			kcRow, err := s.sess.KeychainByID(keyRow.KeychainID)
			if err != nil {
				return nil, err
			}
			seen[keyRow.KeychainID] = true
			signers = append(signers, Signer{KeychainName: kcRow.Name, ContentHash: kcRow.ContentHash})
		}
	}

	return &SigningRequest{
		SigsStillNeeded: needed,
		Signers:         signers,
		RawTx:           t.RawTx,
	}, nil
}
