package txengine

import (
	"bytes"

	"github.com/btcsuite/btcd/txscript"

	"github.com/moneymikec/mSIGNA/cryptosvc"
	"github.com/moneymikec/mSIGNA/internal/vaulterr"
	"github.com/moneymikec/mSIGNA/keychain"
	"github.com/moneymikec/mSIGNA/store"
	"github.com/moneymikec/mSIGNA/vscript"
)

// SignTx implements spec.md's sign_tx: for every input the calling
// process' unlocked keychains can contribute a signature to, derive
// the child private key, produce a SIGHASH_ALL signature, and fill the
// corresponding EDIT-form placeholder. When persist is true the
// updated scripts and any resulting status change are written back in
// the same call; otherwise nothing is written and the returned Tx is
// an unsaved copy carrying the signed raw transaction, its txid and
// its recomputed status.
func (s *Store) SignTx(unsignedHash []byte, persist bool) (*Tx, error) {
	t, err := s.sess.TxByUnsignedHash(unsignedHash)
	if err != nil {
		return nil, err
	}

	tx, err := s.materialize(t)
	if err != nil {
		return nil, err
	}

	changedIdx := make(map[int]bool)
	for i := range tx.TxIn {
		script := tx.TxIn[i].SignatureScript
		if len(script) == 0 {
			continue
		}
		missing, err := vscript.MissingSigners(script)
		if err != nil {
			continue // not one of our multisig scripts, or already fully parsed elsewhere
		}
		if len(missing) == 0 {
			continue
		}
		redeemScript, err := vscript.RedeemScriptOf(script)
		if err != nil {
			return nil, err
		}
		digest, err := vscript.SigningDigest(tx, i, redeemScript)
		if err != nil {
			return nil, err
		}

		for _, pub := range missing {
			keyRow, err := s.sess.KeyByPubKey(pub.SerializeCompressed())
			if err == store.ErrNotFound {
				continue // not one of the vault's own keys
			}
			if err != nil {
				return nil, err
			}
			kcRow, err := s.sess.KeychainByID(keyRow.KeychainID)
			if err != nil {
				return nil, err
			}
			kc := keychain.FromRow(kcRow)
			if !s.kc.PrivateKeyUnlocked(kc.Name()) {
				continue // no signing key available this call; caller may retry once unlocked
			}

			priv, err := s.kc.DerivePrivateKey(kc, keyRow.Index)
			if err != nil {
				return nil, err
			}
			if !bytes.Equal(priv.PubKey().SerializeCompressed(), pub.SerializeCompressed()) {
				return nil, vaulterr.New(vaulterr.ErrKeychainInvalidPrivateKey,
					"derived public key does not match stored key for "+kc.Name(), nil)
			}

			derSig := cryptosvc.Sign(priv, digest)
			sigWithType := append(derSig, byte(txscript.SigHashAll))
			newScript, err := vscript.AddSignature(script, pub, sigWithType)
			if err != nil {
				return nil, err
			}
			script = newScript
			changedIdx[i] = true
		}
		tx.TxIn[i].SignatureScript = script
	}

	if len(changedIdx) == 0 {
		return wrapTx(t), nil
	}
	if !persist {
		raw, err := serializeTx(tx)
		if err != nil {
			return nil, err
		}
		unsaved := *t
		unsaved.RawTx = raw
		unsaved.Hash = txid(tx)
		unsaved.Status = recomputeStatus(tx)
		return wrapTx(&unsaved), nil
	}

	ins, err := s.sess.TxIns(t.ID)
	if err != nil {
		return nil, err
	}
	for i := range changedIdx {
		if i >= len(ins) {
			continue
		}
		ins[i].Script = tx.TxIn[i].SignatureScript
		if err := s.sess.UpdateTxIn(ins[i]); err != nil {
			return nil, err
		}
	}

	t.Status = recomputeStatus(tx)
	return s.restampAndSave(t, tx)
}
