package txengine

import (
	"github.com/moneymikec/mSIGNA/internal/vaulterr"
	"github.com/moneymikec/mSIGNA/store"
)

// DeleteTx implements spec.md's delete_tx: recursively deletes any
// transaction that spends one of this transaction's outputs first,
// clears the spent-link on every outpoint this transaction consumed,
// then erases the Tx row itself. A SigningScript whose only use was in
// the deleted transaction keeps whatever status it already carries —
// spec.md leaves script status untouched by delete_tx.
func (s *Store) DeleteTx(unsignedHash []byte) error {
	t, err := s.sess.TxByUnsignedHash(unsignedHash)
	if err == store.ErrNotFound {
		return vaulterr.New(vaulterr.ErrTxNotFound, "tx not found", nil)
	}
	if err != nil {
		return err
	}
	return s.deleteTxRow(t)
}

func (s *Store) deleteTxRow(t *store.Tx) error {
	outs, err := s.sess.TxOuts(t.ID)
	if err != nil {
		return err
	}
	for _, out := range outs {
		if out.Status != store.TxOutSpent {
			continue
		}
		spendingIn, err := s.sess.TxInByOutpoint(t.Hash, out.TxIndex)
		if err == store.ErrNotFound {
			continue
		}
		if err != nil {
			return err
		}
		child, err := s.sess.TxByID(spendingIn.TxID)
		if err != nil {
			return err
		}
		if err := s.deleteTxRow(child); err != nil {
			return err
		}
	}

	ins, err := s.sess.TxIns(t.ID)
	if err != nil {
		return err
	}
	for _, in := range ins {
		spentOut, err := s.sess.TxOutByOutpoint(in.OutHash, in.OutIndex)
		if err == store.ErrNotFound {
			continue
		}
		if err != nil {
			return err
		}
		spentOut.Status = store.TxOutUnspent
		spentOut.SpentByTxInID = nil
		if err := s.sess.UpdateTxOut(spentOut); err != nil {
			return err
		}
	}

	return s.sess.DeleteTxRow(t.ID)
}
