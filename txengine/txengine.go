// Package txengine implements spec.md component E: transaction
// ingestion, reconciliation, signing, coin-selection creation, and
// deletion.
package txengine

import (
	"github.com/moneymikec/mSIGNA/account"
	"github.com/moneymikec/mSIGNA/keychain"
	"github.com/moneymikec/mSIGNA/store"
)

// Tx is the in-memory view of a store.Tx row.
type Tx struct {
	row *store.Tx
}

func wrapTx(row *store.Tx) *Tx { return &Tx{row: row} }

func (t *Tx) ID() int64            { return t.row.ID }
func (t *Tx) Hash() []byte         { return t.row.Hash }
func (t *Tx) UnsignedHash() []byte { return t.row.UnsignedHash }
func (t *Tx) RawTx() []byte        { return t.row.RawTx }
func (t *Tx) Status() store.TxStatus { return t.row.Status }
func (t *Tx) Fee() uint64          { return t.row.Fee }
func (t *Tx) FeeKnown() bool       { return t.row.FeeKnown }

// Store is the transaction engine's entry point, paired with the
// account and keychain capabilities it drives for script issuance and
// signing key recovery.
type Store struct {
	sess *store.Session
	kc   *keychain.Store
	acct *account.Store
}

// New returns a txengine Store bound to sess.
func New(sess *store.Session, kc *keychain.Store, acct *account.Store) *Store {
	return &Store{sess: sess, kc: kc, acct: acct}
}

// ByUnsignedHash looks a Tx up by its stable unsigned-hash identity.
func (s *Store) ByUnsignedHash(hash []byte) (*Tx, error) {
	row, err := s.sess.TxByUnsignedHash(hash)
	if err != nil {
		return nil, err
	}
	return wrapTx(row), nil
}
