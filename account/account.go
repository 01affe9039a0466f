// Package account implements spec.md component C: multisig account
// policy, per-bin address pools, and signing-script issuance.
package account

import (
	"encoding/binary"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/moneymikec/mSIGNA/cryptosvc"
	"github.com/moneymikec/mSIGNA/internal/loggers"
	"github.com/moneymikec/mSIGNA/internal/vaulterr"
	"github.com/moneymikec/mSIGNA/keychain"
	"github.com/moneymikec/mSIGNA/store"
	"github.com/moneymikec/mSIGNA/vscript"
)

// ChangeBinName is the reserved name of every account's change bin.
// Names beginning with '@' are reserved for the core; this is the
// only one currently assigned.
const ChangeBinName = "@change"

// DefaultBinName is the name of the bin created alongside the change
// bin when an account is first made.
const DefaultBinName = "default"

// Account is the in-memory view of a store.Account row.
type Account struct {
	row *store.Account
}

func wrapAccount(row *store.Account) *Account { return &Account{row: row} }

// FromRowAccount wraps an already-loaded store.Account row, for
// callers (the txengine package) that resolve accounts through their
// own session queries rather than this package's ByName/ByID.
func FromRowAccount(row *store.Account) *Account { return wrapAccount(row) }

func (a *Account) ID() int64           { return a.row.ID }
func (a *Account) Name() string        { return a.row.Name }
func (a *Account) M() int              { return a.row.M }
func (a *Account) N() int              { return len(a.row.KeychainIDs) }
func (a *Account) ContentHash() []byte { return a.row.ContentHash }

// Bin is the in-memory view of a store.AccountBin row.
type Bin struct {
	row *store.AccountBin
}

func wrapBin(row *store.AccountBin) *Bin { return &Bin{row: row} }

// FromRowBin wraps an already-loaded store.AccountBin row.
func FromRowBin(row *store.AccountBin) *Bin { return wrapBin(row) }

func (b *Bin) ID() int64        { return b.row.ID }
func (b *Bin) Name() string     { return b.row.Name }
func (b *Bin) IsChange() bool   { return b.row.IsChange }
func (b *Bin) AccountID() int64 { return b.row.AccountID }

// Script is the in-memory view of a store.SigningScript row.
type Script struct {
	row *store.SigningScript
}

func wrapScript(row *store.SigningScript) *Script { return &Script{row: row} }

// FromRowScript wraps an already-loaded store.SigningScript row, for
// callers (the vault package's view wrappers) that query rows
// themselves rather than through this package's lookups.
func FromRowScript(row *store.SigningScript) *Script { return wrapScript(row) }

func (s *Script) ID() int64                   { return s.row.ID }
func (s *Script) Index() uint32               { return s.row.Index }
func (s *Script) Status() store.ScriptStatus  { return s.row.Status }
func (s *Script) TxOutScript() []byte         { return s.row.TxOutScript }
func (s *Script) TxInScript() []byte          { return s.row.TxInScript }
func (s *Script) Label() string               { return s.row.Label }
func (s *Script) KeyIDs() []int64             { return s.row.KeyIDs }
func (s *Script) BinID() int64                { return s.row.BinID }

// ContentHash computes an Account's identity hash: double-SHA256 of
// its ordered keychain content hashes concatenated with the m-of-n
// policy, per spec.md section 3's Account identity rule.
func ContentHash(keychainHashes [][]byte, m, n int) []byte {
	buf := make([]byte, 0, 32*len(keychainHashes)+8)
	for _, h := range keychainHashes {
		buf = append(buf, h...)
	}
	buf = binary.BigEndian.AppendUint32(buf, uint32(m))
	buf = binary.BigEndian.AppendUint32(buf, uint32(n))
	h := cryptosvc.DoubleSHA256(buf)
	return h[:]
}

// Store is the account capability's entry point, paired with a
// keychain.Store for child-key derivation the way votingpool.Pool is
// paired with a waddrmgr.Manager.
type Store struct {
	sess *store.Session
	kc   *keychain.Store
}

// New returns an account Store bound to sess, deriving child keys
// through kc.
func New(sess *store.Session, kc *keychain.Store) *Store {
	return &Store{sess: sess, kc: kc}
}

// NewAccount creates a multisig account over keychainNames with
// threshold m, pre-filling pool_size scripts in both its change bin
// and its default bin.
func (s *Store) NewAccount(name string, m int, keychainNames []string, poolSize int, created time.Time) (*Account, error) {
	exists, err := s.sess.AccountNameExists(name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, vaulterr.New(vaulterr.ErrAccountAlreadyExists, "account name in use: "+name, nil)
	}

	kcs := make([]*keychain.Keychain, len(keychainNames))
	var locked []string
	for i, kcName := range keychainNames {
		kc, err := s.kc.ByName(kcName)
		if err != nil {
			return nil, err
		}
		kcs[i] = kc
		if !s.kc.ChainCodeUnlocked(kcName) {
			locked = append(locked, kcName)
		}
	}
	if len(locked) > 0 {
		return nil, vaulterr.ChainCodeLocked(locked)
	}

	hashes := make([][]byte, len(kcs))
	for i, kc := range kcs {
		hashes[i] = kc.ContentHash()
	}
	row := &store.Account{
		Name:           name,
		M:              m,
		UnusedPoolSize: poolSize,
		CreatedAt:      created,
		ContentHash:    ContentHash(hashes, m, len(kcs)),
	}
	for _, kc := range kcs {
		row.KeychainIDs = append(row.KeychainIDs, kc.ID())
	}

	inserted, err := s.sess.InsertAccount(row)
	if err != nil {
		return nil, err
	}
	acct := wrapAccount(inserted)

	if _, err := s.createBin(acct, ChangeBinName, true, poolSize); err != nil {
		return nil, err
	}
	if _, err := s.createBin(acct, DefaultBinName, false, poolSize); err != nil {
		return nil, err
	}

	loggers.Acct.Infof("created account %q (%d-of-%d)", name, m, len(kcs))
	return acct, nil
}

// ByID loads an existing account by surrogate ID.
func (s *Store) ByID(id int64) (*Account, error) {
	row, err := s.sess.AccountByID(id)
	if err == store.ErrNotFound {
		return nil, vaulterr.New(vaulterr.ErrAccountNotFound, "account not found", nil)
	}
	if err != nil {
		return nil, err
	}
	return wrapAccount(row), nil
}

// ByName loads an existing account by its display name.
func (s *Store) ByName(name string) (*Account, error) {
	row, err := s.sess.AccountByName(name)
	if err == store.ErrNotFound {
		return nil, vaulterr.New(vaulterr.ErrAccountNotFound, "account not found: "+name, nil)
	}
	if err != nil {
		return nil, err
	}
	return wrapAccount(row), nil
}

// BinByID loads an existing bin by surrogate ID.
func (s *Store) BinByID(id int64) (*Bin, error) {
	row, err := s.sess.BinByID(id)
	if err == store.ErrNotFound {
		return nil, vaulterr.New(vaulterr.ErrAccountBinNotFound, "bin not found", nil)
	}
	if err != nil {
		return nil, err
	}
	return wrapBin(row), nil
}

// Bins returns every bin of acct.
func (s *Store) Bins(acct *Account) ([]*Bin, error) {
	rows, err := s.sess.AccountBins(acct.ID())
	if err != nil {
		return nil, err
	}
	out := make([]*Bin, len(rows))
	for i, r := range rows {
		out[i] = wrapBin(r)
	}
	return out, nil
}

// ChangeBin returns acct's change bin.
func (s *Store) ChangeBin(acct *Account) (*Bin, error) {
	return s.BinByName(acct, ChangeBinName)
}

// BinByName loads the bin named name within acct.
func (s *Store) BinByName(acct *Account, name string) (*Bin, error) {
	row, err := s.sess.BinByName(acct.ID(), name)
	if err == store.ErrNotFound {
		return nil, vaulterr.New(vaulterr.ErrAccountBinNotFound, "bin not found: "+name, nil)
	}
	if err != nil {
		return nil, err
	}
	return wrapBin(row), nil
}

// AddAccountBin creates a new external bin on an existing account and
// pre-fills its pool.
func (s *Store) AddAccountBin(acct *Account, binName string) (*Bin, error) {
	if binName == "" || strings.HasPrefix(binName, "@") {
		return nil, vaulterr.New(vaulterr.ErrInvariant, "invalid bin name: "+binName, nil)
	}
	exists, err := s.binNameExists(acct.ID(), binName)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, vaulterr.New(vaulterr.ErrAccountBinAlreadyExists, "bin name in use: "+binName, nil)
	}
	return s.createBin(acct, binName, false, acct.row.UnusedPoolSize)
}

func (s *Store) binNameExists(accountID int64, name string) (bool, error) {
	_, err := s.sess.BinByName(accountID, name)
	if err == store.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) createBin(acct *Account, name string, isChange bool, poolSize int) (*Bin, error) {
	row := &store.AccountBin{
		AccountID:       acct.ID(),
		Name:            name,
		IsChange:        isChange,
		NextScriptIndex: 0,
	}
	inserted, err := s.sess.InsertBin(row)
	if err != nil {
		return nil, err
	}
	bin := wrapBin(inserted)
	if err := s.refillBinPool(acct, bin, poolSize); err != nil {
		return nil, err
	}
	return bin, nil
}

// IssueSigningScript selects the smallest-index UNUSED script in bin,
// promotes it to ISSUED, and records label. The change bin may never
// issue scripts directly to third parties through this entry point —
// use IssueChangeScript for the txengine's own change allocation.
func (s *Store) IssueSigningScript(acct *Account, bin *Bin, label string) (*Script, error) {
	if bin.IsChange() {
		return nil, vaulterr.New(vaulterr.ErrAccountCannotIssueChangeScript, "cannot issue from change bin", nil)
	}
	return s.takeUnusedScript(acct, bin, label)
}

// IssueChangeScript is IssueSigningScript's counterpart for the
// account's own change bin: create_tx needs a fresh ISSUED script to
// attach a change output to, later corrected to CHANGE status once
// the spend that pays into it is ingested (spec.md section 4.E.2).
// Never exposed as a vault-level operation; only the tx engine calls
// this directly on an account's change bin.
func (s *Store) IssueChangeScript(acct *Account, changeBin *Bin, label string) (*Script, error) {
	return s.takeUnusedScript(acct, changeBin, label)
}

func (s *Store) takeUnusedScript(acct *Account, bin *Bin, label string) (*Script, error) {
	if err := s.refillBinPool(acct, bin, acct.row.UnusedPoolSize); err != nil {
		if verr, ok := err.(*vaulterr.Error); ok && verr.Code == vaulterr.ErrAccountChainCodeLocked {
			loggers.Acct.Debugf("pool refill skipped, chain code locked: %v", verr.LockedKeychains)
		} else {
			return nil, err
		}
	}

	row, err := s.sess.SmallestUnusedScript(bin.ID())
	if err == store.ErrNotFound {
		return nil, vaulterr.New(vaulterr.ErrAccountBinOutOfScripts, "bin has no unused scripts", nil)
	}
	if err != nil {
		return nil, err
	}
	row.Status = store.ScriptIssued
	row.Label = label
	if err := s.sess.UpdateScript(row); err != nil {
		return nil, err
	}
	return wrapScript(row), nil
}

// FindScriptByTxOutScript resolves a raw output script back to the
// SigningScript that owns it, if any — the lookup insert_tx drives to
// decide vault ownership, exposed here for callers (e.g. a wallet UI
// layer) that want the same answer without an insert in flight.
func (s *Store) FindScriptByTxOutScript(txOutScript []byte) (*Script, error) {
	row, err := s.sess.ScriptByTxOutScript(txOutScript)
	if err == store.ErrNotFound {
		return nil, vaulterr.New(vaulterr.ErrAccountScriptNotFound, "no signing script owns this output script", nil)
	}
	if err != nil {
		return nil, err
	}
	return wrapScript(row), nil
}

// RenameSigningScript updates a SigningScript's label in place,
// independent of its status.
func (s *Store) RenameSigningScript(script *Script, label string) error {
	script.row.Label = label
	return s.sess.UpdateScript(script.row)
}

// RefillBinPool tops bin up to acct.UnusedPoolSize fresh UNUSED
// scripts, deriving child keys at the next available indices from
// every keychain in acct.
func (s *Store) RefillBinPool(acct *Account, bin *Bin) error {
	return s.refillBinPool(acct, bin, acct.row.UnusedPoolSize)
}

func (s *Store) refillBinPool(acct *Account, bin *Bin, poolSize int) error {
	count, err := s.sess.ScriptCount(bin.ID(), store.ScriptUnused)
	if err != nil {
		return err
	}
	want := 0
	if poolSize > count {
		want = poolSize - count
	}
	if want == 0 {
		return nil
	}

	kcs := make([]*keychain.Keychain, len(acct.row.KeychainIDs))
	var locked []string
	for i, id := range acct.row.KeychainIDs {
		kcRow, err := s.sess.KeychainByID(id)
		if err != nil {
			return err
		}
		kc := keychainFromRow(kcRow)
		kcs[i] = kc
		if !s.kc.ChainCodeUnlocked(kc.Name()) {
			locked = append(locked, kc.Name())
		}
	}
	if len(locked) > 0 {
		return vaulterr.ChainCodeLocked(locked)
	}

	for i := 0; i < want; i++ {
		index := bin.row.NextScriptIndex
		if err := s.generateScript(acct, bin, kcs, index); err != nil {
			return err
		}
		bin.row.NextScriptIndex++
	}
	return s.sess.UpdateBinNextIndex(bin.row)
}

func (s *Store) generateScript(acct *Account, bin *Bin, kcs []*keychain.Keychain, index uint32) error {
	pubKeys := make([]*btcec.PublicKey, len(kcs))
	var keyIDs []int64
	for i, kc := range kcs {
		pub, err := s.kc.DerivePublicKey(kc, index)
		if err != nil {
			return err
		}
		pubKeys[i] = pub
		keyRow, err := s.sess.InsertKey(&store.Key{
			KeychainID: kc.ID(),
			Index:      index,
			PubKey:     pub.SerializeCompressed(),
			IsPrivate:  false,
		})
		if err != nil {
			return err
		}
		keyIDs = append(keyIDs, keyRow.ID)
	}

	ordered := vscript.CanonicalKeyOrder(pubKeys)
	redeemScript, err := vscript.BuildRedeemScript(ordered, acct.M())
	if err != nil {
		return err
	}
	txoutScript, err := vscript.BuildOutputScript(redeemScript)
	if err != nil {
		return err
	}
	txinTemplate, err := vscript.BuildEditForm(redeemScript, len(ordered))
	if err != nil {
		return err
	}

	_, err = s.sess.InsertScript(&store.SigningScript{
		BinID:       bin.ID(),
		Index:       index,
		Status:      store.ScriptUnused,
		TxOutScript: txoutScript,
		TxInScript:  txinTemplate,
		KeyIDs:      keyIDs,
	})
	return err
}

// keychainFromRow builds a keychain.Keychain wrapper around a row
// already loaded by this package's own session, avoiding a second
// ByName lookup (which would require the name, not the ID).
func keychainFromRow(row *store.Keychain) *keychain.Keychain {
	return keychain.FromRow(row)
}
