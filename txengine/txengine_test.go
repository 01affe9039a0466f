package txengine

import (
	"bytes"
	"testing"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/moneymikec/mSIGNA/account"
	"github.com/moneymikec/mSIGNA/internal/secret"
	"github.com/moneymikec/mSIGNA/internal/sqltest"
	"github.com/moneymikec/mSIGNA/keychain"
	"github.com/moneymikec/mSIGNA/store"
)

type testRig struct {
	kc   *keychain.Store
	acct *account.Store
	tx   *Store
	pkey map[string]*secret.Bytes
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	db := sqltest.NewSQLiteDB(t)
	sess, err := db.Begin()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Rollback() })

	kc := keychain.New(sess, keychain.NewUnlockMaps())
	acct := account.New(sess, kc)
	return &testRig{kc: kc, acct: acct, tx: New(sess, kc, acct), pkey: map[string]*secret.Bytes{}}
}

// makePrivateKeychain creates a fully private, fully unlocked keychain
// so the rig's txengine Store can sign with it immediately.
func (r *testRig) makePrivateKeychain(t *testing.T, name string) {
	t.Helper()
	ccKey := secret.New([]byte("cc-" + name))
	pkKey := secret.New([]byte("pk-" + name))
	r.pkey[name] = pkKey

	_, err := r.kc.NewKeychain(name, entropyFor(name), []byte("salt-"+name), ccKey, pkKey)
	require.NoError(t, err)
}

func entropyFor(name string) []byte {
	b := make([]byte, 20)
	copy(b, "entropy-pad-"+name)
	return b
}

func TestChangeDetectionAndPoolRefill(t *testing.T) {
	r := newTestRig(t)
	r.makePrivateKeychain(t, "only-kc")

	acct, err := r.acct.NewAccount("a", 1, []string{"only-kc"}, 5, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	def, err := r.acct.BinByName(acct, account.DefaultBinName)
	require.NoError(t, err)
	changeBin, err := r.acct.ChangeBin(acct)
	require.NoError(t, err)

	issued, err := r.acct.IssueSigningScript(acct, def, "payee")
	require.NoError(t, err)

	fundingTx := wire.NewMsgTx(wire.TxVersion)
	fundingTx.AddTxIn(wire.NewTxIn(&wire.OutPoint{}, nil, nil))
	fundingTx.AddTxOut(wire.NewTxOut(100000, issued.TxOutScript()))
	funding, err := r.tx.InsertTx(fundingTx)
	require.NoError(t, err)
	require.NotNil(t, funding)

	// The change bin's index-0 script is the one create_tx/a hand-built
	// spend will pay change into.
	changeScripts := scriptsOfBin(t, r, changeBin)
	require.NotEmpty(t, changeScripts)
	changeScript := changeScripts[0]

	spendTx := wire.NewMsgTx(wire.TxVersion)
	spendTx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Hash: fundingTx.TxHash(), Index: 0}, nil, nil))
	spendTx.TxIn[0].SignatureScript = issued.TxInScript()
	spendTx.AddTxOut(wire.NewTxOut(40000, []byte{0x6a})) // arbitrary external payee
	spendTx.AddTxOut(wire.NewTxOut(59000, changeScript.TxOutScript()))
	spent, err := r.tx.InsertTx(spendTx)
	require.NoError(t, err)
	require.NotNil(t, spent)
	require.True(t, spent.FeeKnown())
	require.Equal(t, uint64(1000), spent.Fee())

	reloadedIssued, err := r.acct.FindScriptByTxOutScript(issued.TxOutScript())
	require.NoError(t, err)
	require.Equal(t, store.ScriptUsed, reloadedIssued.Status())

	reloadedChange, err := r.acct.FindScriptByTxOutScript(changeScript.TxOutScript())
	require.NoError(t, err)
	require.Equal(t, store.ScriptChange, reloadedChange.Status())
}

func TestDoubleSpendMarksBothTxsConflicting(t *testing.T) {
	r := newTestRig(t)
	r.makePrivateKeychain(t, "dk")
	acct, err := r.acct.NewAccount("dbl", 1, []string{"dk"}, 3, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	def, err := r.acct.BinByName(acct, account.DefaultBinName)
	require.NoError(t, err)
	issued, err := r.acct.IssueSigningScript(acct, def, "funded")
	require.NoError(t, err)

	fundingTx := wire.NewMsgTx(wire.TxVersion)
	fundingTx.AddTxIn(wire.NewTxIn(&wire.OutPoint{}, nil, nil))
	fundingTx.AddTxOut(wire.NewTxOut(100000, issued.TxOutScript()))
	_, err = r.tx.InsertTx(fundingTx)
	require.NoError(t, err)

	outpoint := wire.OutPoint{Hash: fundingTx.TxHash(), Index: 0}

	t1 := wire.NewMsgTx(wire.TxVersion)
	t1.AddTxIn(wire.NewTxIn(&outpoint, nil, nil))
	t1.TxIn[0].SignatureScript = issued.TxInScript()
	t1.AddTxOut(wire.NewTxOut(90000, []byte{0x6a, 0x01}))
	firstSpend, err := r.tx.InsertTx(t1)
	require.NoError(t, err)
	require.NotNil(t, firstSpend)

	t2 := wire.NewMsgTx(wire.TxVersion)
	t2.AddTxIn(wire.NewTxIn(&outpoint, nil, nil))
	t2.AddTxOut(wire.NewTxOut(80000, []byte{0x6a, 0x02}))
	secondSpend, err := r.tx.InsertTx(t2)
	require.NoError(t, err)
	require.NotNil(t, secondSpend)
	require.Equal(t, store.TxConflicting, secondSpend.Status())

	reloadedFirst, err := r.tx.ByUnsignedHash(firstSpend.UnsignedHash())
	require.NoError(t, err)
	require.Equal(t, store.TxConflicting, reloadedFirst.Status())
}

// TestDoubleSpendOfForeignOutputStillPromotesEarlierVaultTx covers
// spec.md §4.E's unconditional conflict-promotion step: a new tx that
// is itself unrelated to the vault (neither sent_from_vault nor
// sent_to_vault) and double-spends a previously-tracked foreign payee
// output must still flip the earlier tx to CONFLICTING.
func TestDoubleSpendOfForeignOutputStillPromotesEarlierVaultTx(t *testing.T) {
	r := newTestRig(t)
	r.makePrivateKeychain(t, "fk")
	acct, err := r.acct.NewAccount("foreign-conflict", 1, []string{"fk"}, 3, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	def, err := r.acct.BinByName(acct, account.DefaultBinName)
	require.NoError(t, err)
	funded, err := r.acct.IssueSigningScript(acct, def, "funded")
	require.NoError(t, err)
	changeTarget, err := r.acct.IssueSigningScript(acct, def, "change target")
	require.NoError(t, err)

	fundingTx := wire.NewMsgTx(wire.TxVersion)
	fundingTx.AddTxIn(wire.NewTxIn(&wire.OutPoint{}, nil, nil))
	fundingTx.AddTxOut(wire.NewTxOut(100000, funded.TxOutScript()))
	_, err = r.tx.InsertTx(fundingTx)
	require.NoError(t, err)

	// vaultSpend is sent_from_vault: it consumes the vault-owned
	// funding output and pays a foreign (non-vault) payee, which is
	// still tracked as a TxOut row via SendingAccountID.
	foreignPayeeScript := []byte{0x6a, 0x0a}
	vaultSpend := wire.NewMsgTx(wire.TxVersion)
	vaultSpend.AddTxIn(wire.NewTxIn(&wire.OutPoint{Hash: fundingTx.TxHash(), Index: 0}, nil, nil))
	vaultSpend.TxIn[0].SignatureScript = funded.TxInScript()
	vaultSpend.AddTxOut(wire.NewTxOut(90000, foreignPayeeScript))
	insertedVaultSpend, err := r.tx.InsertTx(vaultSpend)
	require.NoError(t, err)
	require.NotNil(t, insertedVaultSpend)

	foreignOutpoint := wire.OutPoint{Hash: vaultSpend.TxHash(), Index: 0}

	// txFirst spends the foreign output and pays back into the vault,
	// so it is sent_to_vault and gets persisted.
	txFirst := wire.NewMsgTx(wire.TxVersion)
	txFirst.AddTxIn(wire.NewTxIn(&foreignOutpoint, nil, nil))
	txFirst.AddTxOut(wire.NewTxOut(80000, changeTarget.TxOutScript()))
	firstSpend, err := r.tx.InsertTx(txFirst)
	require.NoError(t, err)
	require.NotNil(t, firstSpend)

	// txSecond double-spends the same foreign output but is entirely
	// unrelated to the vault: neither input nor output touches it.
	txSecond := wire.NewMsgTx(wire.TxVersion)
	txSecond.AddTxIn(wire.NewTxIn(&foreignOutpoint, nil, nil))
	txSecond.AddTxOut(wire.NewTxOut(70000, []byte{0x6a, 0x0b}))
	secondSpend, err := r.tx.InsertTx(txSecond)
	require.NoError(t, err)
	require.Nil(t, secondSpend, "a vault-unrelated tx is not itself persisted")

	reloadedFirst, err := r.tx.ByUnsignedHash(firstSpend.UnsignedHash())
	require.NoError(t, err)
	require.Equal(t, store.TxConflicting, reloadedFirst.Status(),
		"conflict promotion must run even though the double-spender itself is vault-unrelated")
}

func TestOutOfOrderIngestionBackfillsSpendLink(t *testing.T) {
	r := newTestRig(t)
	r.makePrivateKeychain(t, "ok")
	acct, err := r.acct.NewAccount("ooo", 1, []string{"ok"}, 3, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	def, err := r.acct.BinByName(acct, account.DefaultBinName)
	require.NoError(t, err)
	// parentTarget is what T_parent will fund; childPayee is a second
	// vault-owned script T_child pays into, so T_child is recognized as
	// vault-related (sent_to_vault) even while its own input's outpoint
	// is still unresolved.
	parentTarget, err := r.acct.IssueSigningScript(acct, def, "funded-late")
	require.NoError(t, err)
	childPayee, err := r.acct.IssueSigningScript(acct, def, "spend destination")
	require.NoError(t, err)

	fundingTx := wire.NewMsgTx(wire.TxVersion)
	fundingTx.AddTxIn(wire.NewTxIn(&wire.OutPoint{}, nil, nil))
	fundingTx.AddTxOut(wire.NewTxOut(100000, parentTarget.TxOutScript()))
	outpoint := wire.OutPoint{Hash: fundingTx.TxHash(), Index: 0}

	// The spend arrives before the funding tx it spends.
	spendTx := wire.NewMsgTx(wire.TxVersion)
	spendTx.AddTxIn(wire.NewTxIn(&outpoint, nil, nil))
	spendTx.TxIn[0].SignatureScript = parentTarget.TxInScript()
	spendTx.AddTxOut(wire.NewTxOut(90000, childPayee.TxOutScript()))
	early, err := r.tx.InsertTx(spendTx)
	require.NoError(t, err)
	require.NotNil(t, early, "its own output still pays into the vault, so it is vault-related")

	funding, err := r.tx.InsertTx(fundingTx)
	require.NoError(t, err)
	require.NotNil(t, funding)

	outs, err := outsOfTx(t, r, funding)
	require.NoError(t, err)
	require.Len(t, outs, 1)
	require.Equal(t, store.TxOutSpent, outs[0].Status, "late-arriving funding tx's output is retroactively linked to its spend")
}

func TestPartialSigningConvergesToUnsent(t *testing.T) {
	r := newTestRig(t)
	r.makePrivateKeychain(t, "s1")
	r.makePrivateKeychain(t, "s2")
	r.makePrivateKeychain(t, "s3")
	r.kc.LockPrivateKey("s2")
	r.kc.LockPrivateKey("s3")

	acct, err := r.acct.NewAccount("multisig", 2, []string{"s1", "s2", "s3"}, 2, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	def, err := r.acct.BinByName(acct, account.DefaultBinName)
	require.NoError(t, err)
	issued, err := r.acct.IssueSigningScript(acct, def, "2of3 target")
	require.NoError(t, err)

	fundingTx := wire.NewMsgTx(wire.TxVersion)
	fundingTx.AddTxIn(wire.NewTxIn(&wire.OutPoint{}, nil, nil))
	fundingTx.AddTxOut(wire.NewTxOut(100000, issued.TxOutScript()))
	_, err = r.tx.InsertTx(fundingTx)
	require.NoError(t, err)

	spendTx := wire.NewMsgTx(wire.TxVersion)
	spendTx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Hash: fundingTx.TxHash(), Index: 0}, nil, nil))
	spendTx.TxIn[0].SignatureScript = issued.TxInScript()
	spendTx.AddTxOut(wire.NewTxOut(90000, []byte{0x6a}))
	inserted, err := r.tx.InsertTx(spendTx)
	require.NoError(t, err)
	require.Equal(t, store.TxUnsigned, inserted.Status())
	uHash := inserted.UnsignedHash()
	txidBefore := inserted.Hash()

	afterOne, err := r.tx.SignTx(uHash, true)
	require.NoError(t, err)
	require.Equal(t, store.TxUnsigned, afterOne.Status(), "only 1 of 2 required signatures present")
	require.Equal(t, uHash, afterOne.UnsignedHash())

	require.NoError(t, r.kc.UnlockPrivateKey("s2", r.pkey["s2"]))
	afterTwo, err := r.tx.SignTx(uHash, true)
	require.NoError(t, err)
	require.Equal(t, store.TxUnsent, afterTwo.Status())
	require.Equal(t, uHash, afterTwo.UnsignedHash(), "unsigned hash is stable across signing")
	require.NotEqual(t, txidBefore, afterTwo.Hash(), "txid changes as signatures are merged in")
}

func TestDeleteTxRecursivelyRemovesChildrenAndClearsSpentLinks(t *testing.T) {
	r := newTestRig(t)
	r.makePrivateKeychain(t, "dk")
	acct, err := r.acct.NewAccount("del", 1, []string{"dk"}, 3, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	def, err := r.acct.BinByName(acct, account.DefaultBinName)
	require.NoError(t, err)
	issued, err := r.acct.IssueSigningScript(acct, def, "funded")
	require.NoError(t, err)

	fundingTx := wire.NewMsgTx(wire.TxVersion)
	fundingTx.AddTxIn(wire.NewTxIn(&wire.OutPoint{}, nil, nil))
	fundingTx.AddTxOut(wire.NewTxOut(100000, issued.TxOutScript()))
	funding, err := r.tx.InsertTx(fundingTx)
	require.NoError(t, err)
	require.NotNil(t, funding)

	spendTx := wire.NewMsgTx(wire.TxVersion)
	spendTx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Hash: fundingTx.TxHash(), Index: 0}, nil, nil))
	spendTx.TxIn[0].SignatureScript = issued.TxInScript()
	spendTx.AddTxOut(wire.NewTxOut(90000, []byte{0x6a}))
	spend, err := r.tx.InsertTx(spendTx)
	require.NoError(t, err)
	require.NotNil(t, spend)

	outs, err := outsOfTx(t, r, funding)
	require.NoError(t, err)
	require.Equal(t, store.TxOutSpent, outs[0].Status)

	require.NoError(t, r.tx.DeleteTx(spend.UnsignedHash()))

	_, err = r.tx.ByUnsignedHash(spend.UnsignedHash())
	require.Error(t, err, "the deleted tx is gone")

	reloadedOuts, err := outsOfTx(t, r, funding)
	require.NoError(t, err)
	require.Equal(t, store.TxOutUnspent, reloadedOuts[0].Status, "the spend-link clears once its spender is deleted")

	// Nothing spends the funding tx anymore, so deleting it has no
	// child to cascade to and exercises the base case of the
	// recursion.
	require.NoError(t, r.tx.DeleteTx(funding.UnsignedHash()))
	_, err = r.tx.ByUnsignedHash(funding.UnsignedHash())
	require.Error(t, err)
}

func TestDeleteTxCascadesToChildSpend(t *testing.T) {
	r := newTestRig(t)
	r.makePrivateKeychain(t, "dk2")
	acct, err := r.acct.NewAccount("del2", 1, []string{"dk2"}, 3, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	def, err := r.acct.BinByName(acct, account.DefaultBinName)
	require.NoError(t, err)
	issued, err := r.acct.IssueSigningScript(acct, def, "funded")
	require.NoError(t, err)

	fundingTx := wire.NewMsgTx(wire.TxVersion)
	fundingTx.AddTxIn(wire.NewTxIn(&wire.OutPoint{}, nil, nil))
	fundingTx.AddTxOut(wire.NewTxOut(100000, issued.TxOutScript()))
	funding, err := r.tx.InsertTx(fundingTx)
	require.NoError(t, err)

	spendTx := wire.NewMsgTx(wire.TxVersion)
	spendTx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Hash: fundingTx.TxHash(), Index: 0}, nil, nil))
	spendTx.TxIn[0].SignatureScript = issued.TxInScript()
	spendTx.AddTxOut(wire.NewTxOut(90000, []byte{0x6a}))
	spend, err := r.tx.InsertTx(spendTx)
	require.NoError(t, err)
	require.NotNil(t, spend)

	// Deleting the parent must remove the child spend first, since the
	// child's own input would otherwise reference a vanished outpoint.
	require.NoError(t, r.tx.DeleteTx(funding.UnsignedHash()))

	_, err = r.tx.ByUnsignedHash(funding.UnsignedHash())
	require.Error(t, err)
	_, err = r.tx.ByUnsignedHash(spend.UnsignedHash())
	require.Error(t, err, "the child spend is deleted along with its parent")
}

func TestGetSigningRequestListsOutstandingSigners(t *testing.T) {
	r := newTestRig(t)
	r.makePrivateKeychain(t, "g1")
	r.makePrivateKeychain(t, "g2")
	r.makePrivateKeychain(t, "g3")
	r.kc.LockPrivateKey("g1")
	r.kc.LockPrivateKey("g2")
	r.kc.LockPrivateKey("g3")

	acct, err := r.acct.NewAccount("sigreq", 2, []string{"g1", "g2", "g3"}, 2, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	def, err := r.acct.BinByName(acct, account.DefaultBinName)
	require.NoError(t, err)
	issued, err := r.acct.IssueSigningScript(acct, def, "2of3 target")
	require.NoError(t, err)

	fundingTx := wire.NewMsgTx(wire.TxVersion)
	fundingTx.AddTxIn(wire.NewTxIn(&wire.OutPoint{}, nil, nil))
	fundingTx.AddTxOut(wire.NewTxOut(100000, issued.TxOutScript()))
	_, err = r.tx.InsertTx(fundingTx)
	require.NoError(t, err)

	spendTx := wire.NewMsgTx(wire.TxVersion)
	spendTx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Hash: fundingTx.TxHash(), Index: 0}, nil, nil))
	spendTx.TxIn[0].SignatureScript = issued.TxInScript()
	spendTx.AddTxOut(wire.NewTxOut(90000, []byte{0x6a}))
	inserted, err := r.tx.InsertTx(spendTx)
	require.NoError(t, err)

	req, err := r.tx.GetSigningRequest(inserted.UnsignedHash())
	require.NoError(t, err)
	require.Equal(t, 3, req.SigsStillNeeded, "n=3 placeholders are all empty before any signature")
	names := make([]string, len(req.Signers))
	for i, s := range req.Signers {
		names[i] = s.KeychainName
	}
	require.ElementsMatch(t, []string{"g1", "g2", "g3"}, names)

	require.NoError(t, r.kc.UnlockPrivateKey("g1", r.pkey["g1"]))
	afterOne, err := r.tx.SignTx(inserted.UnsignedHash(), true)
	require.NoError(t, err)
	require.Equal(t, store.TxUnsigned, afterOne.Status())

	reqAfter, err := r.tx.GetSigningRequest(inserted.UnsignedHash())
	require.NoError(t, err)
	require.Equal(t, 2, reqAfter.SigsStillNeeded)
	namesAfter := make([]string, len(reqAfter.Signers))
	for i, s := range reqAfter.Signers {
		namesAfter[i] = s.KeychainName
	}
	require.ElementsMatch(t, []string{"g2", "g3"}, namesAfter, "g1 already contributed, it drops off the outstanding list")
}

// TestInsertTxRoundTripsRawBytesExactly is spec.md section 8's
// insert-then-fetch round-trip law: get_tx(unsigned_hash) after
// insert(insert=true) returns the identical byte-level raw transaction
// that was handed in, not a re-serialized equivalent.
func TestInsertTxRoundTripsRawBytesExactly(t *testing.T) {
	r := newTestRig(t)
	r.makePrivateKeychain(t, "rt")
	acct, err := r.acct.NewAccount("roundtrip", 1, []string{"rt"}, 2, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	def, err := r.acct.BinByName(acct, account.DefaultBinName)
	require.NoError(t, err)
	issued, err := r.acct.IssueSigningScript(acct, def, "funded")
	require.NoError(t, err)

	fundingTx := wire.NewMsgTx(wire.TxVersion)
	fundingTx.AddTxIn(wire.NewTxIn(&wire.OutPoint{}, nil, nil))
	fundingTx.AddTxOut(wire.NewTxOut(100000, issued.TxOutScript()))
	fundingTx.LockTime = 42

	inserted, err := r.tx.InsertTx(fundingTx)
	require.NoError(t, err)
	require.NotNil(t, inserted)

	var want bytes.Buffer
	require.NoError(t, fundingTx.Serialize(&want))

	fetched, err := r.tx.ByUnsignedHash(inserted.UnsignedHash())
	require.NoError(t, err)
	require.Equal(t, want.Bytes(), fetched.RawTx(), "stored raw bytes must match the serialized input exactly")
}

// TestReSigningCompletedTxIsNoOp covers spec.md section 8's re-sign
// idempotency law: signing an already-fully-signed tx makes no
// further change (no new signatures to add, status untouched).
func TestReSigningCompletedTxIsNoOp(t *testing.T) {
	r := newTestRig(t)
	r.makePrivateKeychain(t, "solo-rt")
	acct, err := r.acct.NewAccount("solo-rt-acct", 1, []string{"solo-rt"}, 2, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	def, err := r.acct.BinByName(acct, account.DefaultBinName)
	require.NoError(t, err)
	issued, err := r.acct.IssueSigningScript(acct, def, "funded")
	require.NoError(t, err)

	fundingTx := wire.NewMsgTx(wire.TxVersion)
	fundingTx.AddTxIn(wire.NewTxIn(&wire.OutPoint{}, nil, nil))
	fundingTx.AddTxOut(wire.NewTxOut(100000, issued.TxOutScript()))
	funding, err := r.tx.InsertTx(fundingTx)
	require.NoError(t, err)

	spendTx := wire.NewMsgTx(wire.TxVersion)
	spendTx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Hash: fundingTx.TxHash(), Index: 0}, nil, nil))
	spendTx.TxIn[0].SignatureScript = issued.TxInScript()
	spendTx.AddTxOut(wire.NewTxOut(90000, []byte{0x6a}))
	spend, err := r.tx.InsertTx(spendTx)
	require.NoError(t, err)

	first, err := r.tx.SignTx(spend.UnsignedHash(), true)
	require.NoError(t, err)
	require.Equal(t, store.TxUnsent, first.Status(), "m=1: a single signature already completes the script")

	second, err := r.tx.SignTx(spend.UnsignedHash(), true)
	require.NoError(t, err)
	require.Equal(t, store.TxUnsent, second.Status())
	require.Equal(t, first.RawTx(), second.RawTx(), "re-signing a completed tx changes nothing")

	_ = funding
}

func scriptsOfBin(t *testing.T, r *testRig, bin *account.Bin) []*account.Script {
	t.Helper()
	rows, err := r.tx.sess.SigningScriptView(nil, binIDPtr(bin.ID()), nil)
	require.NoError(t, err)
	out := make([]*account.Script, len(rows))
	for i, row := range rows {
		out[i] = account.FromRowScript(row)
	}
	return out
}

func binIDPtr(id int64) *int64 { return &id }

func outsOfTx(t *testing.T, r *testRig, tx *Tx) ([]*store.TxOut, error) {
	t.Helper()
	return r.tx.sess.TxOuts(tx.ID())
}
