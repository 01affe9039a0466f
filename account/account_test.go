package account

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/moneymikec/mSIGNA/internal/secret"
	"github.com/moneymikec/mSIGNA/internal/sqltest"
	"github.com/moneymikec/mSIGNA/keychain"
	"github.com/moneymikec/mSIGNA/store"
)

func newTestStores(t *testing.T) (*keychain.Store, *Store) {
	t.Helper()
	db := sqltest.NewSQLiteDB(t)
	sess, err := db.Begin()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Rollback() })

	kc := keychain.New(sess, keychain.NewUnlockMaps())
	return kc, New(sess, kc)
}

func makeKeychain(t *testing.T, kc *keychain.Store, name string) *keychain.Keychain {
	t.Helper()
	ccKey := secret.New([]byte("unlock-" + name))
	k, err := kc.NewKeychain(name, []byte("entropy for "+name+", 16+ bytes pad"), []byte("salt-"+name), ccKey, nil)
	require.NoError(t, err)
	return k
}

func TestNewAccountCreatesChangeAndDefaultBins(t *testing.T) {
	kc, acctStore := newTestStores(t)
	makeKeychain(t, kc, "k1")
	makeKeychain(t, kc, "k2")
	makeKeychain(t, kc, "k3")

	acct, err := acctStore.NewAccount("treasury", 2, []string{"k1", "k2", "k3"}, 5, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, 2, acct.M())
	require.Equal(t, 3, acct.N())

	change, err := acctStore.ChangeBin(acct)
	require.NoError(t, err)
	require.True(t, change.IsChange())

	def, err := acctStore.BinByName(acct, DefaultBinName)
	require.NoError(t, err)
	require.False(t, def.IsChange())

	bins, err := acctStore.Bins(acct)
	require.NoError(t, err)
	require.Len(t, bins, 2)
}

func TestNewAccountRejectsLockedChainCode(t *testing.T) {
	kc, acctStore := newTestStores(t)
	makeKeychain(t, kc, "locked1")
	makeKeychain(t, kc, "locked2")
	kc.LockChainCode("locked1")

	_, err := acctStore.NewAccount("blocked", 2, []string{"locked1", "locked2"}, 3, time.Now().Truncate(0))
	require.Error(t, err)
}

func TestIssueSigningScriptRefusesChangeBin(t *testing.T) {
	kc, acctStore := newTestStores(t)
	makeKeychain(t, kc, "a1")
	makeKeychain(t, kc, "a2")
	acct, err := acctStore.NewAccount("acct", 2, []string{"a1", "a2"}, 3, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	change, err := acctStore.ChangeBin(acct)
	require.NoError(t, err)
	_, err = acctStore.IssueSigningScript(acct, change, "nope")
	require.Error(t, err)
}

func TestIssueSigningScriptPromotesSmallestUnusedIndex(t *testing.T) {
	kc, acctStore := newTestStores(t)
	makeKeychain(t, kc, "b1")
	makeKeychain(t, kc, "b2")
	acct, err := acctStore.NewAccount("acct2", 2, []string{"b1", "b2"}, 2, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	def, err := acctStore.BinByName(acct, DefaultBinName)
	require.NoError(t, err)

	first, err := acctStore.IssueSigningScript(acct, def, "first recipient")
	require.NoError(t, err)
	require.Equal(t, uint32(0), first.Index())
	require.Equal(t, store.ScriptIssued, first.Status())

	second, err := acctStore.IssueSigningScript(acct, def, "second recipient")
	require.NoError(t, err)
	require.Equal(t, uint32(1), second.Index())

	found, err := acctStore.FindScriptByTxOutScript(first.TxOutScript())
	require.NoError(t, err)
	require.Equal(t, first.ID(), found.ID())
}

func TestRefillBinPoolToppsUpAfterIssuance(t *testing.T) {
	kc, acctStore := newTestStores(t)
	makeKeychain(t, kc, "c1")
	makeKeychain(t, kc, "c2")
	acct, err := acctStore.NewAccount("acct3", 2, []string{"c1", "c2"}, 1, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	def, err := acctStore.BinByName(acct, DefaultBinName)
	require.NoError(t, err)

	_, err = acctStore.IssueSigningScript(acct, def, "uses the one pooled script")
	require.NoError(t, err)

	// IssueSigningScript refills before selecting, so a second issuance
	// must still succeed even though poolSize was only 1.
	_, err = acctStore.IssueSigningScript(acct, def, "second issuance after refill")
	require.NoError(t, err)
}

func TestAccountContentHashIsStableForSameOrder(t *testing.T) {
	_, hashes1 := contentHashForOrder(t, "run1", []string{"x1", "x2", "x3"})
	_, hashes2 := contentHashForOrder(t, "run2", []string{"x1", "x2", "x3"})
	require.Equal(t, hashes1, hashes2, "identical keychains in identical order must hash identically")
}

func contentHashForOrder(t *testing.T, dbTag string, names []string) (*keychain.Store, []byte) {
	t.Helper()
	kc, acctStore := newTestStores(t)
	for _, n := range names {
		makeKeychain(t, kc, n)
	}
	acct, err := acctStore.NewAccount("hash-test-"+dbTag, 2, names, 1, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return kc, acct.ContentHash()
}
