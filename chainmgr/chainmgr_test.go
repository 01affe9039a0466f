package chainmgr

import (
	"crypto/sha256"
	"strconv"
	"testing"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/moneymikec/mSIGNA/account"
	"github.com/moneymikec/mSIGNA/internal/secret"
	"github.com/moneymikec/mSIGNA/internal/sqltest"
	"github.com/moneymikec/mSIGNA/keychain"
	"github.com/moneymikec/mSIGNA/store"
	"github.com/moneymikec/mSIGNA/txengine"
)

func hashFor(label string) []byte {
	h := sha256.Sum256([]byte(label))
	return h[:]
}

// seedGenesis plants a checkpoint header directly through the session,
// bypassing InsertMerkleBlock's orphan check: a brand new vault has no
// confirmed tx yet, so HorizonTimestampView's zero-value horizon would
// otherwise refuse even the very first header as "too new to trust".
// Real deployments seed this checkpoint out of band (a hardcoded
// height/hash pair); the test does the same thing explicitly.
func seedGenesis(t *testing.T, sess *store.Session, ts time.Time) *store.BlockHeader {
	t.Helper()
	h, err := sess.InsertHeader(&store.BlockHeader{
		Hash:      hashFor("genesis"),
		PrevHash:  make([]byte, 32),
		Timestamp: ts,
		Height:    0,
	})
	require.NoError(t, err)
	return h
}

func connect(t *testing.T, s *Store, label string, prevHash []byte, height int32, ts time.Time, txHashes [][]byte) *store.BlockHeader {
	t.Helper()
	mb := &MerkleBlock{
		Header: Header{
			Hash:      hashFor(label),
			PrevHash:  prevHash,
			Timestamp: ts,
			Height:    height,
		},
		TxHashes: txHashes,
	}
	ok, err := s.InsertMerkleBlock(mb)
	require.NoError(t, err)
	require.True(t, ok, "connect %s at height %d", label, height)

	h, err := s.sess.HeaderByHash(hashFor(label))
	require.NoError(t, err)
	return h
}

func TestReorgAtHeightErasesStaleHeadersAndUnconfirmsTx(t *testing.T) {
	db := sqltest.NewSQLiteDB(t)
	sess, err := db.Begin()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Rollback() })

	kc := keychain.New(sess, keychain.NewUnlockMaps())
	acctStore := account.New(sess, kc)
	txStore := txengine.New(sess, kc, acctStore)
	chain := New(sess)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	genesis := seedGenesis(t, sess, base)

	ccKey := secret.New([]byte("cc-reorg"))
	_, err = kc.NewKeychain("reorg-kc", []byte("entropy pad for reorg test, 16+"), []byte("salt"), ccKey, nil)
	require.NoError(t, err)
	acct, err := acctStore.NewAccount("reorg-acct", 1, []string{"reorg-kc"}, 2, base)
	require.NoError(t, err)
	def, err := acctStore.BinByName(acct, account.DefaultBinName)
	require.NoError(t, err)
	issued, err := acctStore.IssueSigningScript(acct, def, "funded")
	require.NoError(t, err)

	fundingTx := wire.NewMsgTx(wire.TxVersion)
	fundingTx.AddTxIn(wire.NewTxIn(&wire.OutPoint{}, nil, nil))
	fundingTx.AddTxOut(wire.NewTxOut(100000, issued.TxOutScript()))
	funding, err := txStore.InsertTx(fundingTx)
	require.NoError(t, err)
	require.NotNil(t, funding)

	// Connect h1..h10 on top of the seeded genesis; h7 carries
	// fundingTx's txid so update_confirmations links it.
	prev := genesis.Hash
	var h7 *store.BlockHeader
	for height := int32(1); height <= 10; height++ {
		label := "h" + strconv.Itoa(int(height))
		var txHashes [][]byte
		if height == 7 {
			txHashes = [][]byte{funding.Hash()}
		}
		h := connect(t, chain, label, prev, height, base.Add(time.Duration(height)*10*time.Minute), txHashes)
		if height == 7 {
			h7 = h
		}
		prev = h.Hash
	}
	require.NotNil(t, h7)

	best, err := chain.BestHeight()
	require.NoError(t, err)
	require.Equal(t, int32(10), best)

	bestConfirmed, err := chain.BestConfirmedHeight()
	require.NoError(t, err)
	require.Equal(t, int32(7), bestConfirmed)

	reloadedFunding, err := sess.TxByID(funding.ID())
	require.NoError(t, err)
	require.NotNil(t, reloadedFunding.BlockID)
	require.Equal(t, h7.ID, *reloadedFunding.BlockID)

	h6, err := sess.HeaderByHash(hashFor("h6"))
	require.NoError(t, err)

	// A competing block at height 7, same parent (h6) as the original
	// h7, different hash: this is the reorg trigger.
	connect(t, chain, "h7-fork", h6.Hash, 7, base.Add(71*time.Minute), nil)

	bestAfter, err := chain.BestHeight()
	require.NoError(t, err)
	require.Equal(t, int32(7), bestAfter, "heights 8..10 were erased by the reorg")

	for height := int32(8); height <= 10; height++ {
		label := "h" + strconv.Itoa(int(height))
		_, err := sess.HeaderByHash(hashFor(label))
		require.ErrorIs(t, err, store.ErrNotFound, "%s must be erased", label)
	}
	_, err = sess.HeaderByHash(hashFor("h7"))
	require.ErrorIs(t, err, store.ErrNotFound, "the original h7 must be erased")

	newH7, err := sess.HeaderByHash(hashFor("h7-fork"))
	require.NoError(t, err)
	require.Equal(t, int32(7), newH7.Height)

	reloadedAfterReorg, err := sess.TxByID(funding.ID())
	require.NoError(t, err)
	require.Nil(t, reloadedAfterReorg.BlockID, "the tx that was confirmed in the erased h7 becomes unconfirmed")

	bestConfirmedAfter, err := chain.BestConfirmedHeight()
	require.NoError(t, err)
	require.Equal(t, int32(0), bestConfirmedAfter)
}

func TestInsertMerkleBlockRefusesOrphanNearSyncHorizon(t *testing.T) {
	db := sqltest.NewSQLiteDB(t)
	sess, err := db.Begin()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Rollback() })

	chain := New(sess)

	// No predecessor stored and no confirmed tx to establish a horizon:
	// the orphan is refused rather than silently accepted.
	mb := &MerkleBlock{
		Header: Header{
			Hash:      hashFor("dangling"),
			PrevHash:  hashFor("missing-parent"),
			Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			Height:    500,
		},
	}
	ok, err := chain.InsertMerkleBlock(mb)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = sess.HeaderByHash(hashFor("dangling"))
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestInsertMerkleBlockIsIdempotentOnDuplicateHash(t *testing.T) {
	db := sqltest.NewSQLiteDB(t)
	sess, err := db.Begin()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Rollback() })

	chain := New(sess)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	genesis := seedGenesis(t, sess, base)

	connect(t, chain, "dup", genesis.Hash, 1, base.Add(time.Minute), nil)

	mb := &MerkleBlock{
		Header: Header{
			Hash:      hashFor("dup"),
			PrevHash:  genesis.Hash,
			Timestamp: base.Add(time.Minute),
			Height:    1,
		},
	}
	ok, err := chain.InsertMerkleBlock(mb)
	require.NoError(t, err)
	require.False(t, ok, "a block already stored by hash is not reconnected")
}
