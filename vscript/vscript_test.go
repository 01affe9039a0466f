package vscript

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/moneymikec/mSIGNA/cryptosvc"
)

func testKeys(t *testing.T, n int) ([]*btcec.PrivateKey, []*btcec.PublicKey) {
	t.Helper()
	privs := make([]*btcec.PrivateKey, n)
	pubs := make([]*btcec.PublicKey, n)
	for i := 0; i < n; i++ {
		priv, err := btcec.NewPrivateKey()
		require.NoError(t, err)
		privs[i] = priv
		pubs[i] = priv.PubKey()
	}
	return privs, pubs
}

func testFundingTx(t *testing.T, outputScript []byte) *wire.MsgTx {
	t.Helper()
	fundingTx := wire.NewMsgTx(wire.TxVersion)
	fundingTx.AddTxOut(wire.NewTxOut(100000, outputScript))

	spendingTx := wire.NewMsgTx(wire.TxVersion)
	spendingTx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Hash: fundingTx.TxHash(), Index: 0}, nil, nil))
	spendingTx.AddTxOut(wire.NewTxOut(90000, outputScript))
	return spendingTx
}

func TestBuildRedeemScriptRejectsInvalidThreshold(t *testing.T) {
	_, pubs := testKeys(t, 3)

	_, err := BuildRedeemScript(pubs, 0)
	require.Error(t, err)

	_, err = BuildRedeemScript(pubs, 4)
	require.Error(t, err)
}

func TestEditFormRoundTripsThroughSigning(t *testing.T) {
	privs, pubs := testKeys(t, 3)

	redeemScript, err := BuildRedeemScript(pubs, 2)
	require.NoError(t, err)
	outputScript, err := BuildOutputScript(redeemScript)
	require.NoError(t, err)
	require.Equal(t, txscript.ScriptHashTy, scriptClass(t, outputScript))

	editForm, err := BuildEditForm(redeemScript, len(pubs))
	require.NoError(t, err)

	missing, err := MissingSigners(editForm)
	require.NoError(t, err)
	require.Len(t, missing, len(pubs))

	complete, err := IsComplete(editForm)
	require.NoError(t, err)
	require.False(t, complete)

	tx := testFundingTx(t, outputScript)
	digest, err := SigningDigest(tx, 0, redeemScript)
	require.NoError(t, err)

	sig0 := append(cryptosvc.Sign(privs[0], digest), byte(txscript.SigHashAll))
	editForm, err = AddSignature(editForm, pubs[0], sig0)
	require.NoError(t, err)

	n, err := SignaturesPresent(editForm)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	complete, err = IsComplete(editForm)
	require.NoError(t, err)
	require.False(t, complete, "only 1 of 2 required signatures present")

	sig2 := append(cryptosvc.Sign(privs[2], digest), byte(txscript.SigHashAll))
	editForm, err = AddSignature(editForm, pubs[2], sig2)
	require.NoError(t, err)

	complete, err = IsComplete(editForm)
	require.NoError(t, err)
	require.True(t, complete)

	broadcast, err := BuildBroadcastForm(editForm)
	require.NoError(t, err)

	tx.TxIn[0].SignatureScript = broadcast
	vm, err := txscript.NewEngine(outputScript, tx, 0,
		txscript.StandardVerifyFlags, nil, nil, 100000, nil)
	require.NoError(t, err)
	require.NoError(t, vm.Execute())
}

func TestMergeSigsCombinesDisjointSlots(t *testing.T) {
	privs, pubs := testKeys(t, 3)
	redeemScript, err := BuildRedeemScript(pubs, 2)
	require.NoError(t, err)
	outputScript, err := BuildOutputScript(redeemScript)
	require.NoError(t, err)
	tx := testFundingTx(t, outputScript)
	digest, err := SigningDigest(tx, 0, redeemScript)
	require.NoError(t, err)

	base, err := BuildEditForm(redeemScript, len(pubs))
	require.NoError(t, err)

	sig0 := append(cryptosvc.Sign(privs[0], digest), byte(txscript.SigHashAll))
	a, err := AddSignature(base, pubs[0], sig0)
	require.NoError(t, err)

	sig1 := append(cryptosvc.Sign(privs[1], digest), byte(txscript.SigHashAll))
	b, err := AddSignature(base, pubs[1], sig1)
	require.NoError(t, err)

	merged, changed, err := MergeSigs(a, b)
	require.NoError(t, err)
	require.True(t, changed)

	n, err := SignaturesPresent(merged)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	// Merging again changes nothing further.
	_, changedAgain, err := MergeSigs(merged, b)
	require.NoError(t, err)
	require.False(t, changedAgain)
}

func TestMergeSigsRejectsMismatchedRedeemScript(t *testing.T) {
	_, pubsA := testKeys(t, 3)
	_, pubsB := testKeys(t, 3)
	redeemA, err := BuildRedeemScript(pubsA, 2)
	require.NoError(t, err)
	redeemB, err := BuildRedeemScript(pubsB, 2)
	require.NoError(t, err)

	editA, err := BuildEditForm(redeemA, 3)
	require.NoError(t, err)
	editB, err := BuildEditForm(redeemB, 3)
	require.NoError(t, err)

	_, _, err = MergeSigs(editA, editB)
	require.Error(t, err)
}

func TestNormalizeToEditFormRecoversPlaceholderSlots(t *testing.T) {
	privs, pubs := testKeys(t, 3)
	redeemScript, err := BuildRedeemScript(pubs, 2)
	require.NoError(t, err)
	outputScript, err := BuildOutputScript(redeemScript)
	require.NoError(t, err)
	tx := testFundingTx(t, outputScript)
	digest, err := SigningDigest(tx, 0, redeemScript)
	require.NoError(t, err)

	base, err := BuildEditForm(redeemScript, len(pubs))
	require.NoError(t, err)
	sig0 := append(cryptosvc.Sign(privs[0], digest), byte(txscript.SigHashAll))
	edit, err := AddSignature(base, pubs[0], sig0)
	require.NoError(t, err)
	sig2 := append(cryptosvc.Sign(privs[2], digest), byte(txscript.SigHashAll))
	edit, err = AddSignature(edit, pubs[2], sig2)
	require.NoError(t, err)

	broadcast, err := BuildBroadcastForm(edit)
	require.NoError(t, err)

	normalized, err := NormalizeToEditForm(tx, 0, broadcast)
	require.NoError(t, err)

	missing, err := MissingSigners(normalized)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	require.Equal(t, pubs[1].SerializeCompressed(), missing[0].SerializeCompressed())

	// Re-normalizing our own EDIT form is a no-op.
	again, err := NormalizeToEditForm(tx, 0, normalized)
	require.NoError(t, err)
	require.Equal(t, normalized, again)
}

func TestCanonicalKeyOrderIsStableUnderPermutation(t *testing.T) {
	_, pubs := testKeys(t, 5)
	shuffled := []*btcec.PublicKey{pubs[3], pubs[0], pubs[4], pubs[1], pubs[2]}

	a := CanonicalKeyOrder(pubs)
	b := CanonicalKeyOrder(shuffled)
	require.Len(t, a, len(pubs))
	for i := range a {
		require.Equal(t, a[i].SerializeCompressed(), b[i].SerializeCompressed())
	}
}

func scriptClass(t *testing.T, script []byte) txscript.ScriptClass {
	t.Helper()
	return txscript.GetScriptClass(script)
}
