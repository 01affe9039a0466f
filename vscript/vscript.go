// Package vscript implements spec.md component D: construction and
// parsing of pay-to-script-hash multisig txin/txout scripts, and the
// signature-merge logic the transaction engine drives.
package vscript

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/moneymikec/mSIGNA/cryptosvc"
)

// BuildRedeemScript constructs the bare m-of-n CHECKMULTISIG script
// from pubKeys in the given order. Order matters: it determines both
// the script hash and the signature order every EDIT-form placeholder
// slot is keyed to.
func BuildRedeemScript(pubKeys []*btcec.PublicKey, m int) ([]byte, error) {
	if m <= 0 || m > len(pubKeys) || len(pubKeys) > 15 {
		return nil, fmt.Errorf("vscript: invalid m-of-n: %d-of-%d", m, len(pubKeys))
	}
	builder := txscript.NewScriptBuilder()
	builder.AddInt64(int64(m))
	for _, pub := range pubKeys {
		builder.AddData(pub.SerializeCompressed())
	}
	builder.AddInt64(int64(len(pubKeys)))
	builder.AddOp(txscript.OP_CHECKMULTISIG)
	return builder.Script()
}

// BuildOutputScript wraps redeemScript as a standard P2SH output
// script: OP_HASH160 <hash160(redeemScript)> OP_EQUAL.
func BuildOutputScript(redeemScript []byte) ([]byte, error) {
	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_HASH160)
	builder.AddData(cryptosvc.Hash160(redeemScript))
	builder.AddOp(txscript.OP_EQUAL)
	return builder.Script()
}

// BuildEditForm produces the initial, fully-unsigned EDIT-form txin
// script for a freshly issued SigningScript: one empty placeholder
// push per pubkey (ScriptBuilder encodes a nil push as OP_0),
// followed by the redeem script itself. This is never a valid,
// broadcastable scriptSig — merge_sigs and BuildBroadcastForm turn it
// into one.
func BuildEditForm(redeemScript []byte, nPubKeys int) ([]byte, error) {
	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_FALSE)
	for i := 0; i < nPubKeys; i++ {
		builder.AddData(nil)
	}
	builder.AddData(redeemScript)
	return builder.Script()
}

// parsed is the decomposed form of an EDIT-form script: the leading
// OP_FALSE dummy, one placeholder slot per redeem-script pubkey
// (empty when missing), and the trailing redeem script.
type parsed struct {
	placeholders [][]byte
	redeemScript []byte
	pubKeys      []*btcec.PublicKey
	m            int
}

func parseEditForm(script []byte) (*parsed, error) {
	pushes, err := txscript.PushedData(script)
	if err != nil {
		return nil, fmt.Errorf("vscript: parse edit form: %w", err)
	}
	// pushes[0] is the leading OP_FALSE CHECKMULTISIG dummy, itself
	// indistinguishable on the wire from an empty placeholder push;
	// positionally it is always the dummy, never a signature slot.
	if len(pushes) < 3 {
		return nil, fmt.Errorf("vscript: edit form too short")
	}
	redeemScript := pushes[len(pushes)-1]
	placeholders := pushes[1 : len(pushes)-1]

	pubKeys, m, err := ExtractRedeemScript(redeemScript)
	if err != nil {
		return nil, err
	}
	if len(placeholders) != len(pubKeys) {
		return nil, fmt.Errorf("vscript: placeholder count %d does not match pubkey count %d",
			len(placeholders), len(pubKeys))
	}
	return &parsed{placeholders: placeholders, redeemScript: redeemScript, pubKeys: pubKeys, m: m}, nil
}

// ExtractRedeemScript decomposes a bare CHECKMULTISIG redeem script
// back into its ordered pubkeys and threshold.
func ExtractRedeemScript(redeemScript []byte) ([]*btcec.PublicKey, int, error) {
	pushes, err := txscript.PushedData(redeemScript)
	if err != nil {
		return nil, 0, fmt.Errorf("vscript: parse redeem script: %w", err)
	}

	pubKeys := make([]*btcec.PublicKey, len(pushes))
	for i, raw := range pushes {
		pub, err := btcec.ParsePubKey(raw)
		if err != nil {
			return nil, 0, fmt.Errorf("vscript: parse pubkey %d: %w", i, err)
		}
		pubKeys[i] = pub
	}
	m, err := redeemScriptM(redeemScript)
	if err != nil {
		return nil, 0, err
	}
	return pubKeys, m, nil
}

// redeemScriptM reads the leading small-integer push (OP_1..OP_16) of
// a bare multisig redeem script.
func redeemScriptM(redeemScript []byte) (int, error) {
	if len(redeemScript) == 0 {
		return 0, fmt.Errorf("vscript: empty redeem script")
	}
	op := redeemScript[0]
	if op >= txscript.OP_1 && op <= txscript.OP_16 {
		return int(op-txscript.OP_1) + 1, nil
	}
	return 0, fmt.Errorf("vscript: redeem script does not start with a small integer push")
}

// MissingSigners returns the pubkeys of parsed's still-empty
// placeholder slots, in redeem-script order.
func MissingSigners(editFormScript []byte) ([]*btcec.PublicKey, error) {
	p, err := parseEditForm(editFormScript)
	if err != nil {
		return nil, err
	}
	var missing []*btcec.PublicKey
	for i, ph := range p.placeholders {
		if len(ph) == 0 {
			missing = append(missing, p.pubKeys[i])
		}
	}
	return missing, nil
}

// SignaturesPresent reports how many of an EDIT-form script's
// placeholder slots are filled.
func SignaturesPresent(editFormScript []byte) (int, error) {
	p, err := parseEditForm(editFormScript)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, ph := range p.placeholders {
		if len(ph) > 0 {
			n++
		}
	}
	return n, nil
}

// IsComplete reports whether at least m of editFormScript's signature
// slots are filled. The slot contents are not verified against any
// pubkey or signing digest.
func IsComplete(editFormScript []byte) (bool, error) {
	p, err := parseEditForm(editFormScript)
	if err != nil {
		return false, err
	}
	n := 0
	for _, ph := range p.placeholders {
		if len(ph) > 0 {
			n++
		}
	}
	return n >= p.m, nil
}

// AddSignature fills pubKey's placeholder slot in editFormScript with
// derSig (DER signature with trailing sighash byte already appended).
// pubKey must appear in the underlying redeem script.
func AddSignature(editFormScript []byte, pubKey *btcec.PublicKey, derSig []byte) ([]byte, error) {
	p, err := parseEditForm(editFormScript)
	if err != nil {
		return nil, err
	}
	pubBytes := pubKey.SerializeCompressed()
	found := false
	for i, pk := range p.pubKeys {
		if bytes.Equal(pk.SerializeCompressed(), pubBytes) {
			p.placeholders[i] = derSig
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("vscript: pubkey is not a signer of this script")
	}
	return rebuildEditForm(p)
}

// MergeSigs merges two EDIT-form scripts for the same redeem script,
// filling any placeholder present (non-empty) in b but empty in a.
// Returns the merged script and whether any new signature was added.
func MergeSigs(a, b []byte) ([]byte, bool, error) {
	pa, err := parseEditForm(a)
	if err != nil {
		return nil, false, err
	}
	pb, err := parseEditForm(b)
	if err != nil {
		return nil, false, err
	}
	if !bytes.Equal(pa.redeemScript, pb.redeemScript) {
		return nil, false, fmt.Errorf("vscript: merge_sigs: redeem script mismatch")
	}
	changed := false
	for i := range pa.placeholders {
		if len(pa.placeholders[i]) == 0 && len(pb.placeholders[i]) > 0 {
			pa.placeholders[i] = pb.placeholders[i]
			changed = true
		}
	}
	merged, err := rebuildEditForm(pa)
	if err != nil {
		return nil, false, err
	}
	return merged, changed, nil
}

func rebuildEditForm(p *parsed) ([]byte, error) {
	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_FALSE)
	for _, ph := range p.placeholders {
		builder.AddData(ph)
	}
	builder.AddData(p.redeemScript)
	return builder.Script()
}

// BuildBroadcastForm converts a complete EDIT-form script into the
// standard network scriptSig: OP_0 followed by exactly the filled
// signatures in redeem-script pubkey order, then the redeem script.
// Fails if fewer than m signatures are present.
func BuildBroadcastForm(editFormScript []byte) ([]byte, error) {
	p, err := parseEditForm(editFormScript)
	if err != nil {
		return nil, err
	}
	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_FALSE)
	n := 0
	for _, ph := range p.placeholders {
		if len(ph) == 0 {
			continue
		}
		builder.AddData(ph)
		n++
	}
	if n < p.m {
		return nil, fmt.Errorf("vscript: only %d of %d required signatures present", n, p.m)
	}
	builder.AddData(p.redeemScript)
	return builder.Script()
}

// SigningDigest computes the legacy SIGHASH_ALL digest for input idx
// of tx, substituting redeemScript as the subscript per the P2SH
// sighash rule (BIP16).
func SigningDigest(tx *wire.MsgTx, idx int, redeemScript []byte) ([]byte, error) {
	return txscript.CalcSignatureHash(redeemScript, txscript.SigHashAll, tx, idx)
}

// NormalizeToEditForm rewrites an externally observed txin script into
// this package's canonical EDIT form. The script may already be EDIT
// form (this package's own partially-signed scripts round-trip
// unchanged) or a fully assembled BROADCAST-form scriptSig, which
// never records which of the n possible signers produced each
// signature; each present signature is placed into the slot of the
// pubkey it actually verifies against.
func NormalizeToEditForm(tx *wire.MsgTx, idx int, script []byte) ([]byte, error) {
	if p, err := parseEditForm(script); err == nil {
		return rebuildEditForm(p)
	}

	pushes, err := txscript.PushedData(script)
	if err != nil {
		return nil, fmt.Errorf("vscript: normalize: %w", err)
	}
	if len(pushes) < 2 {
		return nil, fmt.Errorf("vscript: normalize: script too short")
	}
	redeemScript := pushes[len(pushes)-1]
	sigs := pushes[1 : len(pushes)-1]

	pubKeys, m, err := ExtractRedeemScript(redeemScript)
	if err != nil {
		return nil, err
	}
	digest, err := SigningDigest(tx, idx, redeemScript)
	if err != nil {
		return nil, err
	}

	placeholders := make([][]byte, len(pubKeys))
	claimed := make([]bool, len(pubKeys))
	for _, sig := range sigs {
		if len(sig) == 0 {
			continue
		}
		derSig := sig[:len(sig)-1]
		for i, pub := range pubKeys {
			if claimed[i] {
				continue
			}
			if cryptosvc.Verify(pub, digest, derSig) {
				placeholders[i] = sig
				claimed[i] = true
				break
			}
		}
	}
	return rebuildEditForm(&parsed{placeholders: placeholders, redeemScript: redeemScript, pubKeys: pubKeys, m: m})
}

// RedeemScriptOf extracts the trailing redeem-script push from an
// EDIT- or BROADCAST-form script, used by the tx engine to recover it
// without re-deriving from the account's keychains.
func RedeemScriptOf(script []byte) ([]byte, error) {
	pushes, err := txscript.PushedData(script)
	if err != nil {
		return nil, err
	}
	if len(pushes) == 0 {
		return nil, fmt.Errorf("vscript: no pushes in script")
	}
	return pushes[len(pushes)-1], nil
}

// CanonicalKeyOrder sorts pubKeys by their compressed serialization,
// the deterministic ordering new_account and refill_bin_pool use so
// that independently-derived child keys from the same set of
// keychains always produce the same redeem script regardless of
// keychain insertion order.
func CanonicalKeyOrder(pubKeys []*btcec.PublicKey) []*btcec.PublicKey {
	out := make([]*btcec.PublicKey, len(pubKeys))
	copy(out, pubKeys)
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].SerializeCompressed(), out[j].SerializeCompressed()) < 0
	})
	return out
}
