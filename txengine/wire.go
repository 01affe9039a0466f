package txengine

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/wire"

	"github.com/moneymikec/mSIGNA/cryptosvc"
)

// serializeTx encodes tx to raw wire bytes.
func serializeTx(tx *wire.MsgTx) ([]byte, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("serialize tx: %w", err)
	}
	return buf.Bytes(), nil
}

// deserializeTx decodes raw wire bytes into a MsgTx.
func deserializeTx(raw []byte) (*wire.MsgTx, error) {
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("deserialize tx: %w", err)
	}
	return tx, nil
}

// unsignedHash computes spec.md's "unsigned hash": the double-SHA256
// of tx with every input's script replaced by a canonical empty
// placeholder, stable across the signing process.
func unsignedHash(tx *wire.MsgTx) []byte {
	clone := tx.Copy()
	for _, in := range clone.TxIn {
		in.SignatureScript = nil
	}
	raw, err := serializeTx(clone)
	if err != nil {
		// tx.Copy() always produces a serializable clone of an
		// already-validated MsgTx; a failure here means the in-memory
		// tx was already malformed before reaching this package.
		panic(fmt.Sprintf("txengine: unsigned hash: %v", err))
	}
	h := cryptosvc.DoubleSHA256(raw)
	return h[:]
}

// txid computes the standard double-SHA256 txid over tx's current,
// possibly only partially signed, serialized form.
func txid(tx *wire.MsgTx) []byte {
	h := tx.TxHash()
	return h[:]
}
