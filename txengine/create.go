package txengine

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"

	"github.com/moneymikec/mSIGNA/account"
	"github.com/moneymikec/mSIGNA/internal/vaulterr"
	"github.com/moneymikec/mSIGNA/store"
)

// cspRNG returns a math/rand/v2 source seeded from crypto/rand, used
// for coin- and output-shuffling instead of the wall-clock seconds
// seed spec.md section 9 flags as cryptographically weak.
func cspRNG() *rand.Rand {
	var seed [32]byte
	if _, err := cryptorand.Read(seed[:]); err != nil {
		panic("txengine: reading CSPRNG seed: " + err.Error())
	}
	s1 := binary.LittleEndian.Uint64(seed[0:8])
	s2 := binary.LittleEndian.Uint64(seed[8:16])
	return rand.New(rand.NewPCG(s1, s2))
}

func shuffleOutputs[T any](r *rand.Rand, s []T) {
	r.Shuffle(len(s), func(i, j int) { s[i], s[j] = s[j], s[i] })
}

// CreateTx implements spec.md's create_tx: greedy random coin
// selection against account's UNSPENT outputs, an optional fresh
// change output from account's change bin, and output shuffling.
// outs itself is left as passed; the returned transaction carries the
// final, shuffled output order including any change output. When
// insert is true the built transaction is passed through InsertTx in
// the same persistence transaction.
func (s *Store) CreateTx(acct *account.Account, version int32, locktime uint32, outs []*wire.TxOut, fee uint64, maxChange uint64, insert bool) (*wire.MsgTx, error) {
	candidates, err := s.sess.UnspentOutputsForAccount(acct.ID())
	if err != nil {
		return nil, err
	}

	r := cspRNG()
	shuffleOutputs(r, candidates)

	var outTotal uint64
	for _, o := range outs {
		outTotal += uint64(o.Value)
	}
	target := outTotal + fee

	var selected []*store.TxOut
	var total uint64
	for _, c := range candidates {
		selected = append(selected, c)
		total += c.Value
		if total >= target {
			break
		}
	}
	if total < target {
		return nil, vaulterr.New(vaulterr.ErrAccountInsufficientFunds,
			"insufficient funds for requested outputs plus fee", nil)
	}

	tx := wire.NewMsgTx(version)
	tx.LockTime = locktime
	for _, c := range selected {
		parent, err := s.sess.TxByID(c.TxID)
		if err != nil {
			return nil, err
		}
		hash, err := chainhash.NewHash(parent.Hash)
		if err != nil {
			return nil, err
		}
		// Seed the input with its signing script's unsigned EDIT-form
		// template: sign_tx reads the missing-signer slots out of the
		// scriptSig already present, it never builds one from scratch.
		var scriptSig []byte
		if c.SigningScriptID != nil {
			sc, err := s.sess.ScriptByID(*c.SigningScriptID)
			if err != nil {
				return nil, err
			}
			scriptSig = sc.TxInScript
		}
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(hash, c.TxIndex), scriptSig, nil))
	}

	surplus := total - target
	finalOuts := append([]*wire.TxOut(nil), outs...)
	if surplus > 0 {
		changeBin, err := s.acct.ChangeBin(acct)
		if err != nil {
			return nil, err
		}
		dustScript := make([]byte, 23) // worst-case P2SH output size placeholder for the dust check
		if maxChange > 0 && surplus > maxChange {
			// Caller capped the acceptable leftover; folding the
			// surplus into the fee avoids leaking an oversized change
			// output rather than failing the whole creation.
			fee += surplus
		} else if txrules.IsDustOutput(wire.NewTxOut(int64(surplus), dustScript), txrules.DefaultRelayFeePerKb) {
			fee += surplus
		} else {
			changeScript, err := s.acct.IssueChangeScript(acct, changeBin, "")
			if err != nil {
				return nil, err
			}
			finalOuts = append(finalOuts, wire.NewTxOut(int64(surplus), changeScript.TxOutScript()))
		}
	}
	shuffleOutputs(r, finalOuts)
	for _, o := range finalOuts {
		tx.AddTxOut(o)
	}

	if !insert {
		return tx, nil
	}
	if _, err := s.InsertTx(tx); err != nil {
		return nil, err
	}
	return tx, nil
}
