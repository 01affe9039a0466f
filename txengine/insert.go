package txengine

import (
	"time"

	"github.com/btcsuite/btcd/wire"

	"github.com/moneymikec/mSIGNA/account"
	"github.com/moneymikec/mSIGNA/internal/loggers"
	"github.com/moneymikec/mSIGNA/internal/vaulterr"
	"github.com/moneymikec/mSIGNA/store"
	"github.com/moneymikec/mSIGNA/vscript"
)

// normalizeInputs rewrites every input script that parses as a P2SH
// multisig scriptSig (ours or a foreign fully-broadcast copy of it)
// into this package's canonical EDIT form. Inputs spending anything
// else (a plain P2PKH/P2WPKH outpoint we happen to be watching, or an
// empty not-yet-signed script) are left untouched.
func normalizeInputs(tx *wire.MsgTx) {
	for i, in := range tx.TxIn {
		if len(in.SignatureScript) == 0 {
			continue
		}
		norm, err := vscript.NormalizeToEditForm(tx, i, in.SignatureScript)
		if err != nil {
			continue
		}
		in.SignatureScript = norm
	}
}

// recomputeStatus implements insert_tx step 1: UNSIGNED iff some
// recognized multisig input is short of its required signature count.
// Inputs this package doesn't recognize as P2SH multisig (foreign
// spends) don't participate — their completeness isn't ours to judge.
func recomputeStatus(tx *wire.MsgTx) store.TxStatus {
	sawMultisig := false
	complete := true
	for _, in := range tx.TxIn {
		if len(in.SignatureScript) == 0 {
			continue
		}
		ok, err := vscript.IsComplete(in.SignatureScript)
		if err != nil {
			continue
		}
		sawMultisig = true
		if !ok {
			complete = false
		}
	}
	if sawMultisig && !complete {
		return store.TxUnsigned
	}
	return store.TxUnsent
}

// InsertTx runs spec.md's insert_tx algorithm: duplicate reconciliation
// by unsigned hash, conflict detection, UTXO spend linkage, pool
// refill, and confirmation backfill. Returns (nil, nil) when tx is
// either an unrelated foreign transaction or a no-op duplicate.
func (s *Store) InsertTx(tx *wire.MsgTx) (*Tx, error) {
	normalizeInputs(tx)
	status := recomputeStatus(tx)
	uHash := unsignedHash(tx)

	existing, err := s.sess.TxByUnsignedHash(uHash)
	if err != nil && err != store.ErrNotFound {
		return nil, err
	}
	if err == nil {
		return s.reconcileDuplicate(existing, tx, status)
	}
	return s.insertNew(tx, status, uHash)
}

func (s *Store) reconcileDuplicate(existing *store.Tx, tx *wire.MsgTx, incoming store.TxStatus) (*Tx, error) {
	switch {
	case existing.Status == store.TxUnsigned && incoming != store.TxUnsigned:
		ins, err := s.sess.TxIns(existing.ID)
		if err != nil {
			return nil, err
		}
		for i, in := range ins {
			if i >= len(tx.TxIn) {
				break
			}
			in.Script = tx.TxIn[i].SignatureScript
			if err := s.sess.UpdateTxIn(in); err != nil {
				return nil, err
			}
		}
		existing.Status = incoming
		return s.restampAndSave(existing, tx)

	case existing.Status == store.TxUnsigned && incoming == store.TxUnsigned:
		ins, err := s.sess.TxIns(existing.ID)
		if err != nil {
			return nil, err
		}
		changedAny := false
		for i, in := range ins {
			if i >= len(tx.TxIn) {
				continue
			}
			merged, changed, err := vscript.MergeSigs(in.Script, tx.TxIn[i].SignatureScript)
			if err != nil {
				// Not the same redeem script, or not one of ours;
				// this input contributes nothing to the merge.
				continue
			}
			if changed {
				in.Script = merged
				if err := s.sess.UpdateTxIn(in); err != nil {
					return nil, err
				}
				changedAny = true
			}
		}
		if !changedAny {
			return nil, nil
		}
		rebuilt, err := s.materialize(existing)
		if err != nil {
			return nil, err
		}
		existing.Status = recomputeStatus(rebuilt)
		return s.restampAndSave(existing, rebuilt)

	case existing.Status != store.TxUnsigned && incoming != store.TxUnsigned:
		if incoming <= existing.Status {
			return nil, nil
		}
		existing.Status = incoming
		if err := s.sess.UpdateTx(existing); err != nil {
			return nil, err
		}
		return wrapTx(existing), nil

	default:
		// existing.Status != UNSIGNED, incoming == UNSIGNED: a
		// regression the core deliberately ignores.
		return nil, nil
	}
}

// materialize rebuilds a complete *wire.MsgTx for an already-stored Tx
// from its persisted raw bytes, used once scripts have been updated in
// place so the tx's txid/raw form reflects the merge.
func (s *Store) materialize(t *store.Tx) (*wire.MsgTx, error) {
	tx, err := deserializeTx(t.RawTx)
	if err != nil {
		return nil, err
	}
	ins, err := s.sess.TxIns(t.ID)
	if err != nil {
		return nil, err
	}
	for i, in := range ins {
		if i < len(tx.TxIn) {
			tx.TxIn[i].SignatureScript = in.Script
		}
	}
	return tx, nil
}

func (s *Store) restampAndSave(t *store.Tx, tx *wire.MsgTx) (*Tx, error) {
	raw, err := serializeTx(tx)
	if err != nil {
		return nil, err
	}
	t.RawTx = raw
	t.Hash = txid(tx)
	if err := s.sess.UpdateTx(t); err != nil {
		return nil, err
	}
	return wrapTx(t), nil
}

// spendPlan is one input's resolved outpoint, staged until the
// sent_from_vault/sent_to_vault gate confirms the tx is worth
// persisting.
type spendPlan struct {
	txInIndex int
	out       *store.TxOut
}

// scriptPromotion is a staged SigningScript status transition.
type scriptPromotion struct {
	script *store.SigningScript
	status store.ScriptStatus
	bin    *store.AccountBin
}

func (s *Store) insertNew(tx *wire.MsgTx, status store.TxStatus, uHash []byte) (*Tx, error) {
	var (
		sentFromVault    bool
		sentToVault      bool
		sendingAccountID *int64
		haveAllOutpoints = true
		inputTotal       uint64
		spends           []spendPlan
		conflictTxIDs    = map[int64]bool{}
	)

	for i, in := range tx.TxIn {
		out, err := s.sess.TxOutByOutpoint(in.PreviousOutPoint.Hash[:], in.PreviousOutPoint.Index)
		if err == store.ErrNotFound {
			haveAllOutpoints = false
			continue
		}
		if err != nil {
			return nil, err
		}
		inputTotal += out.Value

		if conflicting, err := s.sess.TxInByOutpoint(in.PreviousOutPoint.Hash[:], in.PreviousOutPoint.Index); err == nil {
			conflictTxIDs[conflicting.TxID] = true
		} else if err != store.ErrNotFound {
			return nil, err
		}

		sc, err := s.sess.ScriptByTxOutScript(out.TxOutScript)
		if err == nil {
			sentFromVault = true
			bin, err := s.sess.BinByID(sc.BinID)
			if err != nil {
				return nil, err
			}
			sendingAccountID = &bin.AccountID
			spends = append(spends, spendPlan{txInIndex: i, out: out})
		} else if err != store.ErrNotFound {
			return nil, err
		}
	}

	var outputTotal uint64
	var promotions []scriptPromotion
	outScripts := make([]*store.SigningScript, len(tx.TxOut))
	for i, out := range tx.TxOut {
		outputTotal += uint64(out.Value)
		sc, err := s.sess.ScriptByTxOutScript(out.PkScript)
		if err != nil {
			if err != store.ErrNotFound {
				return nil, err
			}
			continue
		}
		sentToVault = true
		outScripts[i] = sc
		bin, err := s.sess.BinByID(sc.BinID)
		if err != nil {
			return nil, err
		}
		switch sc.Status {
		case store.ScriptUnused:
			next := store.ScriptUsed
			if sentFromVault && bin.IsChange {
				next = store.ScriptChange
			}
			promotions = append(promotions, scriptPromotion{script: sc, status: next, bin: bin})
		case store.ScriptIssued:
			promotions = append(promotions, scriptPromotion{script: sc, status: store.ScriptUsed, bin: bin})
		}
	}

	if len(conflictTxIDs) > 0 {
		status = store.TxConflicting
	}

	// Conflict promotion runs unconditionally, before the
	// sent_from_vault/sent_to_vault gate: a double-spend of a tracked
	// outpoint taints the earlier tx regardless of whether this new
	// tx itself touches the vault.
	for conflictID := range conflictTxIDs {
		conflicting, err := s.sess.TxByID(conflictID)
		if err != nil {
			return nil, err
		}
		if conflicting.Status != store.TxConfirmed {
			conflicting.Status = store.TxConflicting
			if err := s.sess.UpdateTx(conflicting); err != nil {
				return nil, err
			}
		}
	}

	if !sentFromVault && !sentToVault {
		return nil, nil
	}

	fee, feeKnown := uint64(0), false
	if haveAllOutpoints && inputTotal >= outputTotal {
		fee, feeKnown = inputTotal-outputTotal, true
	}

	raw, err := serializeTx(tx)
	if err != nil {
		return nil, err
	}
	row := &store.Tx{
		Hash:             txid(tx),
		UnsignedHash:     uHash,
		RawTx:            raw,
		Status:           status,
		Fee:              fee,
		FeeKnown:         feeKnown,
		Timestamp:        time.Now(),
		SendingAccountID: sendingAccountID,
	}

	var ins []*store.TxIn
	for i, in := range tx.TxIn {
		ins = append(ins, &store.TxIn{
			TxIndex:  uint32(i),
			OutHash:  in.PreviousOutPoint.Hash[:],
			OutIndex: in.PreviousOutPoint.Index,
			Script:   in.SignatureScript,
			Sequence: in.Sequence,
		})
	}
	var outs []*store.TxOut
	for i, out := range tx.TxOut {
		o := &store.TxOut{
			TxIndex:     uint32(i),
			Value:       uint64(out.Value),
			TxOutScript: out.PkScript,
			Status:      store.TxOutUnspent,
		}
		if sc := outScripts[i]; sc != nil {
			scriptID := sc.ID
			o.SigningScriptID = &scriptID
		} else if sentFromVault {
			// A foreign payee output of a vault-originated spend:
			// attributed to the sending account but not ours to own.
			o.SendingAccountID = sendingAccountID
		}
		outs = append(outs, o)
	}
	if err := s.sess.InsertTx(row, ins, outs); err != nil {
		return nil, err
	}

	persistedIns, err := s.sess.TxIns(row.ID)
	if err != nil {
		return nil, err
	}
	for _, sp := range spends {
		if sp.txInIndex >= len(persistedIns) {
			continue
		}
		spendingIn := persistedIns[sp.txInIndex]
		sp.out.Status = store.TxOutSpent
		sp.out.SpentByTxInID = &spendingIn.ID
		if err := s.sess.UpdateTxOut(sp.out); err != nil {
			return nil, err
		}
	}

	for _, p := range promotions {
		p.script.Status = p.status
		if err := s.sess.UpdateScript(p.script); err != nil {
			return nil, err
		}
		acctRow, err := s.sess.AccountByID(p.bin.AccountID)
		if err != nil {
			return nil, err
		}
		acct := account.FromRowAccount(acctRow)
		bin := account.FromRowBin(p.bin)
		if err := s.acct.RefillBinPool(acct, bin); err != nil {
			if verr, ok := err.(*vaulterr.Error); ok && verr.Code == vaulterr.ErrAccountChainCodeLocked {
				loggers.TxEngine.Debugf("pool refill skipped, chain code locked: %v", verr.LockedKeychains)
			} else {
				return nil, err
			}
		}
	}

	// Out-of-order arrival: a child tx already referencing one of this
	// tx's outputs may have been ingested before this tx existed.
	persistedOuts, err := s.sess.TxOuts(row.ID)
	if err != nil {
		return nil, err
	}
	for _, out := range persistedOuts {
		spendingIn, err := s.sess.TxInByOutpoint(row.Hash, out.TxIndex)
		if err == store.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out.Status = store.TxOutSpent
		out.SpentByTxInID = &spendingIn.ID
		if err := s.sess.UpdateTxOut(out); err != nil {
			return nil, err
		}
	}

	if row.Status >= store.TxSent {
		if _, err := s.sess.LinkTxToIncludingBlock(row.ID, row.Hash); err != nil {
			return nil, err
		}
	}

	loggers.TxEngine.Infof("inserted tx %x (status %s, fee_known=%v)", row.Hash, row.Status, feeKnown)
	return wrapTx(row), nil
}
