package store

import (
	"database/sql"
	"fmt"
	"time"
)

func (s *Session) cacheTx(t *Tx) *Tx {
	if existing, ok := s.txs[t.ID]; ok {
		return existing
	}
	s.txs[t.ID] = t
	return t
}

const txCols = `id, hash, unsigned_hash, raw_tx, status, block_id, block_index, fee,
	fee_known, timestamp, sending_account_id`

func scanTx(row interface{ Scan(...interface{}) error }) (*Tx, error) {
	t := &Tx{}
	var blockID, sendingAccountID sql.NullInt64
	var ts time.Time
	var status int
	if err := row.Scan(&t.ID, &t.Hash, &t.UnsignedHash, &t.RawTx, &status, &blockID,
		&t.BlockIndex, &t.Fee, &t.FeeKnown, &ts, &sendingAccountID); err != nil {
		return nil, err
	}
	t.Status = TxStatus(status)
	t.Timestamp = ts
	if blockID.Valid {
		id := blockID.Int64
		t.BlockID = &id
	}
	if sendingAccountID.Valid {
		id := sendingAccountID.Int64
		t.SendingAccountID = &id
	}
	return t, nil
}

// InsertTx persists a brand-new Tx row, its TxIns, and its TxOuts.
func (s *Session) InsertTx(t *Tx, ins []*TxIn, outs []*TxOut) error {
	id, err := s.insertReturningID("txs",
		[]string{"hash", "unsigned_hash", "raw_tx", "status", "block_id", "block_index",
			"fee", "fee_known", "timestamp", "sending_account_id"},
		t.Hash, t.UnsignedHash, t.RawTx, int(t.Status), nullInt64(t.BlockID), t.BlockIndex,
		t.Fee, t.FeeKnown, t.Timestamp, nullInt64(t.SendingAccountID))
	if err != nil {
		return fmt.Errorf("insert tx: %w", err)
	}
	t.ID = id
	s.cacheTx(t)

	for _, in := range ins {
		in.TxID = id
		if _, err := s.InsertTxIn(in); err != nil {
			return err
		}
	}
	for _, out := range outs {
		out.TxID = id
		if _, err := s.InsertTxOut(out); err != nil {
			return err
		}
	}
	return nil
}

// UpdateTx writes back mutable Tx fields.
func (s *Session) UpdateTx(t *Tx) error {
	_, err := s.exec(`UPDATE txs SET hash=?, status=?, block_id=?, block_index=?, fee=?,
		fee_known=?, sending_account_id=? WHERE id=?`,
		t.Hash, int(t.Status), nullInt64(t.BlockID), t.BlockIndex, t.Fee, t.FeeKnown,
		nullInt64(t.SendingAccountID), t.ID)
	return err
}

// DeleteTxRow removes a Tx row (its TxIns/TxOuts must already be
// handled by the caller per spec.md's recursive delete_tx algorithm).
func (s *Session) DeleteTxRow(id int64) error {
	if _, err := s.exec(`DELETE FROM tx_ins WHERE tx_id=?`, id); err != nil {
		return err
	}
	if _, err := s.exec(`DELETE FROM tx_outs WHERE tx_id=?`, id); err != nil {
		return err
	}
	_, err := s.exec(`DELETE FROM txs WHERE id=?`, id)
	delete(s.txs, id)
	return err
}

// TxByID loads (or returns cached) Tx id.
func (s *Session) TxByID(id int64) (*Tx, error) {
	if t, ok := s.txs[id]; ok {
		return t, nil
	}
	t, err := scanTx(s.queryRow(`SELECT `+txCols+` FROM txs WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.cacheTx(t), nil
}

// TxByUnsignedHash is the duplicate-detection lookup insert_tx's step
// 2 runs first.
func (s *Session) TxByUnsignedHash(hash []byte) (*Tx, error) {
	t, err := scanTx(s.queryRow(`SELECT `+txCols+` FROM txs WHERE unsigned_hash=?`, hash))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.cacheTx(t), nil
}

// TxByHash looks a Tx up by its signed txid.
func (s *Session) TxByHash(hash []byte) (*Tx, error) {
	t, err := scanTx(s.queryRow(`SELECT `+txCols+` FROM txs WHERE hash=?`, hash))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.cacheTx(t), nil
}

// HorizonTimestampView returns the earliest block timestamp among
// persisted, confirmed transactions, or the zero Time if none exist.
func (s *Session) HorizonTimestampView() (time.Time, error) {
	var ts sql.NullTime
	err := s.queryRow(`SELECT MIN(bh.timestamp) FROM txs t
		JOIN block_headers bh ON bh.id = t.block_id`).Scan(&ts)
	if err != nil {
		return time.Time{}, err
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return ts.Time, nil
}

// ConfirmedTxView returns every Tx whose blockheader link is NULL,
// i.e. candidates for confirmation backfill after a reorg reconnect.
func (s *Session) ConfirmedTxView() ([]*Tx, error) {
	rows, err := s.query(`SELECT ` + txCols + ` FROM txs WHERE block_id IS NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Tx
	for rows.Next() {
		t, err := scanTx(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s.cacheTx(t))
	}
	return out, rows.Err()
}

// --- TxIn ---

func (s *Session) cacheTxIn(in *TxIn) *TxIn {
	if existing, ok := s.txins[in.ID]; ok {
		return existing
	}
	s.txins[in.ID] = in
	return in
}

const txInCols = `id, tx_id, tx_index, out_hash, out_index, script, sequence`

func scanTxIn(row interface{ Scan(...interface{}) error }) (*TxIn, error) {
	in := &TxIn{}
	if err := row.Scan(&in.ID, &in.TxID, &in.TxIndex, &in.OutHash, &in.OutIndex,
		&in.Script, &in.Sequence); err != nil {
		return nil, err
	}
	return in, nil
}

// InsertTxIn persists a new TxIn row.
func (s *Session) InsertTxIn(in *TxIn) (*TxIn, error) {
	id, err := s.insertReturningID("tx_ins",
		[]string{"tx_id", "tx_index", "out_hash", "out_index", "script", "sequence"},
		in.TxID, in.TxIndex, in.OutHash, in.OutIndex, in.Script, in.Sequence)
	if err != nil {
		return nil, fmt.Errorf("insert tx_in: %w", err)
	}
	in.ID = id
	return s.cacheTxIn(in), nil
}

// UpdateTxIn writes back an edited/broadcast-form script.
func (s *Session) UpdateTxIn(in *TxIn) error {
	_, err := s.exec(`UPDATE tx_ins SET script=? WHERE id=?`, in.Script, in.ID)
	return err
}

// TxIns returns every input of txID in txindex order.
func (s *Session) TxIns(txID int64) ([]*TxIn, error) {
	rows, err := s.query(`SELECT `+txInCols+` FROM tx_ins WHERE tx_id=? ORDER BY tx_index ASC`, txID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*TxIn
	for rows.Next() {
		in, err := scanTxIn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s.cacheTxIn(in))
	}
	return out, rows.Err()
}

// TxInByOutpoint finds the TxIn, if any, spending (outHash, outIndex)
// — the lookup insert_tx's conflict-detection step needs.
func (s *Session) TxInByOutpoint(outHash []byte, outIndex uint32) (*TxIn, error) {
	row := s.queryRow(`SELECT `+txInCols+` FROM tx_ins WHERE out_hash=? AND out_index=?`,
		outHash, outIndex)
	in, err := scanTxIn(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.cacheTxIn(in), nil
}

// --- TxOut ---

func (s *Session) cacheTxOut(out *TxOut) *TxOut {
	if existing, ok := s.txouts[out.ID]; ok {
		return existing
	}
	s.txouts[out.ID] = out
	return out
}

const txOutCols = `id, tx_id, tx_index, value, txout_script, status, signing_script_id,
	spent_by_tx_in_id, sending_account_id`

func scanTxOut(row interface{ Scan(...interface{}) error }) (*TxOut, error) {
	out := &TxOut{}
	var status int
	var signingScriptID, spentByTxInID, sendingAccountID sql.NullInt64
	if err := row.Scan(&out.ID, &out.TxID, &out.TxIndex, &out.Value, &out.TxOutScript,
		&status, &signingScriptID, &spentByTxInID, &sendingAccountID); err != nil {
		return nil, err
	}
	out.Status = TxOutStatus(status)
	if signingScriptID.Valid {
		id := signingScriptID.Int64
		out.SigningScriptID = &id
	}
	if spentByTxInID.Valid {
		id := spentByTxInID.Int64
		out.SpentByTxInID = &id
	}
	if sendingAccountID.Valid {
		id := sendingAccountID.Int64
		out.SendingAccountID = &id
	}
	return out, nil
}

// InsertTxOut persists a new TxOut row.
func (s *Session) InsertTxOut(out *TxOut) (*TxOut, error) {
	id, err := s.insertReturningID("tx_outs",
		[]string{"tx_id", "tx_index", "value", "txout_script", "status",
			"signing_script_id", "spent_by_tx_in_id", "sending_account_id"},
		out.TxID, out.TxIndex, out.Value, out.TxOutScript, int(out.Status),
		nullInt64(out.SigningScriptID), nullInt64(out.SpentByTxInID),
		nullInt64(out.SendingAccountID))
	if err != nil {
		return nil, fmt.Errorf("insert tx_out: %w", err)
	}
	out.ID = id
	return s.cacheTxOut(out), nil
}

// UpdateTxOut writes back mutable TxOut fields.
func (s *Session) UpdateTxOut(out *TxOut) error {
	_, err := s.exec(`UPDATE tx_outs SET status=?, signing_script_id=?, spent_by_tx_in_id=?,
		sending_account_id=? WHERE id=?`,
		int(out.Status), nullInt64(out.SigningScriptID), nullInt64(out.SpentByTxInID),
		nullInt64(out.SendingAccountID), out.ID)
	return err
}

// TxOuts returns every output of txID in txindex order.
func (s *Session) TxOuts(txID int64) ([]*TxOut, error) {
	rows, err := s.query(`SELECT `+txOutCols+` FROM tx_outs WHERE tx_id=? ORDER BY tx_index ASC`, txID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*TxOut
	for rows.Next() {
		o, err := scanTxOut(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s.cacheTxOut(o))
	}
	return out, rows.Err()
}

// TxOutByOutpoint finds the TxOut at (txHash, index), if that tx is
// known to the store — insert_tx's outpoint-resolution step.
func (s *Session) TxOutByOutpoint(txHash []byte, index uint32) (*TxOut, error) {
	tx, err := s.TxByHash(txHash)
	if err == ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	row := s.queryRow(`SELECT `+txOutCols+` FROM tx_outs WHERE tx_id=? AND tx_index=?`,
		tx.ID, index)
	out, err := scanTxOut(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.cacheTxOut(out), nil
}

// UnspentOutputsForAccount returns every UNSPENT TxOut whose
// SigningScript lies in one of accountID's bins, for create_tx's coin
// selection. Outputs linked to the account only through
// sending_account_id are not included.
func (s *Session) UnspentOutputsForAccount(accountID int64) ([]*TxOut, error) {
	rows, err := s.query(`SELECT o.id, o.tx_id, o.tx_index, o.value, o.txout_script, o.status,
		o.signing_script_id, o.spent_by_tx_in_id, o.sending_account_id
		FROM tx_outs o
		JOIN signing_scripts ss ON ss.id = o.signing_script_id
		JOIN account_bins ab ON ab.id = ss.bin_id
		JOIN txs t ON t.id = o.tx_id
		WHERE ab.account_id=? AND o.status=? AND t.status != ?`,
		accountID, int(TxOutUnspent), int(TxConflicting))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*TxOut
	for rows.Next() {
		o, err := scanTxOut(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s.cacheTxOut(o))
	}
	return out, rows.Err()
}

// BalanceView sums matching TxOut values for an account, the
// BalanceView of spec.md section 6.
func (s *Session) BalanceView(accountID int64, txOutStatus *TxOutStatus, txStatuses []TxStatus) (uint64, error) {
	q := `SELECT COALESCE(SUM(o.value), 0)
		FROM tx_outs o
		JOIN signing_scripts ss ON ss.id = o.signing_script_id
		JOIN account_bins ab ON ab.id = ss.bin_id
		JOIN txs t ON t.id = o.tx_id
		WHERE ab.account_id=?`
	args := []interface{}{accountID}
	if txOutStatus != nil {
		q += ` AND o.status=?`
		args = append(args, int(*txOutStatus))
	}
	if len(txStatuses) > 0 {
		ph := make([]interface{}, len(txStatuses))
		for i, st := range txStatuses {
			ph[i] = int(st)
		}
		q += ` AND t.status IN (` + placeholders(len(txStatuses)) + `)`
		args = append(args, ph...)
	}
	var total uint64
	err := s.queryRow(q, args...).Scan(&total)
	return total, err
}

// TxOutView implements spec.md section 6's
// TxOutView(account?, bin?, txout.status, tx.status) ordered by
// (height DESC, tx.timestamp DESC, tx.id DESC).
func (s *Session) TxOutView(accountID, binID *int64, txOutStatuses []TxOutStatus, txStatuses []TxStatus) ([]*TxOut, error) {
	q := `SELECT o.id, o.tx_id, o.tx_index, o.value, o.txout_script, o.status,
		o.signing_script_id, o.spent_by_tx_in_id, o.sending_account_id
		FROM tx_outs o
		JOIN txs t ON t.id = o.tx_id
		LEFT JOIN block_headers bh ON bh.id = t.block_id
		LEFT JOIN signing_scripts ss ON ss.id = o.signing_script_id
		LEFT JOIN account_bins ab ON ab.id = ss.bin_id
		WHERE 1=1`
	var args []interface{}
	if accountID != nil {
		q += ` AND ab.account_id=?`
		args = append(args, *accountID)
	}
	if binID != nil {
		q += ` AND o.signing_script_id IN (SELECT id FROM signing_scripts WHERE bin_id=?)`
		args = append(args, *binID)
	}
	if len(txOutStatuses) > 0 {
		ph := make([]interface{}, len(txOutStatuses))
		for i, st := range txOutStatuses {
			ph[i] = int(st)
		}
		q += ` AND o.status IN (` + placeholders(len(txOutStatuses)) + `)`
		args = append(args, ph...)
	}
	if len(txStatuses) > 0 {
		ph := make([]interface{}, len(txStatuses))
		for i, st := range txStatuses {
			ph[i] = int(st)
		}
		q += ` AND t.status IN (` + placeholders(len(txStatuses)) + `)`
		args = append(args, ph...)
	}
	q += ` ORDER BY bh.height DESC, t.timestamp DESC, t.id DESC`

	rows, err := s.query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*TxOut
	for rows.Next() {
		o, err := scanTxOut(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s.cacheTxOut(o))
	}
	return out, rows.Err()
}
