package store

import (
	"database/sql"
	"fmt"
	"time"
)

func (s *Session) cacheAccount(a *Account) *Account {
	if existing, ok := s.accounts[a.ID]; ok {
		return existing
	}
	s.accounts[a.ID] = a
	return a
}

// InsertAccount persists a new Account row plus its ordered keychain
// membership.
func (s *Session) InsertAccount(a *Account) (*Account, error) {
	id, err := s.insertReturningID("accounts",
		[]string{"content_hash", "name", "m", "unused_pool_size", "created_at"},
		a.ContentHash, a.Name, a.M, a.UnusedPoolSize, a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert account: %w", err)
	}
	a.ID = id
	for i, kid := range a.KeychainIDs {
		if _, err := s.exec(`INSERT INTO account_keychains (account_id, ordinal, keychain_id)
			VALUES (?, ?, ?)`, id, i, kid); err != nil {
			return nil, fmt.Errorf("insert account_keychains: %w", err)
		}
	}
	return s.cacheAccount(a), nil
}

func (s *Session) loadAccountKeychainIDs(accountID int64) ([]int64, error) {
	rows, err := s.query(`SELECT keychain_id FROM account_keychains WHERE account_id=?
		ORDER BY ordinal ASC`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Session) scanAccount(row *sql.Row) (*Account, error) {
	a := &Account{}
	var createdAt time.Time
	err := row.Scan(&a.ID, &a.ContentHash, &a.Name, &a.M, &a.UnusedPoolSize, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.CreatedAt = createdAt
	ids, err := s.loadAccountKeychainIDs(a.ID)
	if err != nil {
		return nil, err
	}
	a.KeychainIDs = ids
	return a, nil
}

const accountCols = `id, content_hash, name, m, unused_pool_size, created_at`

// AccountByID loads (or returns cached) Account id.
func (s *Session) AccountByID(id int64) (*Account, error) {
	if a, ok := s.accounts[id]; ok {
		return a, nil
	}
	a, err := s.scanAccount(s.queryRow(`SELECT `+accountCols+` FROM accounts WHERE id=?`, id))
	if err != nil {
		return nil, err
	}
	return s.cacheAccount(a), nil
}

// AccountByName loads an Account by its unique name.
func (s *Session) AccountByName(name string) (*Account, error) {
	a, err := s.scanAccount(s.queryRow(`SELECT `+accountCols+` FROM accounts WHERE name=?`, name))
	if err != nil {
		return nil, err
	}
	return s.cacheAccount(a), nil
}

// AccountByContentHash loads an Account by its identity hash.
func (s *Session) AccountByContentHash(hash []byte) (*Account, error) {
	a, err := s.scanAccount(s.queryRow(`SELECT `+accountCols+` FROM accounts WHERE content_hash=?`, hash))
	if err != nil {
		return nil, err
	}
	return s.cacheAccount(a), nil
}

// AccountNameExists reports whether name is already taken.
func (s *Session) AccountNameExists(name string) (bool, error) {
	var one int
	err := s.queryRow(`SELECT 1 FROM accounts WHERE name=?`, name).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// --- AccountBin ---

func (s *Session) cacheBin(b *AccountBin) *AccountBin {
	if existing, ok := s.bins[b.ID]; ok {
		return existing
	}
	s.bins[b.ID] = b
	return b
}

const binCols = `id, account_id, name, is_change, next_script_index`

func scanBin(row interface{ Scan(...interface{}) error }) (*AccountBin, error) {
	b := &AccountBin{}
	if err := row.Scan(&b.ID, &b.AccountID, &b.Name, &b.IsChange, &b.NextScriptIndex); err != nil {
		return nil, err
	}
	return b, nil
}

// InsertBin persists a new AccountBin row.
func (s *Session) InsertBin(b *AccountBin) (*AccountBin, error) {
	id, err := s.insertReturningID("account_bins",
		[]string{"account_id", "name", "is_change", "next_script_index"},
		b.AccountID, b.Name, b.IsChange, b.NextScriptIndex)
	if err != nil {
		return nil, fmt.Errorf("insert account_bin: %w", err)
	}
	b.ID = id
	return s.cacheBin(b), nil
}

// UpdateBinNextIndex persists an advanced next_script_index.
func (s *Session) UpdateBinNextIndex(b *AccountBin) error {
	_, err := s.exec(`UPDATE account_bins SET next_script_index=? WHERE id=?`,
		b.NextScriptIndex, b.ID)
	return err
}

// BinByID loads (or returns cached) AccountBin id.
func (s *Session) BinByID(id int64) (*AccountBin, error) {
	if b, ok := s.bins[id]; ok {
		return b, nil
	}
	row := s.queryRow(`SELECT `+binCols+` FROM account_bins WHERE id=?`, id)
	b, err := scanBin(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.cacheBin(b), nil
}

// BinByName loads the bin named name within account accountID.
func (s *Session) BinByName(accountID int64, name string) (*AccountBin, error) {
	row := s.queryRow(`SELECT `+binCols+` FROM account_bins WHERE account_id=? AND name=?`,
		accountID, name)
	b, err := scanBin(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.cacheBin(b), nil
}

// AccountBins returns every bin of accountID, the AccountBinView of
// spec.md section 6.
func (s *Session) AccountBins(accountID int64) ([]*AccountBin, error) {
	rows, err := s.query(`SELECT `+binCols+` FROM account_bins WHERE account_id=? ORDER BY id ASC`,
		accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*AccountBin
	for rows.Next() {
		b, err := scanBin(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s.cacheBin(b))
	}
	return out, rows.Err()
}

// --- SigningScript ---

func (s *Session) cacheScript(sc *SigningScript) *SigningScript {
	if existing, ok := s.scripts[sc.ID]; ok {
		return existing
	}
	s.scripts[sc.ID] = sc
	return sc
}

const scriptCols = `id, bin_id, script_index, status, txout_script, txin_script, label`

func (s *Session) scanScript(row interface{ Scan(...interface{}) error }) (*SigningScript, error) {
	sc := &SigningScript{}
	var status int
	if err := row.Scan(&sc.ID, &sc.BinID, &sc.Index, &status, &sc.TxOutScript,
		&sc.TxInScript, &sc.Label); err != nil {
		return nil, err
	}
	sc.Status = ScriptStatus(status)
	ids, err := s.loadScriptKeyIDs(sc.ID)
	if err != nil {
		return nil, err
	}
	sc.KeyIDs = ids
	return sc, nil
}

func (s *Session) loadScriptKeyIDs(scriptID int64) ([]int64, error) {
	rows, err := s.query(`SELECT key_id FROM signing_script_keys WHERE signing_script_id=?
		ORDER BY ordinal ASC`, scriptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// InsertScript persists a new SigningScript row plus its key list.
func (s *Session) InsertScript(sc *SigningScript) (*SigningScript, error) {
	id, err := s.insertReturningID("signing_scripts",
		[]string{"bin_id", "script_index", "status", "txout_script", "txin_script", "label"},
		sc.BinID, sc.Index, int(sc.Status), sc.TxOutScript, sc.TxInScript, sc.Label)
	if err != nil {
		return nil, fmt.Errorf("insert signing_script: %w", err)
	}
	sc.ID = id
	for i, kid := range sc.KeyIDs {
		if _, err := s.exec(`INSERT INTO signing_script_keys (signing_script_id, ordinal, key_id)
			VALUES (?, ?, ?)`, id, i, kid); err != nil {
			return nil, fmt.Errorf("insert signing_script_keys: %w", err)
		}
	}
	return s.cacheScript(sc), nil
}

// UpdateScript writes back mutable fields: status, txin_script, label.
func (s *Session) UpdateScript(sc *SigningScript) error {
	_, err := s.exec(`UPDATE signing_scripts SET status=?, txin_script=?, label=? WHERE id=?`,
		int(sc.Status), sc.TxInScript, sc.Label, sc.ID)
	return err
}

// ScriptByID loads (or returns cached) SigningScript id.
func (s *Session) ScriptByID(id int64) (*SigningScript, error) {
	if sc, ok := s.scripts[id]; ok {
		return sc, nil
	}
	row := s.queryRow(`SELECT `+scriptCols+` FROM signing_scripts WHERE id=?`, id)
	sc, err := s.scanScript(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.cacheScript(sc), nil
}

// ScriptByTxOutScript resolves a raw output script back to the
// SigningScript that issued it, if any — the join point insert_tx
// uses to recognize vault-owned outputs and outpoints.
func (s *Session) ScriptByTxOutScript(txoutScript []byte) (*SigningScript, error) {
	row := s.queryRow(`SELECT `+scriptCols+` FROM signing_scripts WHERE txout_script=?`, txoutScript)
	sc, err := s.scanScript(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.cacheScript(sc), nil
}

// ScriptCount is the ScriptCountView of spec.md section 6: the number
// of scripts in bin binID with the given status.
func (s *Session) ScriptCount(binID int64, status ScriptStatus) (int, error) {
	var n int
	err := s.queryRow(`SELECT COUNT(*) FROM signing_scripts WHERE bin_id=? AND status=?`,
		binID, int(status)).Scan(&n)
	return n, err
}

// SmallestUnusedScript returns the lowest-index UNUSED script in
// binID, or ErrNotFound if the pool is exhausted — issue_signing_script's
// selection step.
func (s *Session) SmallestUnusedScript(binID int64) (*SigningScript, error) {
	row := s.queryRow(`SELECT `+scriptCols+` FROM signing_scripts
		WHERE bin_id=? AND status=? ORDER BY script_index ASC LIMIT 1`,
		binID, int(ScriptUnused))
	sc, err := s.scanScript(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.cacheScript(sc), nil
}

// SigningScriptView implements spec.md section 6's
// SigningScriptView(account?, bin?, status...) ordered by
// (account, bin, status DESC, index ASC).
func (s *Session) SigningScriptView(accountID *int64, binID *int64, statuses []ScriptStatus) ([]*SigningScript, error) {
	q := `SELECT ss.id, ss.bin_id, ss.script_index, ss.status, ss.txout_script,
		ss.txin_script, ss.label
		FROM signing_scripts ss
		JOIN account_bins ab ON ab.id = ss.bin_id
		WHERE 1=1`
	var args []interface{}
	if accountID != nil {
		q += ` AND ab.account_id=?`
		args = append(args, *accountID)
	}
	if binID != nil {
		q += ` AND ss.bin_id=?`
		args = append(args, *binID)
	}
	if len(statuses) > 0 {
		ph := make([]interface{}, len(statuses))
		for i, st := range statuses {
			ph[i] = int(st)
		}
		q += ` AND ss.status IN (` + placeholders(len(statuses)) + `)`
		args = append(args, ph...)
	}
	q += ` ORDER BY ab.account_id ASC, ss.bin_id ASC, ss.status DESC, ss.script_index ASC`

	rows, err := s.query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SigningScript
	for rows.Next() {
		sc := &SigningScript{}
		var status int
		if err := rows.Scan(&sc.ID, &sc.BinID, &sc.Index, &status, &sc.TxOutScript,
			&sc.TxInScript, &sc.Label); err != nil {
			return nil, err
		}
		sc.Status = ScriptStatus(status)
		ids, err := s.loadScriptKeyIDs(sc.ID)
		if err != nil {
			return nil, err
		}
		sc.KeyIDs = ids
		out = append(out, s.cacheScript(sc))
	}
	return out, rows.Err()
}
