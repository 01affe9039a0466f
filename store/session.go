package store

import (
	"bytes"
	"database/sql"
	"fmt"
	"strings"
)

// Session is a persistence transaction plus an identity session
// (spec.md section 6.ii / section 9): within its lifetime, loading the
// same row by ID twice returns the same *Keychain/*Account/... Go
// pointer, so that in-place mutation by one caller is visible to
// another caller holding the "same" object, exactly like an ORM's
// unit-of-work session.
type Session struct {
	tx     *sql.Tx
	driver string

	keychains map[int64]*Keychain
	keys      map[int64]*Key
	accounts  map[int64]*Account
	bins      map[int64]*AccountBin
	scripts   map[int64]*SigningScript
	txs       map[int64]*Tx
	txins     map[int64]*TxIn
	txouts    map[int64]*TxOut
	headers   map[int64]*BlockHeader
	mblocks   map[int64]*MerkleBlock
}

func newSession(tx *sql.Tx, driver string) *Session {
	return &Session{
		tx:        tx,
		driver:    driver,
		keychains: make(map[int64]*Keychain),
		keys:      make(map[int64]*Key),
		accounts:  make(map[int64]*Account),
		bins:      make(map[int64]*AccountBin),
		scripts:   make(map[int64]*SigningScript),
		txs:       make(map[int64]*Tx),
		txins:     make(map[int64]*TxIn),
		txouts:    make(map[int64]*TxOut),
		headers:   make(map[int64]*BlockHeader),
		mblocks:   make(map[int64]*MerkleBlock),
	}
}

// Commit commits the underlying SQL transaction.
func (s *Session) Commit() error {
	return s.tx.Commit()
}

// Rollback aborts the underlying SQL transaction, leaving the store
// bit-identical to its pre-operation state (spec.md section 5).
func (s *Session) Rollback() error {
	return s.tx.Rollback()
}

// rebind rewrites a query written with "?" placeholders into the
// dialect the active driver expects ("$1", "$2", ... for postgres).
func (s *Session) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var buf bytes.Buffer
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&buf, "$%d", n)
			continue
		}
		buf.WriteRune(r)
	}
	return buf.String()
}

func (s *Session) exec(query string, args ...interface{}) (sql.Result, error) {
	return s.tx.Exec(s.rebind(query), args...)
}

func (s *Session) query(query string, args ...interface{}) (*sql.Rows, error) {
	return s.tx.Query(s.rebind(query), args...)
}

func (s *Session) queryRow(query string, args ...interface{}) *sql.Row {
	return s.tx.QueryRow(s.rebind(query), args...)
}

// lastInsertID returns the surrogate key of a just-inserted row,
// portable across the sqlite/postgres drivers: postgres requires a
// RETURNING clause (appended by the caller), sqlite supports
// LastInsertId directly.
func (s *Session) lastInsertID(res sql.Result, row *sql.Row) (int64, error) {
	if s.driver == "postgres" {
		var id int64
		if err := row.Scan(&id); err != nil {
			return 0, err
		}
		return id, nil
	}
	return res.LastInsertId()
}

// placeholders returns n "?" placeholders comma-joined, for IN(...)
// clauses of variable arity.
func placeholders(n int) string {
	if n == 0 {
		return ""
	}
	parts := make([]string, n)
	for i := range parts {
		parts[i] = "?"
	}
	return strings.Join(parts, ",")
}

func int64sToArgs(ids []int64) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// insertReturningID inserts one row and returns its surrogate key,
// bridging sqlite's LastInsertId and postgres's RETURNING id.
func (s *Session) insertReturningID(table string, cols []string, args ...interface{}) (int64, error) {
	ph := placeholders(len(cols))
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ","), ph)
	if s.driver == "postgres" {
		row := s.queryRow(q+" RETURNING id", args...)
		return s.lastInsertID(nil, row)
	}
	res, err := s.exec(q, args...)
	if err != nil {
		return 0, err
	}
	return s.lastInsertID(res, nil)
}
