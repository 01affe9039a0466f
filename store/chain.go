package store

import (
	"bytes"
	"database/sql"
	"fmt"
)

func (s *Session) cacheHeader(h *BlockHeader) *BlockHeader {
	if existing, ok := s.headers[h.ID]; ok {
		return existing
	}
	s.headers[h.ID] = h
	return h
}

const headerCols = `id, hash, prev_hash, merkle_root, timestamp, bits, nonce, version, height`

func scanHeader(row interface{ Scan(...interface{}) error }) (*BlockHeader, error) {
	h := &BlockHeader{}
	if err := row.Scan(&h.ID, &h.Hash, &h.PrevHash, &h.MerkleRoot, &h.Timestamp, &h.Bits,
		&h.Nonce, &h.Version, &h.Height); err != nil {
		return nil, err
	}
	return h, nil
}

// InsertHeader persists a new BlockHeader row.
func (s *Session) InsertHeader(h *BlockHeader) (*BlockHeader, error) {
	id, err := s.insertReturningID("block_headers",
		[]string{"hash", "prev_hash", "merkle_root", "timestamp", "bits", "nonce",
			"version", "height"},
		h.Hash, h.PrevHash, h.MerkleRoot, h.Timestamp, h.Bits, h.Nonce, h.Version, h.Height)
	if err != nil {
		return nil, fmt.Errorf("insert block_header: %w", err)
	}
	h.ID = id
	return s.cacheHeader(h), nil
}

// HeaderByHash loads a BlockHeader by its hash.
func (s *Session) HeaderByHash(hash []byte) (*BlockHeader, error) {
	h, err := scanHeader(s.queryRow(`SELECT `+headerCols+` FROM block_headers WHERE hash=?`, hash))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.cacheHeader(h), nil
}

// HeaderByID loads a BlockHeader by surrogate ID.
func (s *Session) HeaderByID(id int64) (*BlockHeader, error) {
	if h, ok := s.headers[id]; ok {
		return h, nil
	}
	h, err := scanHeader(s.queryRow(`SELECT `+headerCols+` FROM block_headers WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.cacheHeader(h), nil
}

// HeadersFromHeight returns every header at or above minHeight, used
// by insert_merkle_block's reorg step to find what must be erased.
func (s *Session) HeadersFromHeight(minHeight int32) ([]*BlockHeader, error) {
	rows, err := s.query(`SELECT `+headerCols+` FROM block_headers WHERE height>=? ORDER BY height ASC`,
		minHeight)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*BlockHeader
	for rows.Next() {
		h, err := scanHeader(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s.cacheHeader(h))
	}
	return out, rows.Err()
}

// DeleteHeader removes a BlockHeader row (its MerkleBlock must already
// be removed by the caller).
func (s *Session) DeleteHeader(id int64) error {
	_, err := s.exec(`DELETE FROM block_headers WHERE id=?`, id)
	delete(s.headers, id)
	return err
}

// BestHeightView returns the max BlockHeader height, or 0 if none
// exist, spec.md section 4.F's best_height().
func (s *Session) BestHeightView() (int32, error) {
	var height sql.NullInt32
	err := s.queryRow(`SELECT MAX(height) FROM block_headers`).Scan(&height)
	if err != nil {
		return 0, err
	}
	if !height.Valid {
		return 0, nil
	}
	return height.Int32, nil
}

// BestConfirmedHeightView returns the height of the highest block that
// actually has a transaction linked to it, or 0 if none do —
// spec.md section 4.F's best_confirmed_height(), distinct from
// BestHeightView in that an empty tip header with no linked txs yet
// doesn't count.
func (s *Session) BestConfirmedHeightView() (int32, error) {
	var height sql.NullInt32
	err := s.queryRow(`SELECT MAX(bh.height) FROM txs t
		JOIN block_headers bh ON bh.id = t.block_id
		WHERE t.block_id IS NOT NULL`).Scan(&height)
	if err != nil {
		return 0, err
	}
	if !height.Valid {
		return 0, nil
	}
	return height.Int32, nil
}

// --- MerkleBlock ---

const mblockCols = `id, block_header_id, tx_hashes, flag_bits, num_tx`

// InsertMerkleBlockRow persists a new MerkleBlock row. TxHashes is
// packed as 32-byte-concatenated bytes by the chainmgr package.
func (s *Session) InsertMerkleBlockRow(mb *MerkleBlock) (*MerkleBlock, error) {
	packed := packHashes(mb.TxHashes)
	id, err := s.insertReturningID("merkle_blocks",
		[]string{"block_header_id", "tx_hashes", "flag_bits", "num_tx"},
		mb.BlockHeaderID, packed, mb.FlagBits, mb.NumTx)
	if err != nil {
		return nil, fmt.Errorf("insert merkle_block: %w", err)
	}
	mb.ID = id
	s.mblocks[id] = mb
	return mb, nil
}

// MerkleBlockByHeaderID loads the MerkleBlock for a given header.
func (s *Session) MerkleBlockByHeaderID(headerID int64) (*MerkleBlock, error) {
	row := s.queryRow(`SELECT `+mblockCols+` FROM merkle_blocks WHERE block_header_id=?`, headerID)
	mb := &MerkleBlock{}
	var packed []byte
	if err := row.Scan(&mb.ID, &mb.BlockHeaderID, &packed, &mb.FlagBits, &mb.NumTx); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	mb.TxHashes = unpackHashes(packed)
	s.mblocks[mb.ID] = mb
	return mb, nil
}

// DeleteMerkleBlockByHeaderID removes the MerkleBlock tied to
// headerID, part of the reorg erase cascade.
func (s *Session) DeleteMerkleBlockByHeaderID(headerID int64) error {
	_, err := s.exec(`DELETE FROM merkle_blocks WHERE block_header_id=?`, headerID)
	return err
}

// TxsByBlockID returns every Tx currently linked to headerID.
func (s *Session) TxsByBlockID(headerID int64) ([]*Tx, error) {
	rows, err := s.query(`SELECT `+txCols+` FROM txs WHERE block_id=?`, headerID)
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

// BlockIndexUnknown is the sentinel spec.md's insert_merkle_block
// assigns to a Tx's block_index: the core never computes a
// merkle-branch-derived position.
const BlockIndexUnknown = 0xffffffff

// LinkTxToIncludingBlock is update_confirmations' per-tx step: if txID
// is named in some persisted MerkleBlock's transaction-hash list and
// isn't already linked, set its blockheader reference. Returns
// whether a link was made.
func (s *Session) LinkTxToIncludingBlock(txID int64, txHash []byte) (bool, error) {
	rows, err := s.query(`SELECT block_header_id, tx_hashes FROM merkle_blocks`)
	if err != nil {
		return false, err
	}
	defer rows.Close()

	var headerID int64
	found := false
	for rows.Next() {
		var hid int64
		var packed []byte
		if err := rows.Scan(&hid, &packed); err != nil {
			return false, err
		}
		for _, h := range unpackHashes(packed) {
			if bytes.Equal(h, txHash) {
				headerID = hid
				found = true
				break
			}
		}
		if found {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}

	t, err := s.TxByID(txID)
	if err != nil {
		return false, err
	}
	t.BlockID = &headerID
	t.BlockIndex = BlockIndexUnknown
	if err := s.UpdateTx(t); err != nil {
		return false, err
	}
	return true, nil
}

func packHashes(hashes [][]byte) []byte {
	buf := make([]byte, 0, len(hashes)*32)
	for _, h := range hashes {
		buf = append(buf, h...)
	}
	return buf
}

func unpackHashes(packed []byte) [][]byte {
	var out [][]byte
	for i := 0; i+32 <= len(packed); i += 32 {
		h := make([]byte, 32)
		copy(h, packed[i:i+32])
		out = append(out, h)
	}
	return out
}
