// Package chainmgr implements spec.md component F: the minimal block
// index the vault core needs to track confirmation depth and detect
// reorgs, without ever validating proof-of-work or consensus rules
// itself (that is the external full node's job, per spec §1's
// Non-goals).
package chainmgr

import (
	"time"

	"github.com/moneymikec/mSIGNA/internal/loggers"
	"github.com/moneymikec/mSIGNA/store"
)

// TimeHorizonWindow bounds how close to the vault's sync horizon an
// orphan block (one whose predecessor isn't stored) may claim to be
// before insert_merkle_block refuses it outright. Two hours mirrors
// Bitcoin Core's MAX_FUTURE_BLOCK_TIME heuristic for "this is not a
// plausible block to be seeing right now."
const TimeHorizonWindow = 2 * time.Hour

// Header is the caller-supplied block header passed to InsertMerkleBlock.
type Header struct {
	Hash       []byte
	PrevHash   []byte
	MerkleRoot []byte
	Timestamp  time.Time
	Bits       uint32
	Nonce      uint32
	Version    int32
	Height     int32
}

// MerkleBlock is a block header plus the hashes of the transactions
// the calling SPV client has matched against its bloom filter — the
// core never reconstructs or verifies the merkle proof itself.
type MerkleBlock struct {
	Header   Header
	TxHashes [][]byte
	FlagBits []byte
	NumTx    uint32
}

// Store is the chain-engine capability's entry point.
type Store struct {
	sess *store.Session
}

// New returns a chainmgr Store bound to sess.
func New(sess *store.Session) *Store {
	return &Store{sess: sess}
}

// BestHeight returns the maximum stored BlockHeader height, or 0 if
// the vault has never connected a block.
func (s *Store) BestHeight() (int32, error) {
	return s.sess.BestHeightView()
}

// BestConfirmedHeight returns the height of the highest block that
// currently has at least one vault Tx confirmed in it. Returns 0 if no
// Tx is confirmed. It is a standalone accessor: BalanceView takes no
// block-height argument, so balances have no confirmation-depth filter.
func (s *Store) BestConfirmedHeight() (int32, error) {
	return s.sess.BestConfirmedHeightView()
}

// InsertMerkleBlock implements spec.md's insert_merkle_block: orphan
// refusal against the sync horizon, reorg-by-height-truncation, header
// persistence, and confirmation linkage. Returns whether the block was
// accepted.
func (s *Store) InsertMerkleBlock(mb *MerkleBlock) (bool, error) {
	_, err := s.sess.HeaderByHash(mb.Header.PrevHash)
	predecessorKnown := err == nil
	if err != nil && err != store.ErrNotFound {
		return false, err
	}
	if !predecessorKnown {
		horizon, err := s.sess.HorizonTimestampView()
		if err != nil {
			return false, err
		}
		if mb.Header.Timestamp.Add(TimeHorizonWindow).After(horizon) {
			loggers.Chain.Debugf("refusing orphan block %x: too close to sync horizon", mb.Header.Hash)
			return false, nil
		}
	}

	if _, err := s.sess.HeaderByHash(mb.Header.Hash); err == nil {
		return false, nil
	} else if err != store.ErrNotFound {
		return false, err
	}

	if err := s.reorgFrom(mb.Header.Height); err != nil {
		return false, err
	}

	header, err := s.sess.InsertHeader(&store.BlockHeader{
		Hash:       mb.Header.Hash,
		PrevHash:   mb.Header.PrevHash,
		MerkleRoot: mb.Header.MerkleRoot,
		Timestamp:  mb.Header.Timestamp,
		Bits:       mb.Header.Bits,
		Nonce:      mb.Header.Nonce,
		Version:    mb.Header.Version,
		Height:     mb.Header.Height,
	})
	if err != nil {
		return false, err
	}
	if _, err := s.sess.InsertMerkleBlockRow(&store.MerkleBlock{
		BlockHeaderID: header.ID,
		TxHashes:      mb.TxHashes,
		FlagBits:      mb.FlagBits,
		NumTx:         mb.NumTx,
	}); err != nil {
		return false, err
	}

	if err := s.updateConfirmations(mb.TxHashes); err != nil {
		return false, err
	}

	loggers.Chain.Infof("connected block %x at height %d", mb.Header.Hash, mb.Header.Height)
	return true, nil
}

// reorgFrom erases every header at or above minHeight, along with its
// merkle block and the confirmation links of any Tx it carried.
func (s *Store) reorgFrom(minHeight int32) error {
	stale, err := s.sess.HeadersFromHeight(minHeight)
	if err != nil {
		return err
	}
	for _, h := range stale {
		txs, err := s.sess.TxsByBlockID(h.ID)
		if err != nil {
			return err
		}
		for _, t := range txs {
			t.BlockID = nil
			t.BlockIndex = 0
			if err := s.sess.UpdateTx(t); err != nil {
				return err
			}
		}
		if err := s.sess.DeleteMerkleBlockByHeaderID(h.ID); err != nil {
			return err
		}
		if err := s.sess.DeleteHeader(h.ID); err != nil {
			return err
		}
		loggers.Chain.Debugf("reorg: erased header %x at height %d", h.Hash, h.Height)
	}
	return nil
}

// updateConfirmations runs spec.md's update_confirmations step for
// every tx hash this newly connected block carries: a tx already
// stored but not yet linked to a block (whether freshly unconfirmed
// from a prior reorg, or never confirmed) gets its blockheader set.
func (s *Store) updateConfirmations(txHashes [][]byte) error {
	for _, hash := range txHashes {
		t, err := s.sess.TxByHash(hash)
		if err == store.ErrNotFound {
			continue
		}
		if err != nil {
			return err
		}
		if t.BlockID != nil {
			continue
		}
		if _, err := s.sess.LinkTxToIncludingBlock(t.ID, hash); err != nil {
			return err
		}
	}
	return nil
}
