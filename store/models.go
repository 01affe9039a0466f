// Package store is the persistence contract of spec.md section 6: a
// relational backend reached through database/sql, wrapped in a
// Session that gives the core an identity map for the lifetime of one
// transaction (spec.md section 9, "Object-relational mapping of
// pointer graphs" — rows carry foreign IDs, never pointers, and the
// Session guarantees that loading the same ID twice inside one
// transaction returns the same *Keychain/*Account/... instance).
package store

import "time"

// TxStatus mirrors spec.md's Tx status machine.
type TxStatus int

const (
	TxUnsigned TxStatus = iota
	TxUnsent
	TxSent
	TxPropagated
	TxConfirmed
	TxConflicting
)

func (s TxStatus) String() string {
	switch s {
	case TxUnsigned:
		return "UNSIGNED"
	case TxUnsent:
		return "UNSENT"
	case TxSent:
		return "SENT"
	case TxPropagated:
		return "PROPAGATED"
	case TxConfirmed:
		return "CONFIRMED"
	case TxConflicting:
		return "CONFLICTING"
	default:
		return "UNKNOWN"
	}
}

// ScriptStatus mirrors spec.md's SigningScript status machine.
type ScriptStatus int

const (
	ScriptUnused ScriptStatus = iota
	ScriptIssued
	ScriptUsed
	ScriptChange
)

func (s ScriptStatus) String() string {
	switch s {
	case ScriptUnused:
		return "UNUSED"
	case ScriptIssued:
		return "ISSUED"
	case ScriptUsed:
		return "USED"
	case ScriptChange:
		return "CHANGE"
	default:
		return "UNKNOWN"
	}
}

// TxOutStatus mirrors spec.md's TxOut status.
type TxOutStatus int

const (
	TxOutUnspent TxOutStatus = iota
	TxOutSpent
)

// Keychain is the row form of spec.md's Keychain entity. Identity is
// ContentHash; ID is the store's internal surrogate key used for
// joins only.
type Keychain struct {
	ID           int64
	ContentHash  []byte
	Name         string
	Depth        uint8
	ChildNum     uint32
	ParentFP     uint32
	ParentID     *int64 // weak back-reference, traversal only
	ExtPubKey    []byte // cleartext serialized extended public key
	ChainCodeEnc []byte
	ChainCodeSalt []byte
	ChainCodeN, ChainCodeR, ChainCodeP int
	HasPrivate   bool
	PrivKeyEnc   []byte // nil when HasPrivate is false
	PrivKeyCipherParams []byte // snacl.SecretKey.Marshal() output
}

// Key is the row form of spec.md's Key entity: a concrete derived
// child owned by a Keychain at an index.
type Key struct {
	ID          int64
	KeychainID  int64
	Index       uint32
	PubKey      []byte
	IsPrivate   bool
	PrivKeyEnc  []byte
}

// Account is the row form of spec.md's Account entity.
type Account struct {
	ID              int64
	ContentHash     []byte
	Name            string
	M               int
	KeychainIDs     []int64 // ordered
	UnusedPoolSize  int
	CreatedAt       time.Time
}

// AccountBin is the row form of spec.md's AccountBin entity.
type AccountBin struct {
	ID              int64
	AccountID       int64
	Name            string
	IsChange        bool
	NextScriptIndex uint32
}

// SigningScript is the row form of spec.md's SigningScript entity.
type SigningScript struct {
	ID           int64
	BinID        int64
	Index        uint32
	Status       ScriptStatus
	TxOutScript  []byte
	TxInScript   []byte // EDIT-form template with signature placeholders
	Label        string
	KeyIDs       []int64 // one per account keychain, same order as Account.KeychainIDs
}

// Tx is the row form of spec.md's Tx entity.
type Tx struct {
	ID           int64
	Hash         []byte // txid of the current, possibly partially signed, raw form; recomputed as signatures are added
	UnsignedHash []byte
	RawTx        []byte
	Status       TxStatus
	BlockID      *int64
	BlockIndex   uint32 // sentinel 0xffffffff until backfilled (never, per spec)
	Fee          uint64
	FeeKnown     bool
	Timestamp    time.Time
	SendingAccountID *int64
}

// TxIn is the row form of spec.md's TxIn entity.
type TxIn struct {
	ID         int64
	TxID       int64
	TxIndex    uint32
	OutHash    []byte
	OutIndex   uint32
	Script     []byte
	Sequence   uint32
}

// TxOut is the row form of spec.md's TxOut entity.
type TxOut struct {
	ID              int64
	TxID            int64
	TxIndex         uint32
	Value           uint64
	TxOutScript     []byte
	Status          TxOutStatus
	SigningScriptID *int64
	SpentByTxInID   *int64
	SendingAccountID *int64
}

// BlockHeader is the row form of spec.md's BlockHeader entity.
type BlockHeader struct {
	ID         int64
	Hash       []byte
	PrevHash   []byte
	MerkleRoot []byte
	Timestamp  time.Time
	Bits       uint32
	Nonce      uint32
	Version    int32
	Height     int32
}

// MerkleBlock is the row form of spec.md's MerkleBlock entity.
type MerkleBlock struct {
	ID            int64
	BlockHeaderID int64
	TxHashes      [][]byte
	FlagBits      []byte
	NumTx         uint32
}
