package account

import (
	"bytes"
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/tlv"

	"github.com/moneymikec/mSIGNA/internal/vaulterr"
	"github.com/moneymikec/mSIGNA/keychain"
	"github.com/moneymikec/mSIGNA/store"
)

// TLV types for an account export blob, mirroring keychain/blob.go's
// field-numbering discipline: numbers are part of the wire format and
// must never be reassigned.
const (
	tlvAcctName           = 0
	tlvAcctM              = 1
	tlvAcctPoolSize       = 2
	tlvAcctKeychainHashes = 3
	tlvAcctBins           = 4
	tlvAcctCreatedAt      = 5
)

// binSpec is one AccountBin's exported shape: enough to re-derive
// every pool entry on import, not the issued/used history of any
// individual script.
type binSpec struct {
	name      string
	isChange  bool
	nextIndex uint32
}

func encodeBins(bins []binSpec) []byte {
	var buf bytes.Buffer
	for _, b := range bins {
		buf.WriteByte(byte(len(b.name)))
		buf.WriteString(b.name)
		if b.isChange {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
		var idx [4]byte
		idx[0] = byte(b.nextIndex >> 24)
		idx[1] = byte(b.nextIndex >> 16)
		idx[2] = byte(b.nextIndex >> 8)
		idx[3] = byte(b.nextIndex)
		buf.Write(idx[:])
	}
	return buf.Bytes()
}

func decodeBins(raw []byte) ([]binSpec, error) {
	var out []binSpec
	for len(raw) > 0 {
		nameLen := int(raw[0])
		raw = raw[1:]
		if len(raw) < nameLen+5 {
			return nil, fmt.Errorf("account: truncated bin record")
		}
		name := string(raw[:nameLen])
		raw = raw[nameLen:]
		isChange := raw[0] == 1
		next := uint32(raw[1])<<24 | uint32(raw[2])<<16 | uint32(raw[3])<<8 | uint32(raw[4])
		raw = raw[5:]
		out = append(out, binSpec{name: name, isChange: isChange, nextIndex: next})
	}
	return out, nil
}

// Export serializes acct as a self-contained TLV blob: identity
// policy, the content hashes of its keychains in their original
// ordering (order is significant — it's baked into the identity
// content hash), and every bin's name/kind/next_script_index.
func (s *Store) Export(acct *Account) ([]byte, error) {
	hashes := make([]byte, 0, 32*len(acct.row.KeychainIDs))
	for _, id := range acct.row.KeychainIDs {
		kcRow, err := s.sess.KeychainByID(id)
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, keychain.FromRow(kcRow).ContentHash()...)
	}

	binRows, err := s.sess.AccountBins(acct.ID())
	if err != nil {
		return nil, err
	}
	bins := make([]binSpec, len(binRows))
	for i, b := range binRows {
		bins[i] = binSpec{name: b.Name, isChange: b.IsChange, nextIndex: b.NextScriptIndex}
	}
	binsBlob := encodeBins(bins)

	nameBytes := []byte(acct.row.Name)
	m := uint32(acct.row.M)
	poolSize := uint32(acct.row.UnusedPoolSize)
	createdAt := uint64(acct.row.CreatedAt.Unix())

	records := []tlv.Record{
		tlv.MakePrimitiveRecord(tlvAcctName, &nameBytes),
		tlv.MakePrimitiveRecord(tlvAcctM, &m),
		tlv.MakePrimitiveRecord(tlvAcctPoolSize, &poolSize),
		tlv.MakePrimitiveRecord(tlvAcctKeychainHashes, &hashes),
		tlv.MakePrimitiveRecord(tlvAcctBins, &binsBlob),
		tlv.MakePrimitiveRecord(tlvAcctCreatedAt, &createdAt),
	}
	stream, err := tlv.NewStream(records...)
	if err != nil {
		return nil, fmt.Errorf("build account export stream: %w", err)
	}
	var buf bytes.Buffer
	if err := stream.Encode(&buf); err != nil {
		return nil, fmt.Errorf("encode account blob: %w", err)
	}
	return buf.Bytes(), nil
}

// Import decodes a blob produced by Export, re-deriving every pool
// entry up to each bin's recorded next_script_index plus the account's
// unused_pool_size lookahead. Every referenced keychain must already
// be present in this vault by content hash — Import never creates a
// keychain on the caller's behalf.
func (s *Store) Import(blob []byte) (*Account, error) {
	var (
		nameBytes        []byte
		m, poolSize      uint32
		hashes, binsBlob []byte
		createdAt        uint64
	)
	records := []tlv.Record{
		tlv.MakePrimitiveRecord(tlvAcctName, &nameBytes),
		tlv.MakePrimitiveRecord(tlvAcctM, &m),
		tlv.MakePrimitiveRecord(tlvAcctPoolSize, &poolSize),
		tlv.MakePrimitiveRecord(tlvAcctKeychainHashes, &hashes),
		tlv.MakePrimitiveRecord(tlvAcctBins, &binsBlob),
		tlv.MakePrimitiveRecord(tlvAcctCreatedAt, &createdAt),
	}
	stream, err := tlv.NewStream(records...)
	if err != nil {
		return nil, fmt.Errorf("build account import stream: %w", err)
	}
	if _, err := stream.DecodeWithParsedTypes(bytes.NewReader(blob)); err != nil {
		return nil, fmt.Errorf("decode account blob: %w", err)
	}

	name := string(nameBytes)
	exists, err := s.sess.AccountNameExists(name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, vaulterr.New(vaulterr.ErrAccountAlreadyExists, "account name in use: "+name, nil)
	}

	n := len(hashes) / 32
	kcs := make([]*keychain.Keychain, n)
	hashList := make([][]byte, n)
	var keychainIDs []int64
	for i := 0; i < n; i++ {
		h := hashes[i*32 : (i+1)*32]
		hashList[i] = h
		kc, err := s.kc.ByContentHash(h)
		if err != nil {
			return nil, err
		}
		kcs[i] = kc
		keychainIDs = append(keychainIDs, kc.ID())
	}

	bins, err := decodeBins(binsBlob)
	if err != nil {
		return nil, err
	}

	row := &store.Account{
		Name:           name,
		M:              int(m),
		UnusedPoolSize: int(poolSize),
		CreatedAt:      time.Unix(int64(createdAt), 0).UTC(),
		ContentHash:    ContentHash(hashList, int(m), n),
		KeychainIDs:    keychainIDs,
	}
	inserted, err := s.sess.InsertAccount(row)
	if err != nil {
		return nil, err
	}
	acct := wrapAccount(inserted)

	for _, bs := range bins {
		binRow, err := s.sess.InsertBin(&store.AccountBin{
			AccountID:       acct.ID(),
			Name:            bs.name,
			IsChange:        bs.isChange,
			NextScriptIndex: 0,
		})
		if err != nil {
			return nil, err
		}
		bin := wrapBin(binRow)
		total := bs.nextIndex + uint32(poolSize)
		for idx := uint32(0); idx < total; idx++ {
			if err := s.generateScript(acct, bin, kcs, idx); err != nil {
				return nil, err
			}
		}
		bin.row.NextScriptIndex = total
		if err := s.sess.UpdateBinNextIndex(bin.row); err != nil {
			return nil, err
		}
	}

	return acct, nil
}
