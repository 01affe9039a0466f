package keychain

import (
	"bytes"
	"fmt"

	"github.com/lightningnetwork/lnd/tlv"

	"github.com/moneymikec/mSIGNA/internal/vaulterr"
	"github.com/moneymikec/mSIGNA/store"
)

// TLV types for a keychain export blob. Field numbering is part of
// the wire format and must never be reassigned.
const (
	tlvName                = 0
	tlvExtPubKey           = 1
	tlvDepth               = 2
	tlvChildNum            = 3
	tlvParentFP            = 4
	tlvChainCodeEnc        = 5
	tlvChainCodeSalt       = 6
	tlvChainCodeN          = 7
	tlvChainCodeR          = 8
	tlvChainCodeP          = 9
	tlvHasPrivate          = 10
	tlvPrivKeyEnc          = 11
	tlvPrivKeyCipherParams = 12
)

// Export serializes name as a self-contained TLV blob. withPrivate
// includes the encrypted private-key material when the keychain has
// one; the blob remains encrypted exactly as stored, so exporting
// never requires an unlock key.
func (s *Store) Export(name string, withPrivate bool) ([]byte, error) {
	kc, err := s.ByName(name)
	if err != nil {
		return nil, err
	}
	row := kc.row

	nameBytes := []byte(row.Name)
	depth := row.Depth
	childNum := row.ChildNum
	parentFP := row.ParentFP
	ccN := uint32(row.ChainCodeN)
	ccR := uint32(row.ChainCodeR)
	ccP := uint32(row.ChainCodeP)
	hasPrivate := withPrivate && row.HasPrivate

	records := []tlv.Record{
		tlv.MakePrimitiveRecord(tlvName, &nameBytes),
		tlv.MakePrimitiveRecord(tlvExtPubKey, &row.ExtPubKey),
		tlv.MakePrimitiveRecord(tlvDepth, &depth),
		tlv.MakePrimitiveRecord(tlvChildNum, &childNum),
		tlv.MakePrimitiveRecord(tlvParentFP, &parentFP),
		tlv.MakePrimitiveRecord(tlvChainCodeEnc, &row.ChainCodeEnc),
		tlv.MakePrimitiveRecord(tlvChainCodeSalt, &row.ChainCodeSalt),
		tlv.MakePrimitiveRecord(tlvChainCodeN, &ccN),
		tlv.MakePrimitiveRecord(tlvChainCodeR, &ccR),
		tlv.MakePrimitiveRecord(tlvChainCodeP, &ccP),
		tlv.MakePrimitiveRecord(tlvHasPrivate, &hasPrivate),
	}
	if hasPrivate {
		records = append(records,
			tlv.MakePrimitiveRecord(tlvPrivKeyEnc, &row.PrivKeyEnc),
			tlv.MakePrimitiveRecord(tlvPrivKeyCipherParams, &row.PrivKeyCipherParams),
		)
	}

	stream, err := tlv.NewStream(records...)
	if err != nil {
		return nil, fmt.Errorf("build export stream: %w", err)
	}
	var buf bytes.Buffer
	if err := stream.Encode(&buf); err != nil {
		return nil, fmt.Errorf("encode keychain blob: %w", err)
	}
	return buf.Bytes(), nil
}

// Import decodes a blob produced by Export and implements spec.md's
// import_keychain(blob, want_privkeys): if a keychain with the same
// content hash is already stored, a private incoming blob upgrades a
// public stored record in place by copying the blob's encrypted
// private key and cipher parameters onto it as they are (unlike
// AddPrivateKey, nothing is re-encrypted); any other collision fails with
// ErrKeychainAlreadyExists. Otherwise the blob is persisted as a new
// row, its name disambiguated with a numeric suffix on conflict rather
// than failing outright. wantPrivKeys false strips private material
// before persisting even if the blob carried it.
func (s *Store) Import(blob []byte, wantPrivKeys bool) (*Keychain, error) {
	var (
		nameBytes                   []byte
		extPubKey                   []byte
		depth                       uint8
		childNum, parentFP          uint32
		chainCodeEnc, chainCodeSalt []byte
		ccN, ccR, ccP               uint32
		hasPrivate                  bool
		privKeyEnc, privKeyCipher   []byte
	)

	records := []tlv.Record{
		tlv.MakePrimitiveRecord(tlvName, &nameBytes),
		tlv.MakePrimitiveRecord(tlvExtPubKey, &extPubKey),
		tlv.MakePrimitiveRecord(tlvDepth, &depth),
		tlv.MakePrimitiveRecord(tlvChildNum, &childNum),
		tlv.MakePrimitiveRecord(tlvParentFP, &parentFP),
		tlv.MakePrimitiveRecord(tlvChainCodeEnc, &chainCodeEnc),
		tlv.MakePrimitiveRecord(tlvChainCodeSalt, &chainCodeSalt),
		tlv.MakePrimitiveRecord(tlvChainCodeN, &ccN),
		tlv.MakePrimitiveRecord(tlvChainCodeR, &ccR),
		tlv.MakePrimitiveRecord(tlvChainCodeP, &ccP),
		tlv.MakePrimitiveRecord(tlvHasPrivate, &hasPrivate),
		tlv.MakePrimitiveRecord(tlvPrivKeyEnc, &privKeyEnc),
		tlv.MakePrimitiveRecord(tlvPrivKeyCipherParams, &privKeyCipher),
	}
	stream, err := tlv.NewStream(records...)
	if err != nil {
		return nil, fmt.Errorf("build import stream: %w", err)
	}
	if _, err := stream.DecodeWithParsedTypes(bytes.NewReader(blob)); err != nil {
		return nil, fmt.Errorf("decode keychain blob: %w", err)
	}

	if !wantPrivKeys {
		hasPrivate = false
		privKeyEnc, privKeyCipher = nil, nil
	}

	contentHash := ContentHash(extPubKey, depth, childNum, parentFP)
	existing, err := s.sess.KeychainByContentHash(contentHash)
	if err != nil && err != store.ErrNotFound {
		return nil, err
	}
	if err == nil {
		if hasPrivate && !existing.HasPrivate {
			existing.HasPrivate = true
			existing.PrivKeyEnc = privKeyEnc
			existing.PrivKeyCipherParams = privKeyCipher
			if err := s.sess.UpdateKeychain(existing); err != nil {
				return nil, err
			}
			return wrap(existing), nil
		}
		return nil, vaulterr.New(vaulterr.ErrKeychainAlreadyExists,
			"keychain with this content hash is already stored", nil)
	}

	name, err := s.disambiguateName(string(nameBytes))
	if err != nil {
		return nil, err
	}

	row := &store.Keychain{
		Name:                name,
		Depth:               depth,
		ChildNum:            childNum,
		ParentFP:            parentFP,
		ExtPubKey:           extPubKey,
		ChainCodeEnc:        chainCodeEnc,
		ChainCodeSalt:       chainCodeSalt,
		ChainCodeN:          int(ccN),
		ChainCodeR:          int(ccR),
		ChainCodeP:          int(ccP),
		HasPrivate:          hasPrivate,
		PrivKeyEnc:          privKeyEnc,
		PrivKeyCipherParams: privKeyCipher,
		ContentHash:         contentHash,
	}

	inserted, err := s.sess.InsertKeychain(row)
	if err != nil {
		return nil, err
	}
	return wrap(inserted), nil
}

// disambiguateName returns base unchanged if it's free, otherwise
// base+"1", base+"2", ... up to the first unused suffix.
func (s *Store) disambiguateName(base string) (string, error) {
	exists, err := s.sess.KeychainNameExists(base)
	if err != nil {
		return "", err
	}
	if !exists {
		return base, nil
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s%d", base, i)
		exists, err := s.sess.KeychainNameExists(candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
}
