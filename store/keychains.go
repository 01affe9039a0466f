package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned by lookup methods when no row matches. The
// keychain/account/txengine packages translate it into the relevant
// vaulterr kind, since "not found" means something different in each
// domain (KeychainNotFound vs AccountNotFound vs TxNotFound).
var ErrNotFound = errors.New("store: not found")

func (s *Session) cacheKeychain(k *Keychain) *Keychain {
	if existing, ok := s.keychains[k.ID]; ok {
		return existing
	}
	s.keychains[k.ID] = k
	return k
}

const keychainCols = `id, content_hash, name, depth, child_num, parent_fp, parent_id,
	ext_pub_key, chain_code_enc, chain_code_salt, chain_code_n, chain_code_r,
	chain_code_p, has_private, priv_key_enc, priv_key_cipher_params`

func scanKeychain(row interface{ Scan(...interface{}) error }) (*Keychain, error) {
	k := &Keychain{}
	var parentID sql.NullInt64
	var privKeyEnc, privParams []byte
	err := row.Scan(&k.ID, &k.ContentHash, &k.Name, &k.Depth, &k.ChildNum, &k.ParentFP,
		&parentID, &k.ExtPubKey, &k.ChainCodeEnc, &k.ChainCodeSalt, &k.ChainCodeN,
		&k.ChainCodeR, &k.ChainCodeP, &k.HasPrivate, &privKeyEnc, &privParams)
	if err != nil {
		return nil, err
	}
	if parentID.Valid {
		id := parentID.Int64
		k.ParentID = &id
	}
	k.PrivKeyEnc = privKeyEnc
	k.PrivKeyCipherParams = privParams
	return k, nil
}

// InsertKeychain persists a new keychain row.
func (s *Session) InsertKeychain(k *Keychain) (*Keychain, error) {
	id, err := s.insertReturningID("keychains",
		[]string{"content_hash", "name", "depth", "child_num", "parent_fp", "parent_id",
			"ext_pub_key", "chain_code_enc", "chain_code_salt", "chain_code_n",
			"chain_code_r", "chain_code_p", "has_private", "priv_key_enc",
			"priv_key_cipher_params"},
		k.ContentHash, k.Name, k.Depth, k.ChildNum, k.ParentFP, nullInt64(k.ParentID),
		k.ExtPubKey, k.ChainCodeEnc, k.ChainCodeSalt, k.ChainCodeN, k.ChainCodeR,
		k.ChainCodeP, k.HasPrivate, k.PrivKeyEnc, k.PrivKeyCipherParams)
	if err != nil {
		return nil, fmt.Errorf("insert keychain: %w", err)
	}
	k.ID = id
	return s.cacheKeychain(k), nil
}

// UpdateKeychain writes back mutable fields (used for the private-key
// upgrade path and rename).
func (s *Session) UpdateKeychain(k *Keychain) error {
	_, err := s.exec(`UPDATE keychains SET name=?, has_private=?, priv_key_enc=?,
		priv_key_cipher_params=? WHERE id=?`,
		k.Name, k.HasPrivate, k.PrivKeyEnc, k.PrivKeyCipherParams, k.ID)
	return err
}

// KeychainByID loads (or returns the cached instance for) id.
func (s *Session) KeychainByID(id int64) (*Keychain, error) {
	if k, ok := s.keychains[id]; ok {
		return k, nil
	}
	row := s.queryRow(`SELECT `+keychainCols+` FROM keychains WHERE id=?`, id)
	k, err := scanKeychain(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.cacheKeychain(k), nil
}

// KeychainByName loads a keychain by its unique display name.
func (s *Session) KeychainByName(name string) (*Keychain, error) {
	row := s.queryRow(`SELECT `+keychainCols+` FROM keychains WHERE name=?`, name)
	k, err := scanKeychain(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.cacheKeychain(k), nil
}

// KeychainByContentHash loads a keychain by its identity hash.
func (s *Session) KeychainByContentHash(hash []byte) (*Keychain, error) {
	row := s.queryRow(`SELECT `+keychainCols+` FROM keychains WHERE content_hash=?`, hash)
	k, err := scanKeychain(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.cacheKeychain(k), nil
}

// KeychainNameExists reports whether name is already taken, used to
// generate the "1", "2", ... suffixes import_keychain needs on name
// collision.
func (s *Session) KeychainNameExists(name string) (bool, error) {
	var one int
	err := s.queryRow(`SELECT 1 FROM keychains WHERE name=?`, name).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (s *Session) cacheKey(k *Key) *Key {
	if existing, ok := s.keys[k.ID]; ok {
		return existing
	}
	s.keys[k.ID] = k
	return k
}

// InsertKey persists a new derived child key row.
func (s *Session) InsertKey(k *Key) (*Key, error) {
	id, err := s.insertReturningID("keys",
		[]string{"keychain_id", "key_index", "pub_key", "is_private", "priv_key_enc"},
		k.KeychainID, k.Index, k.PubKey, k.IsPrivate, k.PrivKeyEnc)
	if err != nil {
		return nil, fmt.Errorf("insert key: %w", err)
	}
	k.ID = id
	return s.cacheKey(k), nil
}

// KeyByID loads a key by surrogate ID.
func (s *Session) KeyByID(id int64) (*Key, error) {
	if k, ok := s.keys[id]; ok {
		return k, nil
	}
	row := s.queryRow(`SELECT id, keychain_id, key_index, pub_key, is_private, priv_key_enc
		FROM keys WHERE id=?`, id)
	k := &Key{}
	err := row.Scan(&k.ID, &k.KeychainID, &k.Index, &k.PubKey, &k.IsPrivate, &k.PrivKeyEnc)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.cacheKey(k), nil
}

// KeyByPubKey finds the Key owning pub, across all keychains — used
// by the signing pipeline to resolve a missing signer's pubkey back
// to its owning root keychain.
func (s *Session) KeyByPubKey(pub []byte) (*Key, error) {
	row := s.queryRow(`SELECT id, keychain_id, key_index, pub_key, is_private, priv_key_enc
		FROM keys WHERE pub_key=?`, pub)
	k := &Key{}
	err := row.Scan(&k.ID, &k.KeychainID, &k.Index, &k.PubKey, &k.IsPrivate, &k.PrivKeyEnc)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.cacheKey(k), nil
}

func nullInt64(p *int64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}
