// Package keychain implements spec.md component B: hierarchical
// deterministic key material, identified by content hash and
// independently lockable on two axes (chain code, private key).
package keychain

import (
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/moneymikec/mSIGNA/cryptosvc"
	"github.com/moneymikec/mSIGNA/internal/loggers"
	"github.com/moneymikec/mSIGNA/internal/secret"
	"github.com/moneymikec/mSIGNA/internal/vaulterr"
	"github.com/moneymikec/mSIGNA/store"
)

// Keychain is the in-memory view of a store.Keychain row, handed back
// to callers after a Store operation.
type Keychain struct {
	row *store.Keychain
}

func wrap(row *store.Keychain) *Keychain { return &Keychain{row: row} }

// FromRow wraps an already-loaded store.Keychain row without a second
// store lookup. Used by callers (the account package) that fetched
// the row themselves, e.g. via KeychainByID inside a larger query.
func FromRow(row *store.Keychain) *Keychain { return wrap(row) }

func (k *Keychain) ID() int64            { return k.row.ID }
func (k *Keychain) Name() string         { return k.row.Name }
func (k *Keychain) ContentHash() []byte  { return k.row.ContentHash }
func (k *Keychain) Depth() uint8         { return k.row.Depth }
func (k *Keychain) ChildNum() uint32     { return k.row.ChildNum }
func (k *Keychain) ParentFP() uint32     { return k.row.ParentFP }
func (k *Keychain) ExtPubKey() []byte    { return k.row.ExtPubKey }
func (k *Keychain) HasPrivate() bool     { return k.row.HasPrivate }

// ContentHash computes a Keychain's identity hash: double-SHA256 of
// the extended public key concatenated with depth, child number and
// parent fingerprint, per spec.md section 3's Keychain identity rule.
func ContentHash(extPubKey []byte, depth uint8, childNum, parentFP uint32) []byte {
	buf := make([]byte, 0, len(extPubKey)+1+4+4)
	buf = append(buf, extPubKey...)
	buf = append(buf, depth)
	buf = binary.BigEndian.AppendUint32(buf, childNum)
	buf = binary.BigEndian.AppendUint32(buf, parentFP)
	h := cryptosvc.DoubleSHA256(buf)
	return h[:]
}

// Store is the keychain capability's entry point: a thin domain layer
// over a store.Session plus the process-wide UnlockMaps, mirroring the
// way waddrmgr.Manager pairs a walletdb namespace with its own runtime
// crypto-key cache.
type Store struct {
	sess    *store.Session
	unlocks *UnlockMaps
}

// New returns a keychain Store bound to sess and unlocks. The vault
// façade constructs exactly one of these per call, reusing the same
// UnlockMaps across the process lifetime.
func New(sess *store.Session, unlocks *UnlockMaps) *Store {
	return &Store{sess: sess, unlocks: unlocks}
}

// NewKeychain creates a root keychain from entropy, locked immediately
// under chainCodeKey (chain code) and privKeyKey (private key, when
// non-nil). A nil privKeyKey creates a public-only keychain that can
// later be upgraded via AddPrivateKey.
func (s *Store) NewKeychain(name string, entropy []byte, salt []byte, chainCodeKey, privKeyKey *secret.Bytes) (*Keychain, error) {
	exists, err := s.sess.KeychainNameExists(name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, vaulterr.New(vaulterr.ErrKeychainAlreadyExists, "keychain name in use: "+name, nil)
	}

	master, err := cryptosvc.NewMasterKey(entropy)
	if err != nil {
		return nil, vaulterr.New(vaulterr.ErrKeychainInvalidPrivateKey, "derive master key", err)
	}
	defer master.Zero()

	extPub, err := master.Neuter()
	if err != nil {
		return nil, err
	}
	extPubBytes := []byte(extPub.String())

	chainCode := master.ChainCode()
	ccCipher, ccParams, err := cryptosvc.NewChainCodeCipher(chainCodeKey, salt)
	if err != nil {
		return nil, err
	}
	defer ccCipher.Zero()
	chainCodeEnc, err := ccCipher.Encrypt(chainCode)
	if err != nil {
		return nil, err
	}

	row := &store.Keychain{
		Name:          name,
		Depth:         0,
		ChildNum:      0,
		ParentFP:      0,
		ExtPubKey:     extPubBytes,
		ChainCodeEnc:  chainCodeEnc,
		ChainCodeSalt: ccParams.Salt,
		ChainCodeN:    ccParams.N,
		ChainCodeR:    ccParams.R,
		ChainCodeP:    ccParams.P,
	}
	row.ContentHash = ContentHash(row.ExtPubKey, row.Depth, row.ChildNum, row.ParentFP)

	if privKeyKey != nil {
		privKey, err := master.ECPrivKey()
		if err != nil {
			return nil, err
		}
		privBytes := privKey.Serialize()
		defer zero(privBytes)
		pkCipher, pkParams, err := cryptosvc.NewPrivateKeyCipher(privKeyKey)
		if err != nil {
			return nil, err
		}
		defer pkCipher.Zero()
		privEnc, err := pkCipher.Encrypt(privBytes)
		if err != nil {
			return nil, err
		}
		row.HasPrivate = true
		row.PrivKeyEnc = privEnc
		row.PrivKeyCipherParams = pkParams
	}

	inserted, err := s.sess.InsertKeychain(row)
	if err != nil {
		return nil, err
	}

	s.unlocks.setChainCode(name, chainCodeKey)
	if privKeyKey != nil {
		s.unlocks.setPrivateKey(name, privKeyKey)
	}

	loggers.Keychain.Infof("created keychain %q (private=%v)", name, row.HasPrivate)
	return wrap(inserted), nil
}

// ByName loads an existing keychain by its display name.
func (s *Store) ByName(name string) (*Keychain, error) {
	row, err := s.sess.KeychainByName(name)
	if err == store.ErrNotFound {
		return nil, vaulterr.New(vaulterr.ErrKeychainNotFound, "keychain not found: "+name, nil)
	}
	if err != nil {
		return nil, err
	}
	return wrap(row), nil
}

// ByContentHash loads an existing keychain by its identity hash.
func (s *Store) ByContentHash(hash []byte) (*Keychain, error) {
	row, err := s.sess.KeychainByContentHash(hash)
	if err == store.ErrNotFound {
		return nil, vaulterr.New(vaulterr.ErrKeychainNotFound, "keychain not found", nil)
	}
	if err != nil {
		return nil, err
	}
	return wrap(row), nil
}

// Rename changes a keychain's display name.
func (s *Store) Rename(oldName, newName string) error {
	kc, err := s.ByName(oldName)
	if err != nil {
		return err
	}
	exists, err := s.sess.KeychainNameExists(newName)
	if err != nil {
		return err
	}
	if exists {
		return vaulterr.New(vaulterr.ErrKeychainAlreadyExists, "keychain name in use: "+newName, nil)
	}
	kc.row.Name = newName
	return s.sess.UpdateKeychain(kc.row)
}

// LockChainCode drops the cached chain-code unlock key for name.
func (s *Store) LockChainCode(name string) { s.unlocks.LockChainCode(name) }

// LockPrivateKey drops the cached private-key unlock key for name.
func (s *Store) LockPrivateKey(name string) { s.unlocks.LockPrivateKey(name) }

// LockAllChainCodes drops every cached chain-code unlock key.
func (s *Store) LockAllChainCodes() { s.unlocks.LockAllChainCodes() }

// LockAllPrivateKeys drops every cached private-key unlock key.
func (s *Store) LockAllPrivateKeys() { s.unlocks.LockAllPrivateKeys() }

// ChainCodeUnlocked reports whether name currently has a cached
// chain-code unlock key.
func (s *Store) ChainCodeUnlocked(name string) bool { return s.unlocks.ChainCodeUnlocked(name) }

// PrivateKeyUnlocked reports whether name currently has a cached
// private-key unlock key.
func (s *Store) PrivateKeyUnlocked(name string) bool { return s.unlocks.PrivateKeyUnlocked(name) }

// UnlockChainCode caches key as name's chain-code unlock key. The key
// isn't verified until first use (DecryptChainCode), matching
// waddrmgr's lazy-verification behavior for crypto keys.
func (s *Store) UnlockChainCode(name string, key *secret.Bytes) error {
	if _, err := s.ByName(name); err != nil {
		return err
	}
	s.unlocks.setChainCode(name, key)
	return nil
}

// UnlockPrivateKey caches key as name's private-key unlock key.
func (s *Store) UnlockPrivateKey(name string, key *secret.Bytes) error {
	kc, err := s.ByName(name)
	if err != nil {
		return err
	}
	if !kc.HasPrivate() {
		return vaulterr.New(vaulterr.ErrKeychainIsNotPrivate, "keychain has no private key: "+name, nil)
	}
	s.unlocks.setPrivateKey(name, key)
	return nil
}

// AddPrivateKey upgrades a public-only keychain to private, per
// spec.md's invariant that an existing chain-code unlock state is
// unaffected by adding a private key. Requires the chain code to
// currently be unlocked, since the private scalar and chain code must
// both derive from the same master seed material supplied here.
func (s *Store) AddPrivateKey(name string, privKey []byte, privKeyKey *secret.Bytes) error {
	kc, err := s.ByName(name)
	if err != nil {
		return err
	}
	if kc.HasPrivate() {
		return nil
	}
	pkCipher, pkParams, err := cryptosvc.NewPrivateKeyCipher(privKeyKey)
	if err != nil {
		return err
	}
	defer pkCipher.Zero()
	enc, err := pkCipher.Encrypt(privKey)
	if err != nil {
		return err
	}
	kc.row.HasPrivate = true
	kc.row.PrivKeyEnc = enc
	kc.row.PrivKeyCipherParams = pkParams
	if err := s.sess.UpdateKeychain(kc.row); err != nil {
		return err
	}
	s.unlocks.setPrivateKey(name, privKeyKey)
	return nil
}

// DecryptChainCode returns the plaintext chain code for kc, requiring
// its chain-code unlock key to be cached.
func (s *Store) DecryptChainCode(kc *Keychain) ([]byte, error) {
	key, ok := s.unlocks.getChainCode(kc.Name())
	if !ok {
		return nil, vaulterr.ChainCodeLocked([]string{kc.Name()})
	}
	params := cryptosvc.ChainCodeCipherParams{
		Salt: kc.row.ChainCodeSalt, N: kc.row.ChainCodeN, R: kc.row.ChainCodeR, P: kc.row.ChainCodeP,
	}
	cipher, err := cryptosvc.OpenChainCodeCipher(params, key)
	if err != nil {
		return nil, err
	}
	defer cipher.Zero()
	plain, err := cipher.Decrypt(kc.row.ChainCodeEnc)
	if err != nil {
		return nil, vaulterr.New(vaulterr.ErrKeychainChainCodeUnlockFailed, "wrong chain-code unlock key: "+kc.Name(), err)
	}
	return plain, nil
}

// DecryptPrivateKey returns the plaintext BIP32 private scalar for kc,
// requiring both its chain-code and private-key unlock keys to be
// cached (the chain code is needed to reconstruct a usable extended
// key for child derivation).
func (s *Store) DecryptPrivateKey(kc *Keychain) ([]byte, error) {
	if !kc.HasPrivate() {
		return nil, vaulterr.New(vaulterr.ErrKeychainIsNotPrivate, "keychain has no private key: "+kc.Name(), nil)
	}
	key, ok := s.unlocks.getPrivateKey(kc.Name())
	if !ok {
		return nil, vaulterr.New(vaulterr.ErrKeychainPrivateKeyUnlockFailed, "private key locked: "+kc.Name(), nil)
	}
	cipher, err := cryptosvc.OpenPrivateKeyCipher(kc.row.PrivKeyCipherParams, key)
	if err != nil {
		return nil, vaulterr.New(vaulterr.ErrKeychainPrivateKeyUnlockFailed, "wrong private-key unlock key: "+kc.Name(), err)
	}
	defer cipher.Zero()
	plain, err := cipher.Decrypt(kc.row.PrivKeyEnc)
	if err != nil {
		return nil, vaulterr.New(vaulterr.ErrKeychainPrivateKeyUnlockFailed, "private key decryption failed: "+kc.Name(), err)
	}
	return plain, nil
}

// DerivePublicKey derives the non-hardened child at index from kc's
// extended public key — the common case used to populate an
// AccountBin's pool of signing scripts, never requiring any unlock.
func (s *Store) DerivePublicKey(kc *Keychain, index uint32) (*btcec.PublicKey, error) {
	extPub, err := parseExtKey(kc.row.ExtPubKey)
	if err != nil {
		return nil, err
	}
	child, err := cryptosvc.DeriveChild(extPub, index)
	if err != nil {
		return nil, fmt.Errorf("derive child %d of %q: %w", index, kc.Name(), err)
	}
	return child.ECPubKey()
}

// DerivePrivateKey derives the child private key at index from kc,
// requiring kc's private key to be unlocked. Used only at signing
// time (spec.md component E), never for script issuance.
func (s *Store) DerivePrivateKey(kc *Keychain, index uint32) (*btcec.PrivateKey, error) {
	chainCode, err := s.DecryptChainCode(kc)
	if err != nil {
		return nil, err
	}
	privBytes, err := s.DecryptPrivateKey(kc)
	if err != nil {
		return nil, err
	}
	defer zero(privBytes)

	extPriv, err := rebuildExtKey(kc.row, chainCode, privBytes)
	if err != nil {
		return nil, err
	}
	defer extPriv.Zero()

	child, err := cryptosvc.DeriveChild(extPriv, index)
	if err != nil {
		return nil, fmt.Errorf("derive child %d of %q: %w", index, kc.Name(), err)
	}
	defer child.Zero()
	return child.ECPrivKey()
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
