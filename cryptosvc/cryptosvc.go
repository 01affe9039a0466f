// Package cryptosvc is the crypto capability (spec.md component A): a
// thin adapter over the cryptographic primitives the vault core
// consumes but never re-implements — HD child derivation, ECDSA
// sign/verify, hashing, and the two independent symmetric ciphers
// that lock a Keychain's chain code and private key.
package cryptosvc

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcwallet/snacl"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"

	"github.com/moneymikec/mSIGNA/internal/secret"
)

// Params selects the network the HD keys are derived for. Mainnet by
// default; tests use chaincfg.RegressionNetParams.
var Params = &chaincfg.MainNetParams

// Hash160 computes RIPEMD160(SHA256(b)), the standard Bitcoin short
// hash used for P2SH script hashes.
func Hash160(b []byte) []byte {
	return btcutil.Hash160(b)
}

// DoubleSHA256 computes the two-round SHA-256 used for txids and the
// unsigned-hash identity of a Tx.
func DoubleSHA256(b []byte) chainhash.Hash {
	return chainhash.DoubleHashH(b)
}

// NewMasterKey derives a new BIP32 master extended key from entropy.
func NewMasterKey(entropy []byte) (*hdkeychain.ExtendedKey, error) {
	return hdkeychain.NewMaster(entropy, Params)
}

// DeriveChild derives child index i from parent. Hardened derivation
// is used for account-scoped keys by the caller passing i with the
// hdkeychain.HardenedKeyStart bit already set; the keychain/account
// packages never set it themselves since pool indices are
// non-hardened per spec.md's AccountBin model.
func DeriveChild(parent *hdkeychain.ExtendedKey, i uint32) (*hdkeychain.ExtendedKey, error) {
	return parent.Derive(i)
}

// Sign produces a DER-encoded ECDSA signature over digest using priv.
// The caller appends the SIGHASH byte; this function deals only in
// raw signatures.
func Sign(priv *btcec.PrivateKey, digest []byte) []byte {
	sig := ecdsa.Sign(priv, digest)
	return sig.Serialize()
}

// Verify checks a DER-encoded ECDSA signature (without the trailing
// SIGHASH byte) against digest and pub.
func Verify(pub *btcec.PublicKey, digest, derSig []byte) bool {
	sig, err := ecdsa.ParseDERSignature(derSig)
	if err != nil {
		return false
	}
	return sig.Verify(digest, pub)
}

// ---------------------------------------------------------------
// Symmetric ciphers. Chain code and private key are independently
// locked (spec.md 4.B invariant ii): two distinct cipher families so
// that one unlock key's compromise never implies the other's.
// ---------------------------------------------------------------

// scryptN/R/P mirror waddrmgr's default scrypt cost parameters for the
// private-key cipher (snacl.NewSecretKey).
const (
	scryptN = 262144
	scryptR = 8
	scryptP = 1
)

// PrivateKeyCipher wraps a snacl secret key used to encrypt a
// Keychain's private extended key material, the same mechanism
// waddrmgr.Manager uses for cryptoKeyPriv.
type PrivateKeyCipher struct {
	key *snacl.SecretKey
}

// NewPrivateKeyCipher derives a fresh cipher from an unlock
// passphrase, returning its serialized parameters for storage
// alongside the ciphertext.
func NewPrivateKeyCipher(unlockKey *secret.Bytes) (*PrivateKeyCipher, []byte, error) {
	pass := unlockKey.Bytes()
	defer zero(pass)

	key, err := snacl.NewSecretKey(&pass, scryptN, scryptR, scryptP)
	if err != nil {
		return nil, nil, fmt.Errorf("derive private-key cipher: %w", err)
	}
	return &PrivateKeyCipher{key: key}, key.Marshal(), nil
}

// OpenPrivateKeyCipher reconstructs a cipher from its stored
// parameters and derives it with unlockKey. snacl checks the derived
// key against the digest stored in the parameters, so a wrong key
// fails here (wrapping snacl.ErrInvalidPassword), before any
// Encrypt/Decrypt.
func OpenPrivateKeyCipher(params []byte, unlockKey *secret.Bytes) (*PrivateKeyCipher, error) {
	var key snacl.SecretKey
	if err := key.Unmarshal(params); err != nil {
		return nil, fmt.Errorf("unmarshal private-key cipher params: %w", err)
	}
	pass := unlockKey.Bytes()
	defer zero(pass)
	if err := key.DeriveKey(&pass); err != nil {
		return nil, fmt.Errorf("derive private-key cipher: %w", err)
	}
	return &PrivateKeyCipher{key: &key}, nil
}

// Encrypt encrypts plaintext private-key material.
func (c *PrivateKeyCipher) Encrypt(plaintext []byte) ([]byte, error) {
	return c.key.Encrypt(plaintext)
}

// Decrypt decrypts ciphertext produced by Encrypt. A wrong unlock key
// is already rejected by OpenPrivateKeyCipher; a failure here is
// snacl.ErrDecryptFailed, for ciphertext this cipher did not seal.
func (c *PrivateKeyCipher) Decrypt(ciphertext []byte) ([]byte, error) {
	return c.key.Decrypt(ciphertext)
}

// Zero scrubs the derived cipher key.
func (c *PrivateKeyCipher) Zero() {
	if c == nil || c.key == nil {
		return
	}
	c.key.Zero()
}

// ChainCodeCipher is the second, independent symmetric primitive:
// scrypt-stretched passphrase feeding a NaCl secretbox, deliberately a
// different library than PrivateKeyCipher's snacl so the two locks
// cannot be broken by one shared weakness.
type ChainCodeCipher struct {
	key [32]byte
}

// ChainCodeCipherParams is persisted alongside the ciphertext so the
// same cipher can be reopened from a passphrase.
type ChainCodeCipherParams struct {
	Salt []byte
	N, R, P int
}

// NewChainCodeCipher derives a fresh chain-code cipher given an
// explicit salt (spec.md's new_keychain takes "salt" as an explicit
// parameter, distinct from the private-key cipher's self-generated
// scrypt salt).
func NewChainCodeCipher(unlockKey *secret.Bytes, salt []byte) (*ChainCodeCipher, ChainCodeCipherParams, error) {
	params := ChainCodeCipherParams{Salt: salt, N: scryptN, R: scryptR, P: scryptP}
	c, err := openChainCodeCipher(unlockKey, params)
	return c, params, err
}

// OpenChainCodeCipher reopens a chain-code cipher from its stored
// params and an unlock key. Like the private-key cipher, a wrong key
// is only detected on first Decrypt.
func OpenChainCodeCipher(params ChainCodeCipherParams, unlockKey *secret.Bytes) (*ChainCodeCipher, error) {
	return openChainCodeCipher(unlockKey, params)
}

func openChainCodeCipher(unlockKey *secret.Bytes, params ChainCodeCipherParams) (*ChainCodeCipher, error) {
	pass := unlockKey.Bytes()
	defer zero(pass)

	dk, err := scrypt.Key(pass, params.Salt, params.N, params.R, params.P, 32)
	if err != nil {
		return nil, fmt.Errorf("derive chain-code cipher: %w", err)
	}
	defer zero(dk)

	c := &ChainCodeCipher{}
	copy(c.key[:], dk)
	return c, nil
}

// Encrypt seals plaintext chain-code bytes.
func (c *ChainCodeCipher) Encrypt(plaintext []byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}
	sealed := secretbox.Seal(nonce[:], plaintext, &nonce, &c.key)
	return sealed, nil
}

// Decrypt opens ciphertext produced by Encrypt. Returns an error,
// without distinguishing "wrong key" from "corrupt data" — the caller
// (keychain.Store) maps any failure here to
// KeychainChainCodeUnlockFailed.
func (c *ChainCodeCipher) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < 24 {
		return nil, errors.New("ciphertext too short")
	}
	var nonce [24]byte
	copy(nonce[:], ciphertext[:24])
	out, ok := secretbox.Open(nil, ciphertext[24:], &nonce, &c.key)
	if !ok {
		return nil, errors.New("chain code decryption failed")
	}
	return out, nil
}

// Zero scrubs the derived cipher key.
func (c *ChainCodeCipher) Zero() {
	if c == nil {
		return
	}
	for i := range c.key {
		c.key[i] = 0
	}
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
