package keychain

import (
	"sync"

	"github.com/moneymikec/mSIGNA/internal/secret"
)

// UnlockMaps is the process-wide runtime state of spec.md section 3:
// two name-keyed maps of cached unlock keys, one for chain codes and
// one for private keys, never persisted and cleared on lock/process
// exit. The vault façade owns exactly one UnlockMaps for its whole
// lifetime and passes it to every keychain.Store it opens; the
// façade's global mutex (spec.md section 5) is what actually
// serializes access, but this type's own mutex makes it safe to use
// stand-alone (e.g. in tests) too.
type UnlockMaps struct {
	mu         sync.Mutex
	chainCode  map[string]*secret.Bytes
	privateKey map[string]*secret.Bytes
}

// NewUnlockMaps returns an empty set of unlock maps.
func NewUnlockMaps() *UnlockMaps {
	return &UnlockMaps{
		chainCode:  make(map[string]*secret.Bytes),
		privateKey: make(map[string]*secret.Bytes),
	}
}

func (u *UnlockMaps) setChainCode(name string, key *secret.Bytes) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.chainCode[name] = key
}

func (u *UnlockMaps) getChainCode(name string) (*secret.Bytes, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	k, ok := u.chainCode[name]
	return k, ok
}

// LockChainCode removes name's cached chain-code unlock key.
func (u *UnlockMaps) LockChainCode(name string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if k, ok := u.chainCode[name]; ok {
		k.Zero()
		delete(u.chainCode, name)
	}
}

// LockAllChainCodes clears every cached chain-code unlock key.
func (u *UnlockMaps) LockAllChainCodes() {
	u.mu.Lock()
	defer u.mu.Unlock()
	for name, k := range u.chainCode {
		k.Zero()
		delete(u.chainCode, name)
	}
}

func (u *UnlockMaps) setPrivateKey(name string, key *secret.Bytes) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.privateKey[name] = key
}

func (u *UnlockMaps) getPrivateKey(name string) (*secret.Bytes, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	k, ok := u.privateKey[name]
	return k, ok
}

// LockPrivateKey removes name's cached private-key unlock key.
func (u *UnlockMaps) LockPrivateKey(name string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if k, ok := u.privateKey[name]; ok {
		k.Zero()
		delete(u.privateKey, name)
	}
}

// LockAllPrivateKeys clears every cached private-key unlock key.
func (u *UnlockMaps) LockAllPrivateKeys() {
	u.mu.Lock()
	defer u.mu.Unlock()
	for name, k := range u.privateKey {
		k.Zero()
		delete(u.privateKey, name)
	}
}

// ChainCodeUnlocked reports whether name currently has a cached
// chain-code unlock key.
func (u *UnlockMaps) ChainCodeUnlocked(name string) bool {
	_, ok := u.getChainCode(name)
	return ok
}

// PrivateKeyUnlocked reports whether name currently has a cached
// private-key unlock key.
func (u *UnlockMaps) PrivateKeyUnlocked(name string) bool {
	_, ok := u.getPrivateKey(name)
	return ok
}
