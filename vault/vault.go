// Package vault implements spec.md component G: the single serialization
// point for every public operation, generalizing votingpool.Pool's
// namespace.Update/View wrapper-per-call to one global mutex plus a
// store.Session per call (spec.md section 4.G / section 5).
package vault

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/wire"

	"github.com/moneymikec/mSIGNA/account"
	"github.com/moneymikec/mSIGNA/chainmgr"
	"github.com/moneymikec/mSIGNA/internal/secret"
	"github.com/moneymikec/mSIGNA/keychain"
	"github.com/moneymikec/mSIGNA/store"
	"github.com/moneymikec/mSIGNA/txengine"
)

// Vault is the façade. Exactly one should be constructed per open
// database; it owns the process-wide unlock state and serializes
// every operation behind a single mutex, per spec.md section 5's
// concurrency model.
type Vault struct {
	db      *store.DB
	mu      sync.Mutex
	unlocks *keychain.UnlockMaps
	events  chan Event
}

// New wraps an already-open store.DB as a Vault.
func New(db *store.DB) *Vault {
	return &Vault{
		db:      db,
		unlocks: keychain.NewUnlockMaps(),
		events:  make(chan Event, 64),
	}
}

// Close releases the underlying database handle.
func (v *Vault) Close() error {
	return v.db.Close()
}

// capabilities bundles one call's session-scoped domain stores —
// every public Vault method gets exactly one of these, built fresh
// from a new store.Session.
type capabilities struct {
	sess  *store.Session
	kc    *keychain.Store
	acct  *account.Store
	txe   *txengine.Store
	chain *chainmgr.Store
}

// withSession acquires the global mutex, opens a persistence
// transaction and identity session, and runs fn. fn's error rolls the
// transaction back; otherwise the transaction commits before the
// mutex releases, matching spec.md section 4.G's "commit before
// releasing the lock" rule.
func (v *Vault) withSession(fn func(c *capabilities) error) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	sess, err := v.db.Begin()
	if err != nil {
		return err
	}
	kc := keychain.New(sess, v.unlocks)
	acct := account.New(sess, kc)
	c := &capabilities{
		sess:  sess,
		kc:    kc,
		acct:  acct,
		txe:   txengine.New(sess, kc, acct),
		chain: chainmgr.New(sess),
	}

	if err := fn(c); err != nil {
		sess.Rollback()
		return err
	}
	return sess.Commit()
}

// ---------------------------------------------------------------
// Component B: keychain operations.
// ---------------------------------------------------------------

// NewKeychain creates a root keychain from entropy. The new keychain's
// unlock keys are cached, so success publishes a KeychainUnlocked event.
func (v *Vault) NewKeychain(name string, entropy, salt []byte, chainCodeKey, privKeyKey *secret.Bytes) (*keychain.Keychain, error) {
	var out *keychain.Keychain
	err := v.withSession(func(c *capabilities) error {
		kc, err := c.kc.NewKeychain(name, entropy, salt, chainCodeKey, privKeyKey)
		if err != nil {
			return err
		}
		out = kc
		return nil
	})
	if err == nil {
		v.notify(Event{Kind: EventKeychainUnlocked, KeychainName: name})
	}
	return out, err
}

// KeychainByName loads an existing keychain by name.
func (v *Vault) KeychainByName(name string) (*keychain.Keychain, error) {
	var out *keychain.Keychain
	err := v.withSession(func(c *capabilities) error {
		kc, err := c.kc.ByName(name)
		if err != nil {
			return err
		}
		out = kc
		return nil
	})
	return out, err
}

// RenameKeychain changes a keychain's display name.
func (v *Vault) RenameKeychain(oldName, newName string) error {
	return v.withSession(func(c *capabilities) error {
		return c.kc.Rename(oldName, newName)
	})
}

// AddPrivateKey upgrades a public-only keychain to private.
func (v *Vault) AddPrivateKey(name string, privKey []byte, privKeyKey *secret.Bytes) error {
	err := v.withSession(func(c *capabilities) error {
		return c.kc.AddPrivateKey(name, privKey, privKeyKey)
	})
	if err == nil {
		v.notify(Event{Kind: EventKeychainUnlocked, KeychainName: name})
	}
	return err
}

// UnlockChainCode caches key as name's chain-code unlock key.
func (v *Vault) UnlockChainCode(name string, key *secret.Bytes) error {
	err := v.withSession(func(c *capabilities) error {
		return c.kc.UnlockChainCode(name, key)
	})
	if err == nil {
		v.notify(Event{Kind: EventKeychainUnlocked, KeychainName: name})
	}
	return err
}

// UnlockPrivateKey caches key as name's private-key unlock key.
func (v *Vault) UnlockPrivateKey(name string, key *secret.Bytes) error {
	err := v.withSession(func(c *capabilities) error {
		return c.kc.UnlockPrivateKey(name, key)
	})
	if err == nil {
		v.notify(Event{Kind: EventKeychainUnlocked, KeychainName: name})
	}
	return err
}

// LockChainCode drops name's cached chain-code unlock key.
func (v *Vault) LockChainCode(name string) { v.unlocks.LockChainCode(name) }

// LockPrivateKey drops name's cached private-key unlock key.
func (v *Vault) LockPrivateKey(name string) { v.unlocks.LockPrivateKey(name) }

// LockAllChainCodes clears every cached chain-code unlock key.
func (v *Vault) LockAllChainCodes() { v.unlocks.LockAllChainCodes() }

// LockAllPrivateKeys clears every cached private-key unlock key.
func (v *Vault) LockAllPrivateKeys() { v.unlocks.LockAllPrivateKeys() }

// ExportKeychain serializes name as a self-contained blob.
func (v *Vault) ExportKeychain(name string, withPrivate bool) ([]byte, error) {
	var out []byte
	err := v.withSession(func(c *capabilities) error {
		blob, err := c.kc.Export(name, withPrivate)
		if err != nil {
			return err
		}
		out = blob
		return nil
	})
	return out, err
}

// ExportKeychainToFile writes name's export blob to path.
func (v *Vault) ExportKeychainToFile(name, path string, withPrivate bool) error {
	return v.withSession(func(c *capabilities) error {
		return c.kc.ExportToFile(name, path, withPrivate)
	})
}

// ImportKeychain decodes and persists a keychain blob. wantPrivKeys
// requests that private material present in the blob be kept; the
// vault strips it otherwise even if the exporter included it.
func (v *Vault) ImportKeychain(blob []byte, wantPrivKeys bool) (*keychain.Keychain, error) {
	var out *keychain.Keychain
	err := v.withSession(func(c *capabilities) error {
		kc, err := c.kc.Import(blob, wantPrivKeys)
		if err != nil {
			return err
		}
		out = kc
		return nil
	})
	return out, err
}

// ImportKeychainFromFile reads and imports a keychain blob from path.
func (v *Vault) ImportKeychainFromFile(path string, wantPrivKeys bool) (*keychain.Keychain, error) {
	var out *keychain.Keychain
	err := v.withSession(func(c *capabilities) error {
		kc, err := c.kc.ImportFromFile(path, wantPrivKeys)
		if err != nil {
			return err
		}
		out = kc
		return nil
	})
	return out, err
}

// ---------------------------------------------------------------
// Component C: account operations.
// ---------------------------------------------------------------

// NewAccount creates a multisig account.
func (v *Vault) NewAccount(name string, m int, keychainNames []string, poolSize int, created time.Time) (*account.Account, error) {
	var out *account.Account
	err := v.withSession(func(c *capabilities) error {
		acct, err := c.acct.NewAccount(name, m, keychainNames, poolSize, created)
		if err != nil {
			return err
		}
		out = acct
		return nil
	})
	return out, err
}

// AccountByName loads an existing account by name.
func (v *Vault) AccountByName(name string) (*account.Account, error) {
	var out *account.Account
	err := v.withSession(func(c *capabilities) error {
		acct, err := c.acct.ByName(name)
		if err != nil {
			return err
		}
		out = acct
		return nil
	})
	return out, err
}

// AddAccountBin creates a new external bin on an existing account.
func (v *Vault) AddAccountBin(accountName, binName string) (*account.Bin, error) {
	var out *account.Bin
	err := v.withSession(func(c *capabilities) error {
		acct, err := c.acct.ByName(accountName)
		if err != nil {
			return err
		}
		bin, err := c.acct.AddAccountBin(acct, binName)
		if err != nil {
			return err
		}
		out = bin
		return nil
	})
	return out, err
}

// IssueSigningScript issues the next unused script in binName.
func (v *Vault) IssueSigningScript(accountName, binName, label string) (*account.Script, error) {
	var out *account.Script
	err := v.withSession(func(c *capabilities) error {
		acct, err := c.acct.ByName(accountName)
		if err != nil {
			return err
		}
		bin, err := c.acct.BinByName(acct, binName)
		if err != nil {
			return err
		}
		sc, err := c.acct.IssueSigningScript(acct, bin, label)
		if err != nil {
			return err
		}
		out = sc
		return nil
	})
	return out, err
}

// FindScriptByTxOutScript resolves a raw output script to the
// SigningScript that owns it.
func (v *Vault) FindScriptByTxOutScript(txOutScript []byte) (*account.Script, error) {
	var out *account.Script
	err := v.withSession(func(c *capabilities) error {
		sc, err := c.acct.FindScriptByTxOutScript(txOutScript)
		if err != nil {
			return err
		}
		out = sc
		return nil
	})
	return out, err
}

// RenameSigningScript relabels an already-issued signing script.
func (v *Vault) RenameSigningScript(txOutScript []byte, label string) error {
	return v.withSession(func(c *capabilities) error {
		sc, err := c.acct.FindScriptByTxOutScript(txOutScript)
		if err != nil {
			return err
		}
		return c.acct.RenameSigningScript(sc, label)
	})
}

// ExportAccount serializes accountName as a self-contained blob.
func (v *Vault) ExportAccount(accountName string) ([]byte, error) {
	var out []byte
	err := v.withSession(func(c *capabilities) error {
		acct, err := c.acct.ByName(accountName)
		if err != nil {
			return err
		}
		blob, err := c.acct.Export(acct)
		if err != nil {
			return err
		}
		out = blob
		return nil
	})
	return out, err
}

// ExportAccountToFile writes accountName's export blob to path.
func (v *Vault) ExportAccountToFile(accountName, path string) error {
	return v.withSession(func(c *capabilities) error {
		acct, err := c.acct.ByName(accountName)
		if err != nil {
			return err
		}
		return c.acct.ExportToFile(acct, path)
	})
}

// ImportAccount decodes and persists an account blob.
func (v *Vault) ImportAccount(blob []byte) (*account.Account, error) {
	var out *account.Account
	err := v.withSession(func(c *capabilities) error {
		acct, err := c.acct.Import(blob)
		if err != nil {
			return err
		}
		out = acct
		return nil
	})
	return out, err
}

// ImportAccountFromFile reads and imports an account blob from path.
func (v *Vault) ImportAccountFromFile(path string) (*account.Account, error) {
	var out *account.Account
	err := v.withSession(func(c *capabilities) error {
		acct, err := c.acct.ImportFromFile(path)
		if err != nil {
			return err
		}
		out = acct
		return nil
	})
	return out, err
}

// ---------------------------------------------------------------
// Component E: transaction engine operations.
// ---------------------------------------------------------------

// InsertTx ingests a raw, possibly partially-signed transaction. It
// returns (nil, nil) when tx turns out to be an unrelated foreign
// transaction or a no-op duplicate of something already stored.
func (v *Vault) InsertTx(rawTx []byte) (*txengine.Tx, error) {
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(rawTx)); err != nil {
		return nil, fmt.Errorf("vault: decode raw tx: %w", err)
	}

	var out *txengine.Tx
	err := v.withSession(func(c *capabilities) error {
		t, err := c.txe.InsertTx(tx)
		if err != nil {
			return err
		}
		out = t
		return nil
	})
	if err == nil && out != nil {
		v.notify(Event{Kind: EventTxInserted, TxUnsignedHash: out.UnsignedHash(), TxStatus: out.Status()})
	}
	return out, err
}

// CreateTx builds (and optionally inserts) a new spend from account.
func (v *Vault) CreateTx(accountName string, version int32, locktime uint32, outs []*wire.TxOut, fee, maxChange uint64, insert bool) (*wire.MsgTx, error) {
	var out *wire.MsgTx
	err := v.withSession(func(c *capabilities) error {
		acct, err := c.acct.ByName(accountName)
		if err != nil {
			return err
		}
		tx, err := c.txe.CreateTx(acct, version, locktime, outs, fee, maxChange, insert)
		if err != nil {
			return err
		}
		out = tx
		return nil
	})
	if err == nil && insert {
		v.notify(Event{Kind: EventTxInserted, AccountName: accountName})
	}
	return out, err
}

// SignTx signs every input of the transaction identified by
// unsignedHash that this vault currently holds an unlocked private key
// for, persisting the result when persist is true.
func (v *Vault) SignTx(unsignedHash []byte, persist bool) (*txengine.Tx, error) {
	var out *txengine.Tx
	err := v.withSession(func(c *capabilities) error {
		tx, err := c.txe.SignTx(unsignedHash, persist)
		if err != nil {
			return err
		}
		out = tx
		return nil
	})
	if err == nil && persist && out != nil {
		v.notify(Event{Kind: EventTxStatusChanged, TxUnsignedHash: out.UnsignedHash(), TxStatus: out.Status()})
	}
	return out, err
}

// DeleteTx removes the transaction identified by unsignedHash,
// recursively removing anything that spends one of its outputs first.
func (v *Vault) DeleteTx(unsignedHash []byte) error {
	err := v.withSession(func(c *capabilities) error {
		return c.txe.DeleteTx(unsignedHash)
	})
	if err == nil {
		v.notify(Event{Kind: EventTxStatusChanged, TxUnsignedHash: unsignedHash})
	}
	return err
}

// GetSigningRequest reports how many signature slots of a transaction
// are still empty and which keychains can fill them.
func (v *Vault) GetSigningRequest(unsignedHash []byte) (*txengine.SigningRequest, error) {
	var out *txengine.SigningRequest
	err := v.withSession(func(c *capabilities) error {
		req, err := c.txe.GetSigningRequest(unsignedHash)
		if err != nil {
			return err
		}
		out = req
		return nil
	})
	return out, err
}

// GetTx loads a transaction by its stable unsigned-hash identity.
func (v *Vault) GetTx(unsignedHash []byte) (*txengine.Tx, error) {
	var out *txengine.Tx
	err := v.withSession(func(c *capabilities) error {
		tx, err := c.txe.ByUnsignedHash(unsignedHash)
		if err != nil {
			return err
		}
		out = tx
		return nil
	})
	return out, err
}

// ---------------------------------------------------------------
// Component F: chain engine operations.
// ---------------------------------------------------------------

// BestHeight returns the highest known block header height.
func (v *Vault) BestHeight() (int32, error) {
	var out int32
	err := v.withSession(func(c *capabilities) error {
		h, err := c.chain.BestHeight()
		if err != nil {
			return err
		}
		out = h
		return nil
	})
	return out, err
}

// BestConfirmedHeight returns the highest block height with at least
// one vault transaction confirmed in it.
func (v *Vault) BestConfirmedHeight() (int32, error) {
	var out int32
	err := v.withSession(func(c *capabilities) error {
		h, err := c.chain.BestConfirmedHeight()
		if err != nil {
			return err
		}
		out = h
		return nil
	})
	return out, err
}

// InsertMerkleBlock connects (or refuses) a newly observed block.
func (v *Vault) InsertMerkleBlock(mb *chainmgr.MerkleBlock) (bool, error) {
	var connected bool
	err := v.withSession(func(c *capabilities) error {
		ok, err := c.chain.InsertMerkleBlock(mb)
		if err != nil {
			return err
		}
		connected = ok
		return nil
	})
	if err == nil && connected {
		v.notify(Event{Kind: EventNewBlock, BlockHash: mb.Header.Hash, BlockHeight: mb.Header.Height})
	}
	return connected, err
}

// ---------------------------------------------------------------
// Read-only views (spec.md section 6).
// ---------------------------------------------------------------

// Balance sums an account's matching outputs, optionally filtered by
// output and transaction status.
func (v *Vault) Balance(accountName string, txOutStatus *store.TxOutStatus, txStatuses []store.TxStatus) (uint64, error) {
	var out uint64
	err := v.withSession(func(c *capabilities) error {
		acct, err := c.acct.ByName(accountName)
		if err != nil {
			return err
		}
		total, err := c.sess.BalanceView(acct.ID(), txOutStatus, txStatuses)
		if err != nil {
			return err
		}
		out = total
		return nil
	})
	return out, err
}

// TxOuts returns the TxOutView of an account/bin filtered by output
// and transaction status, newest first.
func (v *Vault) TxOuts(accountName, binName string, txOutStatuses []store.TxOutStatus, txStatuses []store.TxStatus) ([]*store.TxOut, error) {
	var out []*store.TxOut
	err := v.withSession(func(c *capabilities) error {
		var accountID, binID *int64
		if accountName != "" {
			acct, err := c.acct.ByName(accountName)
			if err != nil {
				return err
			}
			id := acct.ID()
			accountID = &id
			if binName != "" {
				bin, err := c.acct.BinByName(acct, binName)
				if err != nil {
					return err
				}
				bid := bin.ID()
				binID = &bid
			}
		}
		rows, err := c.sess.TxOutView(accountID, binID, txOutStatuses, txStatuses)
		if err != nil {
			return err
		}
		out = rows
		return nil
	})
	return out, err
}

// SigningScripts returns every signing script of an account, optionally
// narrowed to one bin and/or a set of statuses.
func (v *Vault) SigningScripts(accountName, binName string, statuses []store.ScriptStatus) ([]*account.Script, error) {
	var out []*account.Script
	err := v.withSession(func(c *capabilities) error {
		acct, err := c.acct.ByName(accountName)
		if err != nil {
			return err
		}
		accountID := acct.ID()
		var binID *int64
		if binName != "" {
			bin, err := c.acct.BinByName(acct, binName)
			if err != nil {
				return err
			}
			id := bin.ID()
			binID = &id
		}
		rows, err := c.sess.SigningScriptView(&accountID, binID, statuses)
		if err != nil {
			return err
		}
		out = make([]*account.Script, len(rows))
		for i, r := range rows {
			out[i] = account.FromRowScript(r)
		}
		return nil
	})
	return out, err
}
