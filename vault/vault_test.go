package vault

import (
	"bytes"
	"testing"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/moneymikec/mSIGNA/account"
	"github.com/moneymikec/mSIGNA/internal/secret"
	"github.com/moneymikec/mSIGNA/internal/sqltest"
	"github.com/moneymikec/mSIGNA/store"
)

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	db := sqltest.NewSQLiteDB(t)
	v := New(db)
	t.Cleanup(func() { _ = v.Close() })
	return v
}

func serialize(t *testing.T, tx *wire.MsgTx) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, tx.Serialize(&buf))
	return buf.Bytes()
}

// TestEndToEndSpendLifecycle walks the façade through a full vault
// lifecycle: create a keychain and account, receive funds, build and
// sign a spend with create_tx, and confirm every step surfaces the
// notification spec.md section 4.G's event model promises.
func TestEndToEndSpendLifecycle(t *testing.T) {
	v := newTestVault(t)

	ccKey := secret.New([]byte("chain-code-unlock"))
	pkKey := secret.New([]byte("private-key-unlock"))
	_, err := v.NewKeychain("solo", []byte("entropy padded out to 16+ bytes"), []byte("salt"), ccKey, pkKey)
	require.NoError(t, err)
	drainEvent(t, v, EventKeychainUnlocked)

	acct, err := v.NewAccount("checking", 1, []string{"solo"}, 4, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	issued, err := v.IssueSigningScript("checking", account.DefaultBinName, "incoming payment")
	require.NoError(t, err)

	fundingTx := wire.NewMsgTx(wire.TxVersion)
	fundingTx.AddTxIn(wire.NewTxIn(&wire.OutPoint{}, nil, nil))
	fundingTx.AddTxOut(wire.NewTxOut(500000, issued.TxOutScript()))

	fundingResult, err := v.InsertTx(serialize(t, fundingTx))
	require.NoError(t, err)
	require.NotNil(t, fundingResult)
	drainEvent(t, v, EventTxInserted)

	balance, err := v.Balance("checking", nil, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(500000), balance)

	payeeScript := []byte{0x6a, 0x01, 0x02}
	spendOuts := []*wire.TxOut{wire.NewTxOut(200000, payeeScript)}
	spendTx, err := v.CreateTx(acct.Name(), wire.TxVersion, 0, spendOuts, 1000, 0, false)
	require.NoError(t, err)
	require.NotEmpty(t, spendTx.TxIn, "create_tx must select at least one input")

	inserted, err := v.InsertTx(serialize(t, spendTx))
	require.NoError(t, err)
	require.NotNil(t, inserted)
	drainEvent(t, v, EventTxInserted)
	uHash := inserted.UnsignedHash()

	signed, err := v.SignTx(uHash, true)
	require.NoError(t, err)
	require.Equal(t, store.TxUnsent, signed.Status(), "single key, m=1: one signature is already complete")
	drainEvent(t, v, EventTxStatusChanged)

	req, err := v.GetSigningRequest(uHash)
	require.NoError(t, err)
	require.Zero(t, req.SigsStillNeeded, "fully signed tx needs no more signers")
}

// TestNotificationChannelDropsOldestWhenFull exercises notify's
// non-blocking, drop-oldest behavior under a saturated channel.
func TestNotificationChannelDropsOldestWhenFull(t *testing.T) {
	v := newTestVault(t)
	for i := 0; i < cap(v.events)+8; i++ {
		v.notify(Event{Kind: EventNewBlock, BlockHeight: int32(i)})
	}
	require.Len(t, v.events, cap(v.events))

	var last Event
	for {
		select {
		case last = <-v.events:
			continue
		default:
		}
		break
	}
	require.Equal(t, int32(cap(v.events)+7), last.BlockHeight, "the channel retains the most recent events, not the earliest")
}

func drainEvent(t *testing.T, v *Vault, want EventKind) {
	t.Helper()
	select {
	case ev := <-v.events:
		require.Equal(t, want, ev.Kind)
	case <-time.After(time.Second):
		t.Fatalf("expected a %s event", want)
	}
}
