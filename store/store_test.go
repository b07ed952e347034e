package store_test

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nnlgsakib/crypto-manager-engine/store"
	"github.com/nnlgsakib/crypto-manager-engine/store/boltstore"
	"github.com/nnlgsakib/crypto-manager-engine/store/memstore"
)

// kvInit is a closure used to initialize a store.KV instance and its
// cleanup function, letting every test in this file run against both
// concrete engines.
type kvInit func(t *testing.T) store.KV

func initMemstore(t *testing.T) store.KV {
	return memstore.New()
}

func initBoltstore(t *testing.T) store.KV {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := boltstore.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

var engines = map[string]kvInit{
	"memstore":  initMemstore,
	"boltstore": initBoltstore,
}

func TestPutGetDelete(t *testing.T) {
	for name, init := range engines {
		t.Run(name, func(t *testing.T) {
			kv := init(t)

			_, err := kv.Get([]byte("missing"))
			require.ErrorIs(t, err, store.ErrNotFound)

			require.NoError(t, kv.Put([]byte("k"), []byte("v1")))
			v, err := kv.Get([]byte("k"))
			require.NoError(t, err)
			require.Equal(t, []byte("v1"), v)

			require.NoError(t, kv.Put([]byte("k"), []byte("v2")))
			v, err = kv.Get([]byte("k"))
			require.NoError(t, err)
			require.Equal(t, []byte("v2"), v)

			require.NoError(t, kv.Delete([]byte("k")))
			_, err = kv.Get([]byte("k"))
			require.ErrorIs(t, err, store.ErrNotFound)
		})
	}
}

func TestScanPrefixOrderedAndBounded(t *testing.T) {
	for name, init := range engines {
		t.Run(name, func(t *testing.T) {
			kv := init(t)

			for i := 0; i < 5; i++ {
				require.NoError(t, kv.Put([]byte(fmt.Sprintf("deposit:%d", i)), []byte("x")))
			}
			require.NoError(t, kv.Put([]byte("withdrawal:0"), []byte("y")))

			var seen []string
			err := kv.ScanPrefix([]byte("deposit:"), func(k, v []byte) bool {
				seen = append(seen, string(k))
				return true
			})
			require.NoError(t, err)
			require.Len(t, seen, 5)
			require.IsIncreasing(t, seen)
			for _, k := range seen {
				require.Contains(t, k, "deposit:")
			}
		})
	}
}

func TestScanPrefixStopsEarly(t *testing.T) {
	for name, init := range engines {
		t.Run(name, func(t *testing.T) {
			kv := init(t)
			for i := 0; i < 10; i++ {
				require.NoError(t, kv.Put([]byte(fmt.Sprintf("account:%02d", i)), []byte("x")))
			}

			count := 0
			err := kv.ScanPrefix([]byte("account:"), func(k, v []byte) bool {
				count++
				return count < 3
			})
			require.NoError(t, err)
			require.Equal(t, 3, count)
		})
	}
}

func TestBatchCommitsAtomically(t *testing.T) {
	for name, init := range engines {
		t.Run(name, func(t *testing.T) {
			kv := init(t)

			err := kv.Batch(func(b store.Batch) error {
				require.NoError(t, b.Put([]byte("a"), []byte("1")))
				require.NoError(t, b.Put([]byte("b"), []byte("2")))
				return nil
			})
			require.NoError(t, err)

			va, err := kv.Get([]byte("a"))
			require.NoError(t, err)
			require.Equal(t, []byte("1"), va)

			vb, err := kv.Get([]byte("b"))
			require.NoError(t, err)
			require.Equal(t, []byte("2"), vb)
		})
	}
}

func TestKeyHelpersRoundTrip(t *testing.T) {
	require.Equal(t, "account:alice", string(store.AccountKey("alice")))
	require.Equal(t, "balance:alice:1:USDC", string(store.BalanceKey("alice", 1, "USDC")))
	require.Equal(t, "deposit:0xabc", string(store.DepositKey("0xabc")))
	require.Equal(t, "withdrawal:uuid-1", string(store.WithdrawalKey("uuid-1")))
	require.Equal(t, "bucket:1:USDC:42", string(store.BucketKey(1, "USDC", 42)))
	require.Equal(t, "lastProcessedBlock:1", string(store.LastProcessedBlockKey(1)))
}
