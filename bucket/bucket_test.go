package bucket_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nnlgsakib/crypto-manager-engine/bucket"
	"github.com/nnlgsakib/crypto-manager-engine/store/memstore"
)

func TestWindowIndexFloorsToWindow(t *testing.T) {
	windowMs := int64(60_000)
	base := time.UnixMilli(0).Add(90 * time.Second)
	require.Equal(t, int64(1), bucket.WindowIndex(base, windowMs))

	base2 := time.UnixMilli(0).Add(150 * time.Second)
	require.Equal(t, int64(2), bucket.WindowIndex(base2, windowMs))
}

func TestGetOrCreateCreatesWhenAbsent(t *testing.T) {
	s := bucket.NewStore(memstore.New())
	now := time.Now()

	b, isNew, err := bucket.GetOrCreate(s, 1, "USDT", now, 60_000)
	require.NoError(t, err)
	require.True(t, isNew)
	require.False(t, b.Settled)
	require.True(t, b.ExpiresAt.After(now))
	require.Equal(t, bucket.WindowIndex(now, 60_000), b.WindowIndex)
}

func TestGetOrCreateReturnsExistingForSameWindow(t *testing.T) {
	s := bucket.NewStore(memstore.New())
	now := time.Now()

	b1, isNew1, err := bucket.GetOrCreate(s, 1, "USDT", now, 60_000)
	require.NoError(t, err)
	require.True(t, isNew1)
	b1.WithdrawalIDs = append(b1.WithdrawalIDs, "w1")
	require.NoError(t, s.Put(b1))

	b2, isNew2, err := bucket.GetOrCreate(s, 1, "USDT", now, 60_000)
	require.NoError(t, err)
	require.False(t, isNew2)
	require.Equal(t, []string{"w1"}, b2.WithdrawalIDs)
}

func TestListUnsettledExpired(t *testing.T) {
	s := bucket.NewStore(memstore.New())
	now := time.Now()

	expired := &bucket.Bucket{ChainID: 1, Currency: "USDT", WindowIndex: 1, ExpiresAt: now.Add(-time.Minute)}
	settled := &bucket.Bucket{ChainID: 1, Currency: "USDT", WindowIndex: 2, ExpiresAt: now.Add(-time.Minute), Settled: true}
	notYetDue := &bucket.Bucket{ChainID: 1, Currency: "USDT", WindowIndex: 3, ExpiresAt: now.Add(time.Minute)}

	require.NoError(t, s.Put(expired))
	require.NoError(t, s.Put(settled))
	require.NoError(t, s.Put(notYetDue))

	due, err := s.ListUnsettledExpired(now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, expired.ID(), due[0].ID())
}
