package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/nnlgsakib/crypto-manager-engine/metrics"
)

func TestCountersAndGaugesAreLabeledCorrectly(t *testing.T) {
	metrics.DepositsObserved.WithLabelValues("1", "USDT").Inc()
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.DepositsObserved.WithLabelValues("1", "USDT")))

	metrics.WithdrawalsFailed.WithLabelValues("1", "USDT", "insufficient_liquidity").Inc()
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.WithdrawalsFailed.WithLabelValues("1", "USDT", "insufficient_liquidity")))

	metrics.PendingDeposits.WithLabelValues("1").Set(3)
	require.Equal(t, float64(3), testutil.ToFloat64(metrics.PendingDeposits.WithLabelValues("1")))

	metrics.ChainPollingFallback.WithLabelValues("1").Set(1)
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.ChainPollingFallback.WithLabelValues("1")))
}
