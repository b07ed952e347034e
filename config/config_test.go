package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateRejectsNoChains(t *testing.T) {
	cfg := &Config{}
	require.Error(t, cfg.validate())
}

func TestValidateRejectsBadAmounts(t *testing.T) {
	cfg := &Config{
		Chains: []ChainConfig{{
			ChainID:       1,
			MinDeposit:    "not-a-number",
			MinWithdrawal: "1.00",
			MaxWithdrawal: "100.00",
		}},
	}
	require.Error(t, cfg.validate())
}

func TestValidateAcceptsWellFormedChain(t *testing.T) {
	cfg := &Config{
		Chains: []ChainConfig{{
			ChainID:       1,
			MinDeposit:    "0.01",
			MinWithdrawal: "1.00",
			MaxWithdrawal: "1000.00",
		}},
	}
	require.NoError(t, cfg.validate())
}

func TestDBPathJoinsDataDir(t *testing.T) {
	cfg := &Config{DataDir: "/tmp/cme"}
	require.Equal(t, "/tmp/cme/crypto-manager-engine.db", cfg.DBPath())
}
