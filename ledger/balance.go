package ledger

import "github.com/nnlgsakib/crypto-manager-engine/money"

// Balance is the record keyed by (username, chain, currency). Both
// fields are non-negative at all times; total owed to the user is
// Available + Frozen.
type Balance struct {
	Username string        `json:"username"`
	ChainID  uint64        `json:"chain_id"`
	Currency string        `json:"currency"`
	Available money.Amount `json:"available"`
	Frozen    money.Amount `json:"frozen"`
}
