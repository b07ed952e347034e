// Package notify implements the process-wide publish-only notification
// bus: a best-effort fan-out of deposit, withdrawal, balance and transfer
// updates to subscribers filtered by username, type, chain, currency and
// status. There is no backlog — a subscriber that isn't listening misses
// the message, the same best-effort delivery guarantee the teacher's
// in-process event buses give callers that don't want a durable queue.
package notify

import (
	"sync"
)

// Type enumerates the notification message kinds.
type Type string

const (
	DepositUpdate    Type = "deposit_update"
	WithdrawalUpdate Type = "withdrawal_update"
	BalanceUpdate    Type = "balance_update"
	TransferUpdate   Type = "transfer_update"
)

// Message is the envelope carried on every publish. Record holds the
// full current state of whatever changed (a Deposit, Withdrawal, Balance,
// or a transfer pair), left as an opaque payload so notify doesn't import
// every domain package.
type Message struct {
	Type     Type
	Username string
	ChainID  uint64
	Currency string
	Status   string
	Record   interface{}
}

// Filter narrows which messages a subscriber receives. A zero-value field
// matches any value; Username is mandatory.
type Filter struct {
	Username string
	Type     Type
	ChainID  uint64
	Currency string
	Status   string
}

func (f Filter) matches(m Message) bool {
	if f.Username != m.Username {
		return false
	}
	if f.Type != "" && f.Type != m.Type {
		return false
	}
	if f.ChainID != 0 && f.ChainID != m.ChainID {
		return false
	}
	if f.Currency != "" && f.Currency != m.Currency {
		return false
	}
	if f.Status != "" && f.Status != m.Status {
		return false
	}
	return true
}

type subscriber struct {
	filter Filter
	ch     chan Message
}

// Bus is the process-wide notification hub. The zero value is not usable;
// construct with New.
type Bus struct {
	mu   sync.Mutex
	subs map[int]*subscriber
	next int
}

// New builds an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Subscribe registers filter and returns a channel of matching messages
// plus an unsubscribe function. The channel is buffered; a full channel
// causes the bus to drop the message for that subscriber rather than
// block the publisher.
func (b *Bus) Subscribe(filter Filter) (<-chan Message, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	sub := &subscriber{filter: filter, ch: make(chan Message, 32)}
	b.subs[id] = sub

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s, ok := b.subs[id]; ok {
			close(s.ch)
			delete(b.subs, id)
		}
	}
	return sub.ch, unsubscribe
}

// Publish delivers m to every matching subscriber, best-effort. Transfer
// notifications are expected to be published twice by the caller — once
// per side — since a Message carries a single Username.
func (b *Bus) Publish(m Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		if !sub.filter.matches(m) {
			continue
		}
		select {
		case sub.ch <- m:
		default:
			notfLog.Warnf("dropping notification for %s: subscriber channel full", m.Username)
		}
	}
}

// PublishTransfer publishes a transfer_update to both the sender and the
// receiver, per the requirement that transfer notifications deliver to
// both sides.
func (b *Bus) PublishTransfer(from, to string, chainID uint64, currency string, record interface{}) {
	b.Publish(Message{Type: TransferUpdate, Username: from, ChainID: chainID, Currency: currency, Record: record})
	b.Publish(Message{Type: TransferUpdate, Username: to, ChainID: chainID, Currency: currency, Record: record})
}
