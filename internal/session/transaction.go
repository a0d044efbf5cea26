package session

import (
	"time"

	"github.com/estuary/capture-core/internal/ops"
)

// Transaction is the mutable state scoped to one poll/commit cycle.
type Transaction struct {
	Checkpoints       uint32
	ConnectorEOF      bool
	CapturedBytes     uint64
	Stats             map[int]ops.BindingCounters
	UpdatedInferences map[int]bool
	StartedAt         time.Time
}

func newTransaction(now time.Time) *Transaction {
	return &Transaction{
		Stats:             make(map[int]ops.BindingCounters),
		UpdatedInferences: make(map[int]bool),
		StartedAt:         now,
	}
}

func (t *Transaction) incoming(binding int, bytes int) {
	var c = t.Stats[binding]
	c.Incoming.Docs++
	c.Incoming.Bytes += uint64(bytes)
	t.Stats[binding] = c
}

func (t *Transaction) outgoing(binding int, bytes int) {
	var c = t.Stats[binding]
	c.Outgoing.Docs++
	c.Outgoing.Bytes += uint64(bytes)
	t.Stats[binding] = c
}
