// Package orderer implements the per-account packet orderer (spec §4.B):
// it reorders inbound synchronization packets by per-account sequence
// number, buffers out-of-order arrivals, and emits a GapDetected event when
// a gap has outlived the configured timeout.
//
// The out-of-order buffer is a plain map plus a watermark, not an ordered
// tree: no third-party ordered-container dependency in the retrieved corpus
// had a grounded usage example to imitate (see DESIGN.md), and a bounded
// linear walk from nextExpected is simple enough not to need one.
package orderer

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/metarpc/terminal-sdk/logging"
	"github.com/metarpc/terminal-sdk/wire"
)

// DefaultBufferCapacity bounds how many out-of-order packets are held per
// account before the oldest is dropped with a warning (§9 open question:
// drop-oldest-with-warning, recovered via GapDetected).
const DefaultBufferCapacity = 256

// GapHandler is invoked when a sequence gap has outlived Timeout.
type GapHandler func(accountID string, missing []uint64)

// Orderer reorders packets for every account it has seen.
type Orderer struct {
	mu       sync.Mutex
	accounts map[string]*accountState
	timeout  time.Duration
	capacity int
	logger   logging.Logger
	onGap    GapHandler

	clock func() time.Time
}

type accountState struct {
	nextExpected uint64
	buffer       map[uint64]wire.Envelope
	order        *list.List // seq numbers currently buffered, for capacity eviction (oldest-first)
	firstGapSeen time.Time
}

// New builds an Orderer. timeout is the out-of-order grace period (§4.B,
// default 60s); capacity bounds the per-account buffer.
func New(timeout time.Duration, capacity int, logger logging.Logger, onGap GapHandler) *Orderer {
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}
	if logger == nil {
		logger = logging.NoOp()
	}
	return &Orderer{
		accounts: make(map[string]*accountState),
		timeout:  timeout,
		capacity: capacity,
		logger:   logger,
		onGap:    onGap,
		clock:    time.Now,
	}
}

func (o *Orderer) stateFor(accountID string) *accountState {
	st, ok := o.accounts[accountID]
	if !ok {
		st = &accountState{nextExpected: 1, buffer: make(map[uint64]wire.Envelope), order: list.New()}
		o.accounts[accountID] = st
	}
	return st
}

// Reset resets nextExpected to base for accountID, discarding any buffered
// packets. Called on every synchronizationStarted event (§4.B).
func (o *Orderer) Reset(accountID string, base uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.accounts[accountID] = &accountState{nextExpected: base, buffer: make(map[uint64]wire.Envelope), order: list.New()}
}

// Receive admits a packet and returns the contiguous run of packets (including
// this one, if applicable) that are now releasable in sequence order.
func (o *Orderer) Receive(accountID string, seq uint64, env wire.Envelope) []wire.Envelope {
	o.mu.Lock()
	defer o.mu.Unlock()

	st := o.stateFor(accountID)

	switch {
	case seq == st.nextExpected:
		released := []wire.Envelope{env}
		st.nextExpected++
		// Drain contiguous buffered successors.
		for {
			next, ok := st.buffer[st.nextExpected]
			if !ok {
				break
			}
			delete(st.buffer, st.nextExpected)
			removeFromOrder(st.order, st.nextExpected)
			released = append(released, next)
			st.nextExpected++
		}
		st.firstGapSeen = time.Time{}
		return released

	case seq > st.nextExpected:
		if _, exists := st.buffer[seq]; !exists {
			st.buffer[seq] = env
			st.order.PushBack(seq)
			if st.firstGapSeen.IsZero() {
				st.firstGapSeen = o.clock()
			}
			o.enforceCapacity(accountID, st)
		}
		return nil

	default: // seq < nextExpected: already delivered, discard
		return nil
	}
}

// CheckGaps should be invoked periodically (or before acting on Receive's
// nil result) to detect gaps that have outlived the ordering timeout and
// advance nextExpected past them.
func (o *Orderer) CheckGaps(accountID string) {
	o.mu.Lock()
	var missing []uint64
	var advanceTo uint64
	func() {
		defer o.mu.Unlock()
		st, ok := o.accounts[accountID]
		if !ok || st.firstGapSeen.IsZero() {
			return
		}
		if o.clock().Sub(st.firstGapSeen) < o.timeout {
			return
		}
		// Find the smallest buffered seq: everything strictly below it, down
		// to nextExpected, is missing.
		smallest := smallestKey(st.buffer)
		if smallest == 0 {
			return
		}
		for s := st.nextExpected; s < smallest; s++ {
			missing = append(missing, s)
		}
		advanceTo = smallest
		st.nextExpected = advanceTo
		st.firstGapSeen = time.Time{}
	}()

	if len(missing) > 0 && o.onGap != nil {
		o.onGap(accountID, missing)
	}
}

func (o *Orderer) enforceCapacity(accountID string, st *accountState) {
	for st.order.Len() > o.capacity {
		front := st.order.Front()
		seq := front.Value.(uint64)
		st.order.Remove(front)
		delete(st.buffer, seq)
		o.logger.Warn(context.Background(), "packet orderer buffer overflow, dropping oldest buffered packet",
			map[string]any{"accountId": accountID, "sequenceNumber": seq})
	}
}

func removeFromOrder(l *list.List, seq uint64) {
	for e := l.Front(); e != nil; e = e.Next() {
		if e.Value.(uint64) == seq {
			l.Remove(e)
			return
		}
	}
}

func smallestKey(m map[uint64]wire.Envelope) uint64 {
	var smallest uint64
	first := true
	for k := range m {
		if first || k < smallest {
			smallest = k
			first = false
		}
	}
	return smallest
}
