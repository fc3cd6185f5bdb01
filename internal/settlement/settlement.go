package settlement

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/microsave/ledger/internal/ledger"
)

// DefaultSuccessRate is the share of settlements the simulator approves.
const DefaultSuccessRate = 0.9

const declinedReason = "declined by settlement provider"

// Simulator stands in for an external payout rail. It waits Latency, then
// approves with probability SuccessRate.
type Simulator struct {
	successRate float64
	latency     time.Duration

	mu   sync.Mutex
	rand *rand.Rand
}

// NewSimulator builds a simulator. A nil src seeds from the clock; rates
// outside [0,1] fall back to DefaultSuccessRate.
func NewSimulator(successRate float64, latency time.Duration, src rand.Source) *Simulator {
	if successRate < 0 || successRate > 1 {
		successRate = DefaultSuccessRate
	}
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &Simulator{
		successRate: successRate,
		latency:     latency,
		rand:        rand.New(src),
	}
}

// Settle implements ledger.Settler.
func (s *Simulator) Settle(ctx context.Context, req ledger.SettlementRequest) (ledger.SettlementOutcome, error) {
	if s.latency > 0 {
		timer := time.NewTimer(s.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ledger.SettlementOutcome{}, ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return ledger.SettlementOutcome{}, err
	}

	s.mu.Lock()
	draw := s.rand.Float64()
	s.mu.Unlock()

	if draw < s.successRate {
		return ledger.SettlementOutcome{Approved: true, Reference: uuid.NewString()}, nil
	}
	return ledger.SettlementOutcome{Reference: uuid.NewString(), Reason: declinedReason}, nil
}

// Static settles every request the same way.
type Static struct {
	Decline bool
	Reason  string
}

// Settle implements ledger.Settler.
func (s Static) Settle(ctx context.Context, _ ledger.SettlementRequest) (ledger.SettlementOutcome, error) {
	if err := ctx.Err(); err != nil {
		return ledger.SettlementOutcome{}, err
	}
	if s.Decline {
		reason := s.Reason
		if reason == "" {
			reason = declinedReason
		}
		return ledger.SettlementOutcome{Reference: uuid.NewString(), Reason: reason}, nil
	}
	return ledger.SettlementOutcome{Approved: true, Reference: uuid.NewString()}, nil
}
