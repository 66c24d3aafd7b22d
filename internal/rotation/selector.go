// Package rotation decides which linked account carries the next send.
package rotation

import (
	"math/rand/v2"
	"sync"
	"time"

	appErrors "github.com/unclebandit/linkcast-backend/internal/errors"
	"github.com/unclebandit/linkcast-backend/internal/model"
)

const window = time.Hour

// Cursor is the per-run round-robin position for Sequential rotation.
type Cursor struct {
	next int
}

// Pick is the outcome of one selection.
type Pick struct {
	Account model.Account
	// Saturated is set when every account was at its cap and the least used
	// one was returned anyway.
	Saturated bool
}

// Selector owns the process-wide usage table. Usage is keyed by session id
// and shared across campaign runs.
type Selector struct {
	mu    sync.Mutex
	stats map[string]*model.NumberUsageStat
	rng   *rand.Rand
	now   func() time.Time
}

func NewSelector(rng *rand.Rand, now func() time.Time) *Selector {
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed))
	}
	if now == nil {
		now = time.Now
	}
	return &Selector{stats: map[string]*model.NumberUsageStat{}, rng: rng, now: now}
}

// Select picks an account from pool and reserves one unit of its quota
// before returning. pool must be the live Connected accounts; an empty pool
// yields NoNumbersAvailable.
func (s *Selector) Select(pool []model.Account, strategy model.RotationStrategy, hourlyCap int, cur *Cursor) (Pick, error) {
	if len(pool) == 0 {
		return Pick{}, appErrors.ErrNoNumbersAvailable
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()

	eligible := make([]model.Account, 0, len(pool))
	for _, acc := range pool {
		st := s.statLocked(acc.SessionID, now)
		if hourlyCap <= 0 || st.InWindow < hourlyCap {
			eligible = append(eligible, acc)
		}
	}

	var pick Pick
	if len(eligible) == 0 {
		pick = Pick{Account: s.leastUsedLocked(pool), Saturated: true}
	} else {
		pick = Pick{Account: s.applyLocked(eligible, strategy, cur)}
	}

	st := s.stats[pick.Account.SessionID]
	st.InWindow++
	st.TotalSent++
	return pick, nil
}

func (s *Selector) applyLocked(eligible []model.Account, strategy model.RotationStrategy, cur *Cursor) model.Account {
	switch strategy {
	case model.RotationRandom:
		return eligible[s.rng.IntN(len(eligible))]
	case model.RotationLoadBalanced:
		best := eligible[0]
		for _, acc := range eligible[1:] {
			if s.stats[acc.SessionID].TotalSent < s.stats[best.SessionID].TotalSent {
				best = acc
			}
		}
		return best
	default:
		if cur == nil {
			cur = &Cursor{}
		}
		acc := eligible[cur.next%len(eligible)]
		cur.next++
		return acc
	}
}

func (s *Selector) leastUsedLocked(pool []model.Account) model.Account {
	best := pool[0]
	for _, acc := range pool[1:] {
		if s.stats[acc.SessionID].InWindow < s.stats[best.SessionID].InWindow {
			best = acc
		}
	}
	return best
}

// statLocked returns the stat for id, rolling a stale hour window forward.
func (s *Selector) statLocked(id string, now time.Time) *model.NumberUsageStat {
	st := s.stats[id]
	if st == nil {
		st = &model.NumberUsageStat{AccountID: id, WindowStart: now}
		s.stats[id] = st
	}
	if now.Sub(st.WindowStart) >= window {
		st.InWindow = 0
		st.WindowStart = now
	}
	return st
}

// RecordFailure notes a send that was picked but did not go through.
func (s *Selector) RecordFailure(accountID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.stats[accountID]; st != nil {
		st.TotalFailed++
	}
}

// Usage returns a copy of the stat for accountID.
func (s *Selector) Usage(accountID string) model.NumberUsageStat {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.statLocked(accountID, s.now())
	return *st
}
