package alerting

import (
	"sync"
	"time"

	"faultline/internal/domain"
)

// pruneThreshold is the number of tracked conditions above which expired
// entries are swept on the next reservation.
const pruneThreshold = 1024

// channelState is the process-local cooldown bookkeeping of one channel.
// Cooldowns reset when the process restarts.
type channelState struct {
	channel domain.NotificationChannel

	mu       sync.Mutex
	lastSent map[string]time.Time
}

func newChannelState(ch domain.NotificationChannel) *channelState {
	return &channelState{
		channel:  ch,
		lastSent: make(map[string]time.Time),
	}
}

func (s *channelState) threshold(def int64) int64 {
	if s.channel.Threshold > 0 {
		return s.channel.Threshold
	}
	return def
}

// reserve claims the right to notify for condition at now. It fails while
// the condition is inside the channel's cooldown. Check and claim happen
// under one lock so concurrent evaluations cannot both send.
func (s *channelState) reserve(condition string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if last, ok := s.lastSent[condition]; ok && now.Sub(last) < s.channel.Cooldown {
		return false
	}

	if len(s.lastSent) >= pruneThreshold {
		for cond, last := range s.lastSent {
			if now.Sub(last) >= s.channel.Cooldown {
				delete(s.lastSent, cond)
			}
		}
	}

	s.lastSent[condition] = now
	return true
}

// release undoes a reservation made at reservedAt, unless a newer one
// replaced it.
func (s *channelState) release(condition string, reservedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if last, ok := s.lastSent[condition]; ok && last.Equal(reservedAt) {
		delete(s.lastSent, condition)
	}
}
