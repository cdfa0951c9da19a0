package actors

import (
	"sort"
	"sync"
)

// Residency records which zone each session lives in and the avatar it
// controls there. The dispatcher reads it through ZoneOf; only the world
// handler writes it.
type Residency struct {
	mu        sync.RWMutex
	bySession map[string]resident
}

type resident struct {
	zone   uint32
	avatar uint64
}

func NewResidency() *Residency {
	return &Residency{bySession: map[string]resident{}}
}

func (r *Residency) ZoneOf(session string) (uint32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.bySession[session]
	return res.zone, ok
}

func (r *Residency) Avatar(session string) (uint64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.bySession[session]
	return res.avatar, ok
}

// Place moves session into zone with the given avatar, replacing any earlier
// residence.
func (r *Residency) Place(session string, zone uint32, avatar uint64) {
	if session == "" {
		return
	}
	r.mu.Lock()
	r.bySession[session] = resident{zone: zone, avatar: avatar}
	r.mu.Unlock()
}

// Clear removes session and reports where it was.
func (r *Residency) Clear(session string) (zone uint32, avatar uint64, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.bySession[session]
	if ok {
		delete(r.bySession, session)
	}
	return res.zone, res.avatar, ok
}

func (r *Residency) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySession)
}

// Population returns the resident session count per zone.
func (r *Residency) Population() map[uint32]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := map[uint32]int{}
	for _, res := range r.bySession {
		out[res.zone]++
	}
	return out
}

// SessionsIn returns the sessions resident in zone, sorted.
func (r *Residency) SessionsIn(zone uint32) []string {
	r.mu.RLock()
	out := make([]string, 0, 8)
	for s, res := range r.bySession {
		if res.zone == zone {
			out = append(out, s)
		}
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}
