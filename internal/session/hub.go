package session

import (
	"context"
	"sort"
	"sync"
)

// Hub is the registry of live sessions, keyed by group then connection id.
// Iteration always works on a snapshot, so sessions may join and leave while
// a group send is in progress.
type Hub struct {
	mu     sync.RWMutex
	groups map[string]map[string]*Session
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{groups: make(map[string]map[string]*Session)}
}

// Join adds s to its group. Joining twice is a no-op.
func (h *Hub) Join(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.groups[s.Group]
	if !ok {
		members = make(map[string]*Session)
		h.groups[s.Group] = members
	}
	members[s.ID] = s
}

// Leave removes s from its group. Leaving twice is a no-op.
func (h *Hub) Leave(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.groups[s.Group]
	if !ok {
		return
	}
	delete(members, s.ID)
	if len(members) == 0 {
		delete(h.groups, s.Group)
	}
}

// Group returns a snapshot of the sessions in group.
func (h *Hub) Group(group string) []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Session, 0, len(h.groups[group]))
	for _, s := range h.groups[group] {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Sessions returns a snapshot of every live session.
func (h *Hub) Sessions() []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []*Session
	for _, members := range h.groups {
		for _, s := range members {
			out = append(out, s)
		}
	}
	return out
}

// Count returns the number of live sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, members := range h.groups {
		n += len(members)
	}
	return n
}

// GroupCounts returns the number of sessions per group.
func (h *Hub) GroupCounts() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]int, len(h.groups))
	for name, members := range h.groups {
		out[name] = len(members)
	}
	return out
}

// SendToGroup writes payload to every session in group and returns how many
// sessions accepted it. Individual failures are logged by the session.
func (h *Hub) SendToGroup(ctx context.Context, group string, payload []byte) int {
	sent := 0
	for _, s := range h.Group(group) {
		if err := s.Send(ctx, payload); err == nil {
			sent++
		}
	}
	return sent
}

// CloseAll closes every live session with code.
func (h *Hub) CloseAll(code int, reason string) {
	var wg sync.WaitGroup
	for _, s := range h.Sessions() {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			_ = s.Close(code, reason)
		}(s)
	}
	wg.Wait()
}
