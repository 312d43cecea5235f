package coordinator

import (
	"sort"

	"github.com/ignite/mailpipe/internal/domain"
)

// InboxSelector rotates through a tenant's active inboxes, starting from
// the least recently used one. Never-used inboxes come first; ties break
// by id so selection is deterministic.
type InboxSelector struct {
	inboxes []domain.Inbox
	next    int
}

// NewInboxSelector builds a selector over the active entries of inboxes.
func NewInboxSelector(inboxes []domain.Inbox) *InboxSelector {
	active := make([]domain.Inbox, 0, len(inboxes))
	for _, in := range inboxes {
		if in.Active {
			active = append(active, in)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		a, b := active[i].LastUsedAt, active[j].LastUsedAt
		switch {
		case a == nil && b != nil:
			return true
		case a != nil && b == nil:
			return false
		case a != nil && b != nil && !a.Equal(*b):
			return a.Before(*b)
		}
		return active[i].ID < active[j].ID
	})
	return &InboxSelector{inboxes: active}
}

// Next returns the next inbox in rotation, or false when none is active.
func (s *InboxSelector) Next() (*domain.Inbox, bool) {
	if len(s.inboxes) == 0 {
		return nil, false
	}
	in := s.inboxes[s.next%len(s.inboxes)]
	s.next++
	return &in, true
}

// Len returns the number of active inboxes.
func (s *InboxSelector) Len() int { return len(s.inboxes) }
