package feed

import (
	"maps"
	"sync/atomic"
	"time"

	"contestfeed/internal/contest"
)

// View is an immutable read model for command handlers.
type View struct {
	Contest   *contest.Contest
	FetchedAt time.Time
	closed    map[string]bool
}

// WindowClosed reports whether the feed already recorded user's window as over.
func (v *View) WindowClosed(user string) bool {
	if v == nil {
		return false
	}
	return v.closed[user]
}

// Store is the participant state owned by a single poll loop. Only the loop
// writes; readers use Load.
type Store struct {
	lastSeen map[string]contest.Participant
	closed   map[string]bool
	prevPoll time.Time
	ready    bool

	view atomic.Pointer[View]
}

func NewStore() *Store {
	return &Store{lastSeen: map[string]contest.Participant{}, closed: map[string]bool{}}
}

// Load returns the latest published view, or nil before the first fetch.
func (s *Store) Load() *View { return s.view.Load() }

// Ready reports whether Reset has run.
func (s *Store) Ready() bool { return s.ready }

// PrevPoll is the time of the last committed cycle.
func (s *Store) PrevPoll() time.Time { return s.prevPoll }

func (s *Store) lookup(user string) (contest.Participant, bool) {
	p, ok := s.lastSeen[user]
	return p, ok
}

// Reset rebuilds the store from a snapshot. Participants whose window is
// already over are marked closed without an event.
func (s *Store) Reset(snap *contest.Snapshot) {
	c := snap.Contest
	lastSeen := make(map[string]contest.Participant, len(c.Rankings))
	closed := map[string]bool{}
	for _, p := range c.Rankings {
		lastSeen[p.User] = p
		if p.WindowOver(snap.FetchedAt) {
			closed[p.User] = true
		}
	}
	s.lastSeen = lastSeen
	s.closed = closed
	s.prevPoll = snap.FetchedAt
	s.ready = true
	s.publish(snap)
}

// stage collects one cycle's mutations so a failed cycle leaves the store
// untouched.
type stage struct {
	lastSeen map[string]contest.Participant
	closed   map[string]bool
	advances map[string]int64
	untracks []string
}

func (s *Store) begin() *stage {
	return &stage{
		lastSeen: maps.Clone(s.lastSeen),
		closed:   maps.Clone(s.closed),
		advances: map[string]int64{},
	}
}

func (s *Store) commit(st *stage, snap *contest.Snapshot) {
	s.lastSeen = st.lastSeen
	s.closed = st.closed
	s.prevPoll = snap.FetchedAt
	s.publish(snap)
}

func (s *Store) publish(snap *contest.Snapshot) {
	s.view.Store(&View{Contest: snap.Contest, FetchedAt: snap.FetchedAt, closed: s.closed})
}
