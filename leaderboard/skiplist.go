package leaderboard

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"

	"loyaltykit/core"
)

// SkipList orders entries by (level desc, points desc, user asc) with O(log n)
// updates.

const (
	maxHeight = 16
	promote   = 0.25
)

type node struct {
	e    Entry
	next [maxHeight]*node
	// span[i] counts bottom-level hops covered by next[i], for rank lookups.
	span [maxHeight]int
}

type SkipList struct {
	mu     sync.RWMutex
	head   *node
	height int
	size   int
	byUser map[core.UserID]*node
	rng    *rand.Rand
}

func NewSkipList() *SkipList {
	var seed [16]byte
	if _, err := cryptorand.Read(seed[:]); err != nil {
		seed = [16]byte{}
	}
	return &SkipList{
		head:   &node{},
		height: 1,
		byUser: map[core.UserID]*node{},
		rng:    rand.New(rand.NewPCG(binary.BigEndian.Uint64(seed[:8]), binary.BigEndian.Uint64(seed[8:]))),
	}
}

func (s *SkipList) randomHeight() int {
	h := 1
	for h < maxHeight && s.rng.Float64() < promote {
		h++
	}
	return h
}

// before reports whether a ranks ahead of b.
func before(a, b Entry) bool {
	if a.Level != b.Level {
		return a.Level > b.Level
	}
	if a.Points != b.Points {
		return a.Points > b.Points
	}
	return a.User < b.User
}

// Update inserts or repositions e.User.
func (s *SkipList) Update(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.byUser[e.User]; ok {
		if old.e == e {
			return
		}
		s.removeLocked(old.e)
	}

	var update [maxHeight]*node
	var rank [maxHeight]int
	cur := s.head
	for i := s.height - 1; i >= 0; i-- {
		if i < s.height-1 {
			rank[i] = rank[i+1]
		}
		for cur.next[i] != nil && before(cur.next[i].e, e) {
			rank[i] += cur.span[i]
			cur = cur.next[i]
		}
		update[i] = cur
	}
	h := s.randomHeight()
	if h > s.height {
		for i := s.height; i < h; i++ {
			update[i] = s.head
			update[i].span[i] = s.size
		}
		s.height = h
	}
	n := &node{e: e}
	for i := 0; i < h; i++ {
		n.next[i] = update[i].next[i]
		update[i].next[i] = n
		n.span[i] = update[i].span[i] - (rank[0] - rank[i])
		update[i].span[i] = rank[0] - rank[i] + 1
	}
	for i := h; i < s.height; i++ {
		update[i].span[i]++
	}
	s.size++
	s.byUser[e.User] = n
}

func (s *SkipList) removeLocked(e Entry) {
	var update [maxHeight]*node
	cur := s.head
	for i := s.height - 1; i >= 0; i-- {
		for cur.next[i] != nil && before(cur.next[i].e, e) {
			cur = cur.next[i]
		}
		update[i] = cur
	}
	target := update[0].next[0]
	if target == nil || target.e.User != e.User {
		return
	}
	for i := 0; i < s.height; i++ {
		if update[i].next[i] == target {
			update[i].span[i] += target.span[i] - 1
			update[i].next[i] = target.next[i]
		} else {
			update[i].span[i]--
		}
	}
	delete(s.byUser, e.User)
	s.size--
	for s.height > 1 && s.head.next[s.height-1] == nil {
		s.height--
	}
}

func (s *SkipList) Remove(user core.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.byUser[user]; ok {
		s.removeLocked(n.e)
	}
}

func (s *SkipList) TopN(n int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 {
		return nil
	}
	out := make([]Entry, 0, min(n, s.size))
	for cur := s.head.next[0]; cur != nil && len(out) < n; cur = cur.next[0] {
		out = append(out, cur.e)
	}
	return out
}

func (s *SkipList) Get(user core.UserID) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n, ok := s.byUser[user]; ok {
		return n.e, true
	}
	return Entry{}, false
}

func (s *SkipList) Rank(user core.UserID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	target, ok := s.byUser[user]
	if !ok {
		return 0
	}
	rank := 0
	cur := s.head
	for i := s.height - 1; i >= 0; i-- {
		for cur.next[i] != nil && (cur.next[i] == target || before(cur.next[i].e, target.e)) {
			rank += cur.span[i]
			cur = cur.next[i]
		}
		if cur == target {
			return rank
		}
	}
	return rank
}

func (s *SkipList) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

var _ Board = (*SkipList)(nil)
