package authflow

import (
	"sync"
	"time"

	"github.com/grmlab/gramscope/pkg/remote"
)

// ChallengeKind distinguishes the two multi-step login paths.
type ChallengeKind string

const (
	KindTwoFactor ChallengeKind = "two_factor"
	KindChallenge ChallengeKind = "challenge"
)

// challengeTTL bounds how long an abandoned login attempt stays in memory.
const challengeTTL = 10 * time.Minute

// Challenge is the transient state of one in-flight multi-step login, keyed
// by an opaque session token. It lives only in process memory and is
// destroyed on completion or TTL expiry.
type Challenge struct {
	Token     string
	Kind      ChallengeKind
	CreatedAt time.Time
	Username  string
	// Password is retained only for the two-factor path: the protocol
	// requires replaying the credentials together with the code.
	Password string
	Client   remote.Client
}

// ChallengeStore holds pending challenges. Eviction is lazy: expired entries
// are dropped on writes and reads, so no timer goroutine is needed.
type ChallengeStore struct {
	mu  sync.Mutex
	now func() time.Time
	m   map[string]*Challenge
}

func NewChallengeStore() *ChallengeStore {
	return &ChallengeStore{now: time.Now, m: make(map[string]*Challenge)}
}

// Put stores a challenge after evicting anything expired.
func (s *ChallengeStore) Put(c *Challenge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked()
	c.CreatedAt = s.now()
	s.m[c.Token] = c
}

// Take removes and returns the challenge for token. Expired or unknown
// tokens return nil.
func (s *ChallengeStore) Take(token string) *Challenge {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked()
	c, ok := s.m[token]
	if !ok {
		return nil
	}
	delete(s.m, token)
	return c
}

// Evict drops every challenge older than the TTL.
func (s *ChallengeStore) Evict() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked()
}

// Len reports the number of live challenges.
func (s *ChallengeStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked()
	return len(s.m)
}

func (s *ChallengeStore) evictLocked() {
	cutoff := s.now().Add(-challengeTTL)
	for token, c := range s.m {
		if c.CreatedAt.Before(cutoff) {
			delete(s.m, token)
		}
	}
}
