package classify

import "sync"

type ipCounters struct {
	notFound int
	total    int
}

// CounterStore owns the per-IP 404 and request-volume counters. The counts
// are process-local working state for the rule engine, updated from
// concurrently running pipeline workers, and are deliberately not persisted:
// a restart starts counting from zero again.
type CounterStore struct {
	mu       sync.Mutex
	counters map[string]*ipCounters
}

func NewCounterStore() *CounterStore {
	return &CounterStore{counters: make(map[string]*ipCounters)}
}

func (s *CounterStore) get(ip string) *ipCounters {
	c, ok := s.counters[ip]
	if !ok {
		c = &ipCounters{}
		s.counters[ip] = c
	}
	return c
}

// IncNotFound increments the 404 counter for ip and returns the new value.
func (s *CounterStore) IncNotFound(ip string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.get(ip)
	c.notFound++
	return c.notFound
}

// ResetNotFound zeroes the 404 counter once the burst rule has fired, so the
// same burst does not re-trigger on every following request.
func (s *CounterStore) ResetNotFound(ip string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.counters[ip]; ok {
		c.notFound = 0
	}
}

// IncTotal increments the total request counter for ip and returns the new
// value.
func (s *CounterStore) IncTotal(ip string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.get(ip)
	c.total++
	return c.total
}

// Reset drops all counters for ip. Called right after the IP gets blocked.
func (s *CounterStore) Reset(ip string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.counters, ip)
}
