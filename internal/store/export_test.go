package store

// PollerRunning reports whether the polling fallback is scheduled.
func (s *Store) PollerRunning() bool {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()
	return s.pollStop != nil
}
