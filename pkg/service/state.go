package service

import (
	"sync"
	"time"
)

// LastScan is the most recent badge tap outcome, for the status API.
type LastScan struct {
	Time    time.Time `json:"time"`
	Reader  string    `json:"reader"`
	User    string    `json:"user"`
	Success bool      `json:"success"`
}

// State is the daemon's shared view of the reader fleet. Unlike the
// monitor's loop state it is read from API handlers, so access is locked.
type State struct {
	mu       sync.RWMutex
	readers  []string
	lastScan *LastScan
}

func NewState() *State {
	return &State{}
}

func (s *State) AddReader(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.readers {
		if r == name {
			return
		}
	}
	s.readers = append(s.readers, name)
}

func (s *State) RemoveReader(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.readers {
		if r == name {
			s.readers = append(s.readers[:i], s.readers[i+1:]...)
			return
		}
	}
}

func (s *State) Readers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	readers := make([]string, len(s.readers))
	copy(readers, s.readers)
	return readers
}

func (s *State) SetLastScan(scan LastScan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastScan = &scan
}

func (s *State) LastScan() *LastScan {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastScan == nil {
		return nil
	}
	scan := *s.lastScan
	return &scan
}
