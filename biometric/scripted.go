package biometric

import (
	"context"
	"sync"
)

// Scripted is a Hardware that answers prompts from a queue. It backs the
// simulator and host integration tests. An exhausted queue answers with a
// user cancel.
type Scripted struct {
	mu       sync.Mutex
	hardware bool
	enrolled bool
	types    []Type
	results  []Result
	prompts  []Prompt
}

// NewScripted returns enrolled fingerprint hardware with an empty queue.
func NewScripted() *Scripted {
	return &Scripted{hardware: true, enrolled: true, types: []Type{TypeFingerprint}}
}

// SetAvailability changes the hardware and enrollment answers.
func (s *Scripted) SetAvailability(hardware, enrolled bool) {
	s.mu.Lock()
	s.hardware = hardware
	s.enrolled = enrolled
	s.mu.Unlock()
}

// SetTypes changes the reported modalities.
func (s *Scripted) SetTypes(types ...Type) {
	s.mu.Lock()
	s.types = append([]Type(nil), types...)
	s.mu.Unlock()
}

// Push queues results for subsequent prompts.
func (s *Scripted) Push(results ...Result) {
	s.mu.Lock()
	s.results = append(s.results, results...)
	s.mu.Unlock()
}

// Prompts returns every prompt shown so far.
func (s *Scripted) Prompts() []Prompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Prompt(nil), s.prompts...)
}

func (s *Scripted) HasHardware(context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hardware, nil
}

func (s *Scripted) IsEnrolled(context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enrolled, nil
}

func (s *Scripted) SupportedTypes(context.Context) ([]Type, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Type(nil), s.types...), nil
}

func (s *Scripted) Authenticate(_ context.Context, p Prompt) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, p)
	if len(s.results) == 0 {
		return Result{Error: "user_cancel"}, nil
	}
	r := s.results[0]
	s.results = s.results[1:]
	return r, nil
}
