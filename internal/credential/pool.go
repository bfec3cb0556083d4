// Package credential manages the ordered pool of interchangeable API keys
// used to call the external generation service. Exactly one key is current
// at any time; rotation advances to the next non-exhausted key, wrapping,
// and the pool is dead once every key is exhausted.
package credential

import (
	"errors"
	"sync"
)

// Common errors returned by the Pool.
var (
	// ErrNoCredentials is returned when constructing a pool with no keys.
	ErrNoCredentials = errors.New("credential pool requires at least one key")

	// ErrPoolExhausted is returned when every key in the pool has been
	// marked exhausted and no rotation target remains.
	ErrPoolExhausted = errors.New("all credentials exhausted")
)

// Pool holds the API keys and their exhausted flags. All methods are safe
// for concurrent use; exhaustion-and-rotate is linearized under one mutex
// so two workers hitting quota simultaneously cannot both advance past a
// still-valid key.
type Pool struct {
	mu        sync.Mutex
	keys      []string
	exhausted []bool
	current   int
}

// NewPool creates a Pool over the given keys in order. The first key is
// current. Returns ErrNoCredentials for an empty key list.
func NewPool(keys []string) (*Pool, error) {
	if len(keys) == 0 {
		return nil, ErrNoCredentials
	}

	ks := make([]string, len(keys))
	copy(ks, keys)

	return &Pool{
		keys:      ks,
		exhausted: make([]bool, len(ks)),
	}, nil
}

// Current returns the key currently in use.
func (p *Pool) Current() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.keys[p.current]
}

// Size returns the total number of keys in the pool.
func (p *Pool) Size() int {
	return len(p.keys)
}

// Remaining returns the number of keys not yet exhausted.
func (p *Pool) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, ex := range p.exhausted {
		if !ex {
			n++
		}
	}
	return n
}

// MarkExhaustedAndRotate marks the given key exhausted and, if it was the
// current key, advances to the next non-exhausted key, wrapping around the
// list. It returns the new current key, or ErrPoolExhausted when no usable
// key remains.
//
// The exhausted key is passed explicitly rather than assumed to be the
// current one: by the time a worker reports quota exhaustion another worker
// may already have rotated, and marking the current key again would burn a
// still-valid credential.
func (p *Pool) MarkExhaustedAndRotate(key string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, k := range p.keys {
		if k == key {
			p.exhausted[i] = true
			break
		}
	}

	// If the reported key is no longer current, another worker already
	// rotated; keep using whatever is current now, provided it still works.
	if p.keys[p.current] != key && !p.exhausted[p.current] {
		return p.keys[p.current], nil
	}

	for i := 1; i <= len(p.keys); i++ {
		next := (p.current + i) % len(p.keys)
		if !p.exhausted[next] {
			p.current = next
			return p.keys[next], nil
		}
	}

	return "", ErrPoolExhausted
}
