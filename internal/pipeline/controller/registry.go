// internal/pipeline/controller/registry.go
package controller

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"diagram-submissions/internal/common/errors"
	"diagram-submissions/internal/models"
	"diagram-submissions/internal/pipeline/attempts"
)

// RegistryConfig bounds the instances kept in memory. It normally mirrors the
// attempt store so an instance lives as long as the attempt it produced.
type RegistryConfig struct {
	Capacity int
	TTL      time.Duration
}

// Registry keeps the live controller per question identity and enforces, across
// instances, that one question has at most one submission in flight and that
// a dispatched interaction is never dispatched again.
type Registry struct {
	mu       sync.Mutex
	deps     *Deps
	live     *expirable.LRU[string, *Controller]
	finished *expirable.LRU[string, *Controller]
	inFlight map[string]*Controller
}

func NewRegistry(deps *Deps, cfg RegistryConfig) *Registry {
	if cfg.Capacity <= 0 {
		cfg.Capacity = attempts.DefaultCapacity
	}
	if cfg.TTL <= 0 {
		cfg.TTL = attempts.DefaultTTL
	}
	return &Registry{
		deps:     deps,
		live:     expirable.NewLRU[string, *Controller](cfg.Capacity, nil, cfg.TTL),
		finished: expirable.NewLRU[string, *Controller](cfg.Capacity, nil, cfg.TTL),
		inFlight: make(map[string]*Controller),
	}
}

func finishedKey(questionKey, interactionID string) string {
	return questionKey + "|" + interactionID
}

// Instance returns the controller a request for identity should use.
//
// An instance with a submission in flight is always returned, so a second
// submit is refused whatever interaction it names. An interaction that was
// already dispatched gets its finished instance back. Otherwise the live
// instance is reused when it is not dispatched and interactionID is empty or
// matches; in every other case a fresh Idle instance replaces it. An empty
// interactionID on a fresh instance gets a generated id.
func (r *Registry) Instance(identity models.QuestionIdentity, interactionID string) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := identity.Key()
	if c, ok := r.inFlight[key]; ok {
		return c
	}
	if interactionID != "" {
		if c, ok := r.finished.Get(finishedKey(key, interactionID)); ok {
			return c
		}
	}
	if c, ok := r.live.Get(key); ok && c.State() != StateDispatched {
		if interactionID == "" || interactionID == c.InteractionID() {
			return c
		}
	}

	if interactionID == "" {
		interactionID = uuid.NewString()
	}
	c := New(r.deps, identity, interactionID)
	c.registry = r
	r.live.Add(key, c)
	return c
}

// claim marks c as the question's only running submission.
func (r *Registry) claim(c *Controller) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := c.identity.Key()
	if holder, ok := r.inFlight[key]; ok && holder != c {
		return errors.NewSubmissionInFlightError(key)
	}
	if done, ok := r.finished.Get(finishedKey(key, c.interactionID)); ok && done != c {
		return errors.NewAlreadyDispatchedError(key)
	}
	r.inFlight[key] = c
	return nil
}

func (r *Registry) settle(c *Controller, dispatched bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := c.identity.Key()
	if r.inFlight[key] == c {
		delete(r.inFlight, key)
	}
	if dispatched {
		r.finished.Add(finishedKey(key, c.interactionID), c)
	}
}

// Len reports the live instances, expired ones included until swept.
func (r *Registry) Len() int {
	return r.live.Len()
}
