// Package clustering assigns face embeddings to identity clusters within an
// event and verifies query embeddings against those clusters.
package clustering

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/kozaktomas/facesnap/internal/database"
	"github.com/kozaktomas/facesnap/internal/embedding"
)

// Store is the persistence the engine needs.
type Store interface {
	database.ClusterWriter
	database.FaceRecorder
}

// Engine runs assignment and verification against a Store. It keeps no
// per-event state; all concurrency control is delegated to the store's
// compare-and-swap writes.
type Engine struct {
	store      Store
	maintainer *Maintainer
	policy     atomic.Pointer[Policy]
	newBackOff func() backoff.BackOff
	onFace     func(database.FaceRecord)
}

// Option configures an Engine.
type Option func(*Engine)

// WithBackOff replaces the delay schedule between conflict retries.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(e *Engine) {
		e.newBackOff = fn
	}
}

// WithFaceObserver registers a callback invoked for every face recorded by
// AssignFace and AssignDetected.
func WithFaceObserver(fn func(database.FaceRecord)) Option {
	return func(e *Engine) {
		e.onFace = fn
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Millisecond
	b.MaxInterval = 100 * time.Millisecond
	b.MaxElapsedTime = 0
	return b
}

// New creates an engine. The policy must be valid.
func New(store Store, policy Policy, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	e := &Engine{
		store:      store,
		maintainer: NewMaintainer(store),
		newBackOff: defaultBackOff,
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.SetPolicy(policy); err != nil {
		return nil, err
	}
	return e, nil
}

// Policy returns the policy currently in effect.
func (e *Engine) Policy() Policy {
	return *e.policy.Load()
}

// SetPolicy validates and installs a new policy. Calls already in progress
// finish with the policy they started with.
func (e *Engine) SetPolicy(p Policy) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid policy: %w", err)
	}
	e.policy.Store(&p)
	return nil
}

func checkInput(p Policy, eventID string, vec embedding.Vector) error {
	if eventID == "" {
		return ErrInvalidEvent
	}
	return embedding.CheckDim(vec, p.Dimension)
}

// candidate is a cluster with its distance to the query.
type candidate struct {
	cluster  database.Cluster
	distance float64
}
