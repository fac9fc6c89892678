package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/cuongbtq/jobqueue/internal/worker/domain"
)

// Task is the view of a claimed job handed to a Handler.
type Task struct {
	JobID    string
	TenantID string
	Type     string
	Attempt  int
	Payload  json.RawMessage
}

// Result is what a successful handler reports. Summary is persisted as the
// job's result after sensitive keys are removed.
type Result struct {
	Summary map[string]any
}

// Handler executes one job type. The context carries the job timeout.
type Handler func(ctx context.Context, task Task) (Result, error)

// Validator is implemented by payload types that check their own fields.
type Validator interface {
	Validate() error
}

// Registry maps job types to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds jobType to h. Registering an empty type, a nil handler or the
// same type twice is a programming error and panics.
func (r *Registry) Register(jobType string, h Handler) {
	if jobType == "" {
		panic("worker: empty job type")
	}
	if h == nil {
		panic("worker: nil handler for job type " + jobType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[jobType]; exists {
		panic("worker: duplicate handler for job type " + jobType)
	}
	r.handlers[jobType] = h
}

// Lookup returns the handler for jobType or ErrUnregisteredHandler.
func (r *Registry) Lookup(jobType string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[jobType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnregisteredHandler, jobType)
	}
	return h, nil
}

// Types returns the registered job types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// Typed adapts a handler that takes a decoded payload. Unknown fields are
// rejected and P.Validate is called when P implements Validator. Decode and
// validation failures wrap ErrInvalidPayload so they are never retried.
func Typed[P any](fn func(ctx context.Context, task Task, payload P) (Result, error)) Handler {
	return func(ctx context.Context, task Task) (Result, error) {
		var payload P

		dec := json.NewDecoder(bytes.NewReader(task.Payload))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&payload); err != nil {
			return Result{}, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
		}

		if v, ok := any(&payload).(Validator); ok {
			if err := v.Validate(); err != nil {
				return Result{}, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
			}
		}

		return fn(ctx, task, payload)
	}
}
