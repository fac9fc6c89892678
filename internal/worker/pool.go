package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Pool runs several runtimes in one process, each with its own worker id.
type Pool struct {
	runtimes []*Runtime
	logger   *slog.Logger
}

// NewPool builds instances runtimes from template. The template's WorkerID is
// ignored; every runtime gets a unique id from NewWorkerID.
func NewPool(instances int, template Config) (*Pool, error) {
	if instances <= 0 {
		return nil, fmt.Errorf("instances must be positive, got %d", instances)
	}

	logger := template.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pool{logger: logger}
	for n := range instances {
		cfg := template
		cfg.WorkerID = NewWorkerID(n)

		rt, err := NewRuntime(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create worker %d: %w", n, err)
		}
		p.runtimes = append(p.runtimes, rt)
	}

	return p, nil
}

// NewWorkerID returns "<hostname>-<pid>-<n>-<uuid8>", unique across processes
// and restarts.
func NewWorkerID(n int) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d-%d-%s", host, os.Getpid(), n, uuid.NewString()[:8])
}

// Runtimes returns the pooled runtimes.
func (p *Pool) Runtimes() []*Runtime {
	return p.runtimes
}

// Run starts every runtime and blocks until all of them have returned.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("Spawning worker pool", slog.Int("instances", len(p.runtimes)))

	var g errgroup.Group
	for _, rt := range p.runtimes {
		g.Go(func() error {
			return rt.Run(ctx)
		})
	}
	return g.Wait()
}

// Wake nudges every runtime to poll now.
func (p *Pool) Wake() {
	for _, rt := range p.runtimes {
		rt.Wake()
	}
}

// Stop drains all runtimes under one deadline taken from ctx.
func (p *Pool) Stop(ctx context.Context) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, rt := range p.runtimes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := rt.Stop(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("worker %s: %w", rt.ID(), err))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return err
	}
	p.logger.Info("Worker pool stopped", slog.Int("instances", len(p.runtimes)))
	return nil
}
