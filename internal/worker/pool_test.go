package worker

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/cuongbtq/jobqueue/internal/testutil"
	"github.com/cuongbtq/jobqueue/internal/worker/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWorkerID(t *testing.T) {
	host, err := os.Hostname()
	require.NoError(t, err)

	id := NewWorkerID(3)
	pattern := fmt.Sprintf(`^%s-%d-3-[0-9a-f]{8}$`, regexp.QuoteMeta(host), os.Getpid())
	assert.Regexp(t, pattern, id)
	assert.NotEqual(t, id, NewWorkerID(3))
}

func TestNewPool_InvalidInstances(t *testing.T) {
	_, err := NewPool(0, Config{Store: newFakeStore(), Registry: NewRegistry()})
	assert.Error(t, err)
}

func TestPool_RunsDistinctWorkers(t *testing.T) {
	store := newFakeStore()
	var ids []string
	for range 20 {
		ids = append(ids, store.add("test_job", `{}`, 3))
	}

	registry := NewRegistry()
	registry.Register("test_job", func(context.Context, Task) (Result, error) {
		time.Sleep(time.Millisecond)
		return Result{}, nil
	})

	pool, err := NewPool(4, Config{
		Store:           store,
		Registry:        registry,
		Logger:          testutil.DiscardLogger(),
		PollInterval:    5 * time.Millisecond,
		MaxPollInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	require.Len(t, pool.Runtimes(), 4)

	seen := map[string]bool{}
	for _, rt := range pool.Runtimes() {
		assert.False(t, seen[rt.ID()], "duplicate worker id %s", rt.ID())
		seen[rt.ID()] = true
	}

	runErr := make(chan error, 1)
	go func() { runErr <- pool.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		for _, id := range ids {
			if store.get(id).Status != domain.JobStatusCompleted {
				return false
			}
		}
		return true
	}, waitFor, time.Millisecond)

	pool.Wake()

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, pool.Stop(ctx))
	require.NoError(t, <-runErr)

	for _, id := range ids {
		assert.Equal(t, 1, store.get(id).Attempts)
	}
}
