package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuongbtq/jobqueue/internal/testutil"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAcknowledger struct {
	mu    sync.Mutex
	acks  []uint64
	nacks []uint64
}

func (a *fakeAcknowledger) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks = append(a.acks, tag)
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, _ bool, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks = append(a.nacks, tag)
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, _ bool) error {
	return a.Nack(tag, false, false)
}

type countingWaker struct{ n atomic.Int32 }

func (w *countingWaker) Wake() { w.n.Add(1) }

type fakeSource struct {
	deliveries chan amqp.Delivery
	routingKey string
}

func (s *fakeSource) Consume(routingKey, _ string) (<-chan amqp.Delivery, error) {
	s.routingKey = routingKey
	return s.deliveries, nil
}

func TestWakeConsumer(t *testing.T) {
	ack := &fakeAcknowledger{}
	waker := &countingWaker{}
	source := &fakeSource{deliveries: make(chan amqp.Delivery, 3)}

	source.deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 1,
		Body: []byte(`{"job_id":"` + uuid.NewString() + `","job_type":"test_job"}`)}
	source.deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 2, Body: []byte(`not json`)}
	source.deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 3, Body: []byte(`{"job_id":"nope"}`)}
	close(source.deliveries)

	c := NewWakeConsumer(source, waker, "test", testutil.DiscardLogger())

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("consumer did not return after delivery channel closed")
	}

	assert.Equal(t, "job.enqueued", source.routingKey)
	assert.EqualValues(t, 1, waker.n.Load())
	assert.Equal(t, []uint64{1}, ack.acks)
	assert.Equal(t, []uint64{2, 3}, ack.nacks)
}
