package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"ai-call-center/internal/calls"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func job(i int) calls.Job {
	return calls.Job{ID: fmt.Sprintf("j%d", i), ScriptID: fmt.Sprintf("s%d", i), Status: calls.JobStatusQueued}
}

func TestFIFOOrder(t *testing.T) {
	q := New()
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(job(i)))
	}
	assert.Equal(t, 5, q.Len())

	for i := 0; i < 5; i++ {
		j, err := q.Dequeue(context.Background())
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("j%d", i), j.ID)
	}
	assert.Equal(t, 0, q.Len())
}

func TestEnqueueRejectsInvalidReference(t *testing.T) {
	q := New()
	assert.ErrorIs(t, q.Enqueue(calls.Job{}), ErrInvalidJob)
	assert.ErrorIs(t, q.Enqueue(calls.Job{ID: "j"}), ErrInvalidJob)
	assert.Equal(t, 0, q.Len())
}

func TestDequeueSuspendsUntilEnqueue(t *testing.T) {
	q := New()
	got := make(chan calls.Job, 1)
	go func() {
		j, err := q.Dequeue(context.Background())
		if err == nil {
			got <- j
		}
	}()

	select {
	case <-got:
		t.Fatal("dequeue returned before anything was enqueued")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, q.Enqueue(job(1)))
	select {
	case j := <-got:
		assert.Equal(t, "j1", j.ID)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not wake up")
	}
}

func TestDequeueReturnsOnCancel(t *testing.T) {
	q := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConcurrentProducersPreservePerProducerOrder(t *testing.T) {
	q := New()
	const producers, perProducer = 8, 50

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				_ = q.Enqueue(calls.Job{ID: fmt.Sprintf("%d-%03d", p, i), ScriptID: "s"})
			}
		}(p)
	}
	wg.Wait()
	require.Equal(t, producers*perProducer, q.Len())

	last := map[byte]string{}
	for q.Len() > 0 {
		j, err := q.Dequeue(context.Background())
		require.NoError(t, err)
		p := j.ID[0]
		assert.Greater(t, j.ID, last[p], "producer %c out of order", p)
		last[p] = j.ID
	}
}
