package cq_test

import (
	"testing"
	"time"

	"deedles.dev/booth/internal/cq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueOrder(t *testing.T) {
	q := cq.New[int]()
	defer q.Stop()

	go func() {
		for i := range 100 {
			q.Push(i)
		}
	}()

	var got []int
	deadline := time.After(5 * time.Second)
	for len(got) < 100 {
		select {
		case batch := <-q.Get():
			got = append(got, batch...)
		case <-deadline:
			require.FailNow(t, "timed out", "received %v values", len(got))
		}
	}

	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestQueueTryGetEmpty(t *testing.T) {
	q := cq.New[string]()
	defer q.Stop()
	assert.Nil(t, q.TryGet())
}

func TestQueueStop(t *testing.T) {
	q := cq.New[int]()
	q.Stop()
	assert.False(t, q.Push(1))
}
