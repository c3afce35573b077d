package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnboundedQueue_KeepsOrderWithoutReader(t *testing.T) {
	q := newUnboundedQueue[int]()
	for i := 0; i < 1000; i++ {
		require.True(t, q.push(i))
	}
	q.closeInput()

	var got []int
	for v := range q.output() {
		got = append(got, v)
	}
	require.Len(t, got, 1000)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestUnboundedQueue_StopDiscards(t *testing.T) {
	q := newUnboundedQueue[string]()
	require.True(t, q.push("a"))
	q.stop()
	q.stop()

	assert.False(t, q.push("b"))
	select {
	case _, ok := <-q.output():
		// a buffered item may win the race with stop, but output must close
		if ok {
			_, ok = <-q.output()
		}
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("output not closed after stop")
	}
}
