package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueue_FIFO(t *testing.T) {
	q := New[int](0)
	assert.Nil(t, q.Take(5))

	q.Push(1, 2, 3)
	q.Push(4)
	assert.Equal(t, 4, q.Len())
	assert.Equal(t, []int{1, 2}, q.Take(2))
	assert.Equal(t, []int{3, 4}, q.Take(0))
	assert.Zero(t, q.Len())
}

func TestQueue_LimitDropsOldest(t *testing.T) {
	q := New[string](3)
	assert.Zero(t, q.Push("a", "b"))
	assert.Equal(t, 2, q.Push("c", "d", "e"))
	assert.Equal(t, []string{"c", "d", "e"}, q.Take(10))
	assert.Equal(t, uint64(2), q.Dropped())
}

func TestQueue_ConcurrentPush(t *testing.T) {
	q := New[int](0)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				q.Push(i)
			}
		}()
	}
	wg.Wait()
	assert.Len(t, q.Take(0), 800)
}
