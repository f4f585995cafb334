package router

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeduplicator(t *testing.T) {
	d := NewDeduplicator()

	assert.True(t, d.Admit("a"))
	assert.False(t, d.Admit("a"))
	assert.True(t, d.Admit("b"))
	assert.Equal(t, 2, d.Len())

	d.Release("a")
	assert.Equal(t, 1, d.Len())
	assert.True(t, d.Admit("a"))

	// 重复释放无副作用
	d.Release("b")
	d.Release("b")
	assert.Equal(t, 1, d.Len())
}

func TestDeduplicator_ConcurrentAdmit(t *testing.T) {
	d := NewDeduplicator()

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d.Admit("same") {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), admitted.Load())
}
