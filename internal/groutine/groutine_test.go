package groutine

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGoPropagatesName(t *testing.T) {
	got := make(chan string, 1)
	Go(nil, "worker-1", func(ctx context.Context) {
		got <- Name(ctx)
	})
	assert.Equal(t, "worker-1", <-got)
}

func TestGoTrackedWaits(t *testing.T) {
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := 0

	for i := 0; i < 5; i++ {
		GoTracked(context.Background(), &wg, "tracked", func(ctx context.Context) {
			mu.Lock()
			seen++
			mu.Unlock()
		})
	}
	wg.Wait()
	assert.Equal(t, 5, seen)
}

func TestNameWithoutGoroutine(t *testing.T) {
	assert.Equal(t, "", Name(context.Background()))
	assert.Equal(t, "", Name(nil)) //nolint:staticcheck
}
