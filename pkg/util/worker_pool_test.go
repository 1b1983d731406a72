package util

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWorkerPool(t *testing.T) {
	p, err := NewWorkerPool(1)
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		release = make(chan struct{})
	)

	wg.Add(1)
	require.NoError(t, p.Submit(func() {
		defer wg.Done()
		<-release
	}))

	require.ErrorIs(t, p.Submit(func() {}), ErrPoolOverload)

	close(release)
	wg.Wait()

	p.Release()
	require.ErrorIs(t, p.Submit(func() {}), ErrPoolClosed)
}
