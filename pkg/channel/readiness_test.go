package channel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadiness_ResolvesOnce(t *testing.T) {
	r := NewReadiness()

	settled, _ := r.Settled()
	assert.False(t, settled)

	assert.True(t, r.Resolve())
	assert.False(t, r.Reject(errors.New("late")))
	assert.False(t, r.Resolve())

	require.NoError(t, r.Wait(context.Background()))
	settled, err := r.Settled()
	assert.True(t, settled)
	assert.NoError(t, err)
}

func TestReadiness_Reject(t *testing.T) {
	r := NewReadiness()
	boom := errors.New("engine cannot open")

	assert.True(t, r.Reject(boom))
	assert.False(t, r.Resolve())
	assert.ErrorIs(t, r.Wait(context.Background()), boom)
}

func TestReadiness_WaitersWakeTogether(t *testing.T) {
	r := NewReadiness()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- r.Wait(context.Background())
		}()
	}

	time.Sleep(10 * time.Millisecond)
	r.Resolve()
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestReadiness_WaitAbandonedByContext(t *testing.T) {
	r := NewReadiness()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, r.Wait(ctx), context.DeadlineExceeded)

	settled, _ := r.Settled()
	assert.False(t, settled)
}
