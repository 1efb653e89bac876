package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopsync/shopsync/entity"
)

func TestWritesToSameIDAreOrdered(t *testing.T) {
	q := New()
	ctx := context.Background()

	var mu sync.Mutex
	var sent []int // order in which tasks actually executed
	var carried []entity.Version

	// Enqueue three writes concurrently; each records the version it was
	// handed and "confirms" a new one.
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 1; i <= 3; i++ {
		wg.Add(1)
		i := i
		go func() {
			defer wg.Done()
			<-start
			// Stagger issuance so issuance order is deterministic.
			time.Sleep(time.Duration(i) * 20 * time.Millisecond)
			_, err := q.Enqueue(ctx, "o1", entity.At(100), func(_ context.Context, prev entity.Version) (entity.Version, error) {
				mu.Lock()
				sent = append(sent, i)
				carried = append(carried, prev)
				mu.Unlock()
				time.Sleep(50 * time.Millisecond) // outlast the next issuance
				return entity.At(100 + int64(i)), nil
			})
			assert.NoError(t, err)
		}()
	}
	close(start)
	wg.Wait()

	require.Equal(t, []int{1, 2, 3}, sent)
	// Each write carried the version confirmed by its predecessor.
	require.Equal(t, []entity.Version{entity.At(100), entity.At(101), entity.At(102)}, carried)
}

func TestChainVersionSurvivesFailure(t *testing.T) {
	q := New()
	ctx := context.Background()

	// First write fails; per contract it returns the version it attempted.
	_, err := q.Enqueue(ctx, "o1", entity.At(100), func(_ context.Context, prev entity.Version) (entity.Version, error) {
		return prev, fmt.Errorf("network down")
	})
	require.Error(t, err)

	// The retry still receives a coherent version.
	var got entity.Version
	_, err = q.Enqueue(ctx, "o1", entity.At(999), func(_ context.Context, prev entity.Version) (entity.Version, error) {
		got = prev
		return entity.At(101), nil
	})
	require.NoError(t, err)
	// The seed of the second call is ignored: the chain already exists.
	assert.Equal(t, entity.At(100), got)
}

func TestDifferentIDsDoNotBlockEachOther(t *testing.T) {
	q := New()
	ctx := context.Background()

	slowStarted := make(chan struct{})
	release := make(chan struct{})
	done := make(chan string, 2)

	go func() {
		_, _ = q.Enqueue(ctx, "a", entity.Unversioned(), func(context.Context, entity.Version) (entity.Version, error) {
			close(slowStarted)
			<-release
			return entity.At(1), nil
		})
		done <- "a"
	}()

	<-slowStarted
	go func() {
		_, _ = q.Enqueue(ctx, "b", entity.Unversioned(), func(context.Context, entity.Version) (entity.Version, error) {
			return entity.At(1), nil
		})
		done <- "b"
	}()

	// b completes while a is still in flight.
	select {
	case id := <-done:
		assert.Equal(t, "b", id)
	case <-time.After(2 * time.Second):
		t.Fatal("write to independent id was blocked")
	}
	close(release)
	assert.Equal(t, "a", <-done)
}

func TestTimeoutUnblocksChain(t *testing.T) {
	q := New(WithTimeout(50 * time.Millisecond))
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "o1", entity.At(100), func(taskCtx context.Context, prev entity.Version) (entity.Version, error) {
		<-taskCtx.Done() // simulate a write whose response never arrives
		return prev, taskCtx.Err()
	})
	require.Error(t, err)

	// The chain is not wedged: a subsequent write runs and sees the
	// attempted version.
	var got entity.Version
	_, err = q.Enqueue(ctx, "o1", entity.Unversioned(), func(_ context.Context, prev entity.Version) (entity.Version, error) {
		got = prev
		return entity.At(101), nil
	})
	require.NoError(t, err)
	assert.Equal(t, entity.At(100), got)
}

func TestCallerCancellationDoesNotAbortWrite(t *testing.T) {
	q := New()
	callerCtx, cancel := context.WithCancel(context.Background())

	ran := make(chan struct{})
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := q.Enqueue(callerCtx, "o1", entity.Unversioned(), func(context.Context, entity.Version) (entity.Version, error) {
		time.Sleep(80 * time.Millisecond)
		close(ran)
		return entity.At(1), nil
	})
	require.ErrorIs(t, err, context.Canceled)

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight write was aborted by caller cancellation")
	}
	q.Wait()
}

func TestReset(t *testing.T) {
	q := New()
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "o1", entity.At(100), func(_ context.Context, prev entity.Version) (entity.Version, error) {
		return prev, fmt.Errorf("conflict")
	})
	require.Error(t, err)
	q.Wait()

	// After a discard-local resync the server version supersedes the chain.
	assert.True(t, q.Reset("o1", entity.At(200)))

	var got entity.Version
	_, err = q.Enqueue(ctx, "o1", entity.Unversioned(), func(_ context.Context, prev entity.Version) (entity.Version, error) {
		got = prev
		return prev, nil
	})
	require.NoError(t, err)
	assert.Equal(t, entity.At(200), got)
}

func TestPendingFor(t *testing.T) {
	q := New()
	assert.Equal(t, 0, q.PendingFor("missing"))

	release := make(chan struct{})
	go func() {
		_, _ = q.Enqueue(context.Background(), "o1", entity.Unversioned(), func(context.Context, entity.Version) (entity.Version, error) {
			<-release
			return entity.At(1), nil
		})
	}()

	require.Eventually(t, func() bool {
		return q.PendingFor("o1") == 1
	}, time.Second, 5*time.Millisecond)

	close(release)
	q.Wait()
	assert.Equal(t, 0, q.PendingFor("o1"))
}
