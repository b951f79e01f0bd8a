package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTasks_RecordsOutcomeAndCallsBack(t *testing.T) {
	done := make(chan Task, 2)
	tasks := NewTasks(context.Background(), func(task Task) { done <- task })
	defer tasks.Shutdown()

	started, err := tasks.Start("ingest", func(context.Context) (interface{}, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, started.Status)

	finished := <-done
	assert.Equal(t, started.ID, finished.ID)
	assert.Equal(t, StatusSucceeded, finished.Status)
	assert.Equal(t, 42, finished.Result)
	require.NotNil(t, finished.FinishedAt)

	_, err = tasks.Start("ingest", func(context.Context) (interface{}, error) {
		return nil, errors.New("disk full")
	})
	require.NoError(t, err)
	failed := <-done
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Equal(t, "disk full", failed.Error)

	got, ok := tasks.Get(started.ID)
	require.True(t, ok)
	assert.Equal(t, StatusSucceeded, got.Status)
}

func TestTasks_ShutdownCancelsRunningTask(t *testing.T) {
	tasks := NewTasks(context.Background(), nil)

	entered := make(chan struct{})
	started, err := tasks.Start("fetch", func(ctx context.Context) (interface{}, error) {
		close(entered)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.NoError(t, err)
	<-entered

	_, err = tasks.Start("fetch", func(context.Context) (interface{}, error) { return nil, nil })
	require.ErrorIs(t, err, ErrBusy)

	finished := make(chan struct{})
	go func() {
		tasks.Shutdown()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not wait for the task")
	}

	got, ok := tasks.Get(started.ID)
	require.True(t, ok)
	assert.Equal(t, StatusCancelled, got.Status)

	_, err = tasks.Start("fetch", func(context.Context) (interface{}, error) { return nil, nil })
	require.ErrorIs(t, err, context.Canceled)
}

func TestTasks_PanicFailsTaskAndFreesSlot(t *testing.T) {
	done := make(chan Task, 1)
	tasks := NewTasks(context.Background(), func(task Task) { done <- task })
	defer tasks.Shutdown()

	_, err := tasks.Start("ingest", func(context.Context) (interface{}, error) {
		var summary map[string]int
		summary["files"]++
		return summary, nil
	})
	require.NoError(t, err)

	failed := <-done
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Contains(t, failed.Error, "task panicked")

	_, err = tasks.Start("ingest", func(context.Context) (interface{}, error) { return nil, nil })
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, (<-done).Status)
}
