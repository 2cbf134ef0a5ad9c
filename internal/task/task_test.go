package task

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name string
		err  error
		want Status
	}{
		{"nil succeeds", nil, StatusSucceeded},
		{"context canceled", context.Canceled, StatusCancelled},
		{"wrapped context canceled", fmt.Errorf("read body: %w", context.Canceled), StatusCancelled},
		{"task canceled", ErrCanceled, StatusCancelled},
		{"deadline is a fault", context.DeadlineExceeded, StatusFaulted},
		{"plain error", boom, StatusFaulted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Classify(tt.err)
			assert.Equal(t, tt.want, res.Status)
			assert.Equal(t, tt.err, res.Err)
		})
	}
}

func TestGoCompletesAsynchronously(t *testing.T) {
	release := make(chan struct{})
	tk := Go(context.Background(), func(context.Context) error {
		<-release
		return nil
	})

	select {
	case <-tk.Done():
		t.Fatal("task completed before release")
	case <-time.After(10 * time.Millisecond):
	}

	close(release)
	assert.Equal(t, StatusSucceeded, tk.Wait().Status)
}

func TestRunRecoversPanic(t *testing.T) {
	res := Run(context.Background(), func(context.Context) error {
		panic("kaboom")
	}).Wait()

	require.Equal(t, StatusFaulted, res.Status)
	var pe *PanicError
	require.ErrorAs(t, res.Err, &pe)
	assert.Equal(t, "kaboom", pe.Value)
	assert.NotEmpty(t, pe.Stack)
}

func TestFaultKeepsOriginalError(t *testing.T) {
	boom := errors.New("boom")
	res := Go(context.Background(), func(context.Context) error { return boom }).Wait()
	assert.Equal(t, StatusFaulted, res.Status)
	assert.Same(t, boom, res.Err)
}

func TestFinishedHelpers(t *testing.T) {
	assert.Equal(t, StatusSucceeded, FromError(nil).Wait().Status)
	assert.Equal(t, StatusCancelled, Canceled().Wait().Status)
	assert.Equal(t, "cancelled", StatusCancelled.String())
}
