package taskgroup

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroup_IsolatesOutcomes(t *testing.T) {
	var finished atomic.Int32
	g := New(context.Background(), WithOnDone(func(Outcome) { finished.Add(1) }))

	g.Go("ok", func(ctx context.Context) error { return nil })
	g.Go("boom", func(ctx context.Context) error { panic("kaboom") })
	g.Go("fail", func(ctx context.Context) error { return errors.New("bad config") })
	g.Go("slow", func(ctx context.Context) error {
		time.Sleep(20 * time.Millisecond)
		return nil
	})

	out := g.Wait()
	require.Len(t, out, 4)

	assert.Equal(t, Outcome{Name: "ok", Status: StatusSuccess}, out[0])
	assert.Equal(t, StatusPanicked, out[1].Status)
	assert.Contains(t, out[1].Err.Error(), "kaboom")
	assert.Equal(t, StatusFailed, out[2].Status)
	assert.Equal(t, StatusSuccess, out[3].Status)
	assert.Equal(t, int32(4), finished.Load())

	assert.Equal(t, map[Status]int{StatusSuccess: 2, StatusPanicked: 1, StatusFailed: 1}, Summary(out))
}

func TestGroup_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	g := New(ctx)

	g.Go("clean", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	g.Go("ctx-err", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	cancel()
	for _, o := range g.Wait() {
		assert.Equal(t, StatusCancelled, o.Status, o.Name)
	}
}

func TestProtect(t *testing.T) {
	err := Protect(func() error {
		var m map[string]int
		m["x"] = 1
		return nil
	})
	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.NotEmpty(t, pe.Stack)

	assert.NoError(t, Protect(func() error { return nil }))
}
