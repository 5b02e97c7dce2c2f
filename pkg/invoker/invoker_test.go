package invoker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInvoker struct {
	out    json.RawMessage
	err    error
	tools  []ToolDescriptor
	closed atomic.Bool
	calls  atomic.Int32
}

func (f *fakeInvoker) Invoke(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	f.calls.Add(1)
	return f.out, f.err
}

func (f *fakeInvoker) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	return f.tools, nil
}

func (f *fakeInvoker) Close() error {
	f.closed.Store(true)
	return nil
}

func TestToolDescriptor_Definition(t *testing.T) {
	d := ToolDescriptor{
		Name:        "get_weather",
		Description: "Current weather",
		InputSchema: json.RawMessage(`{"type":"object"}`),
	}

	def := d.Definition()
	assert.Equal(t, "get_weather", def.ID)
	assert.Equal(t, "get_weather", def.Name)
	assert.Equal(t, "Current weather", def.Description)
	assert.JSONEq(t, `{"type":"object"}`, string(def.InputSchema))
	assert.JSONEq(t, `{}`, string(def.OutputSchema))
	assert.NoError(t, def.Validate())
}

func TestInvocationError_Kinds(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		kind     Kind
	}{
		{"not found", NewError(KindNotFound, "x", nil, "no such task"), ErrNotFound, KindNotFound},
		{"unreachable", NewError(KindUnreachable, "x", errors.New("dial"), ""), ErrUnreachable, KindUnreachable},
		{"failed", NewError(KindExecutionFailed, "x", nil, "boom"), ErrExecutionFailed, KindExecutionFailed},
		{"deadline becomes timeout", NewError(KindUnreachable, "x", context.DeadlineExceeded, ""), ErrTimeout, KindTimeout},
		{"wrapped", fmt.Errorf("outer: %w", NewError(KindNotFound, "x", nil, "")), ErrNotFound, KindNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.sentinel)
			assert.Equal(t, tt.kind, KindOf(tt.err))
		})
	}

	assert.NotErrorIs(t, NewError(KindNotFound, "x", nil, ""), ErrTimeout)
	assert.ErrorIs(t, NewError(KindTimeout, "x", context.DeadlineExceeded, ""), context.DeadlineExceeded)
}

func TestNewWorkflowInvokers_RejectsNil(t *testing.T) {
	f := &fakeInvoker{}

	_, err := NewWorkflowInvokers(nil, f, f)
	assert.Error(t, err)
	_, err = NewWorkflowInvokers(f, nil, f)
	assert.Error(t, err)
	_, err = NewWorkflowInvokers(f, f, nil)
	assert.Error(t, err)

	w, err := NewWorkflowInvokers(f, f, f)
	require.NoError(t, err)
	assert.NotNil(t, w)
}

func TestInitWorkflowInvokers_Success(t *testing.T) {
	tasks := &fakeInvoker{out: json.RawMessage(`"hello"`)}
	tools := &fakeInvoker{tools: []ToolDescriptor{{Name: "add"}}}
	agents := &fakeInvoker{out: json.RawMessage(`{"ok":true}`)}

	w, err := InitWorkflowInvokers(context.Background(),
		func(context.Context) (TaskInvoker, error) { return tasks, nil },
		func(context.Context) (ToolInvoker, error) { return tools, nil },
		func(context.Context) (AgentInvoker, error) { return agents, nil },
	)
	require.NoError(t, err)

	out, err := w.ExecuteTask(context.Background(), "greeting", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `"hello"`, string(out))

	out, err = w.DelegateToAgent(context.Background(), "executor", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(out))

	list, err := w.ListTools(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, w.Close())
	assert.True(t, tasks.closed.Load())
	assert.True(t, tools.closed.Load())
}

func TestInitWorkflowInvokers_AnyFailureYieldsNoFacade(t *testing.T) {
	boom := errors.New("tool runtime down")

	for _, failing := range []string{"task", "tool", "agent"} {
		t.Run(failing, func(t *testing.T) {
			tasks, tools, agents := &fakeInvoker{}, &fakeInvoker{}, &fakeInvoker{}

			w, err := InitWorkflowInvokers(context.Background(),
				func(context.Context) (TaskInvoker, error) {
					if failing == "task" {
						return nil, boom
					}
					return tasks, nil
				},
				func(context.Context) (ToolInvoker, error) {
					if failing == "tool" {
						return nil, boom
					}
					return tools, nil
				},
				func(context.Context) (AgentInvoker, error) {
					if failing == "agent" {
						return nil, boom
					}
					return agents, nil
				},
			)

			require.Error(t, err)
			assert.ErrorIs(t, err, boom)
			assert.Nil(t, w)

			built := map[string]*fakeInvoker{"task": tasks, "tool": tools, "agent": agents}
			delete(built, failing)
			for name, inv := range built {
				assert.True(t, inv.closed.Load(), "%s invoker should be closed", name)
			}
		})
	}
}

func TestWorkflowInvokers_PropagatesInvocationErrors(t *testing.T) {
	agents := &fakeInvoker{err: NewError(KindUnreachable, "executor", errors.New("connection refused"), "")}
	w, err := NewWorkflowInvokers(&fakeInvoker{}, &fakeInvoker{}, agents)
	require.NoError(t, err)

	_, err = w.DelegateToAgent(context.Background(), "executor", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.Equal(t, int32(1), agents.calls.Load())
}

func TestNoTools(t *testing.T) {
	tools, err := NoTools{}.ListTools(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tools)

	_, err = NoTools{}.Invoke(context.Background(), "search", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}
