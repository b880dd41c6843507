package events

import (
	"testing"

	"github.com/stretchr/testify/require"

	"packchain/core/types"
)

type testEvent struct{ name string }

func (e testEvent) EventType() string { return e.name }

func (e testEvent) Event() *types.Event {
	return &types.Event{Type: e.name, Attributes: map[string]string{"k": "v"}}
}

type bareEvent struct{}

func (bareEvent) EventType() string { return "bare" }

func TestBufferFlushPreservesOrder(t *testing.T) {
	var buf Buffer
	buf.Emit(testEvent{"a"})
	buf.Emit(nil)
	buf.Emit(testEvent{"b"})
	require.Equal(t, 2, buf.Len())

	var sink Buffer
	flushed := buf.Flush(&sink)
	require.Len(t, flushed, 2)
	require.Equal(t, 0, buf.Len())
	require.Equal(t, 2, sink.Len())

	out := sink.Flush(nil)
	require.Equal(t, "a", out[0].EventType())
	require.Equal(t, "b", out[1].EventType())
}

func TestBufferReset(t *testing.T) {
	var buf Buffer
	buf.Emit(testEvent{"a"})
	buf.Reset()
	var sink Buffer
	require.Empty(t, buf.Flush(&sink))
	require.Equal(t, 0, sink.Len())
}

func TestMultiAndCanonical(t *testing.T) {
	var one, two Buffer
	m := Multi{&one, nil, &two, NoopEmitter{}}
	m.Emit(testEvent{"x"})
	m.Emit(bareEvent{})
	require.Equal(t, 2, one.Len())
	require.Equal(t, 2, two.Len())

	canonical := Canonical(one.Flush(nil))
	require.Len(t, canonical, 1)
	require.Equal(t, "x", canonical[0].Type)
	require.Equal(t, "v", canonical[0].Attributes["k"])
}
