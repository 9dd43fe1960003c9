package fanout

import (
	"context"
	"testing"
)

func newTestConnection(bufferCap int) *Connection {
	_, cancel := context.WithCancel(context.Background())
	return &Connection{
		Out:       make(chan any, bufferCap),
		bufferCap: bufferCap,
		cancel:    cancel,
	}
}

func TestPush_DeliversWithinCapacity(t *testing.T) {
	conn := newTestConnection(4)
	conn.push(Frame{EventType: "MessageCreated"})
	conn.push(Frame{EventType: "MessageCreated"})

	if len(conn.Out) != 2 {
		t.Fatalf("Out has %d buffered frames, want 2", len(conn.Out))
	}
}

func TestPush_OverflowClosesConnectionWithoutBlocking(t *testing.T) {
	conn := newTestConnection(1)
	conn.push(Frame{EventType: "MessageCreated"}) // fills the one slot
	conn.push(Frame{EventType: "MessageCreated"}) // must not block: overflow path

	if !conn.closed {
		t.Fatal("connection should be marked closed after a buffer overflow")
	}

	// the channel must now be closed; the already-buffered frame is still
	// delivered to whoever ranges over Out.
	var gotFrame bool
	for v := range conn.Out {
		if _, ok := v.(Frame); ok {
			gotFrame = true
		}
	}
	if !gotFrame {
		t.Error("expected the original buffered frame to still be delivered")
	}

	// a push after overflow-close must be a silent no-op, not a panic on
	// a closed channel.
	conn.push(Frame{EventType: "MessageCreated"})
}

func TestConnectionClose_IsIdempotent(t *testing.T) {
	conn := newTestConnection(4)
	conn.Close()
	conn.Close() // must not panic or double-close the channel

	if _, ok := <-conn.Out; ok {
		t.Error("expected Out to be closed and drained")
	}
}

func TestPush_AfterCloseIsNoop(t *testing.T) {
	conn := newTestConnection(4)
	conn.Close()
	conn.push(Frame{EventType: "MessageCreated"}) // must not panic
}
