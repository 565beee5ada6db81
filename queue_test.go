package weathermcp

import (
	"fmt"
	"testing"
	"time"
)

func TestMessageQueueFIFO(t *testing.T) {
	q := newMessageQueue()

	const n = 100
	for i := 0; i < n; i++ {
		q.put(JSONRPCMessage{JSONRPC: JSONRPCVersion, ID: MustString(fmt.Sprintf("%d", i))})
	}

	for i := 0; i < n; i++ {
		select {
		case msg := <-q.out:
			want := MustString(fmt.Sprintf("%d", i))
			if msg.ID != want {
				t.Fatalf("message %d: got id %q, want %q", i, msg.ID, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for message %d", i)
		}
	}

	q.close()
	if _, ok := <-q.out; ok {
		t.Error("expected out channel to be closed after close")
	}
}

func TestMessageQueuePutNeverBlocks(t *testing.T) {
	q := newMessageQueue()

	// No consumer at all; puts must still return promptly.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			q.put(JSONRPCMessage{JSONRPC: JSONRPCVersion, ID: MustString(fmt.Sprintf("%d", i))})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("puts blocked without a consumer")
	}

	q.close()

	count := 0
	for range q.out {
		count++
	}
	if count != 1000 {
		t.Errorf("got %d messages after close, want 1000", count)
	}
}

func TestMessageQueueCloseDeliversBuffered(t *testing.T) {
	q := newMessageQueue()

	q.put(JSONRPCMessage{JSONRPC: JSONRPCVersion, ID: "a"})
	q.put(JSONRPCMessage{JSONRPC: JSONRPCVersion, ID: "b"})
	q.close()

	var ids []string
	for msg := range q.out {
		ids = append(ids, string(msg.ID))
	}

	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("got %v, want [a b]", ids)
	}
}
