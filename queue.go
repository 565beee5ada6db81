package weathermcp

// messageQueue is an unbounded FIFO buffer between the stream reader and the
// dispatch loop. The reader must never block on a slow consumer, so the queue
// absorbs whatever the stream delivers and hands messages out in arrival order.
type messageQueue struct {
	in  chan JSONRPCMessage
	out chan JSONRPCMessage
}

func newMessageQueue() *messageQueue {
	q := &messageQueue{
		in:  make(chan JSONRPCMessage),
		out: make(chan JSONRPCMessage),
	}
	go q.run()
	return q
}

func (q *messageQueue) run() {
	var buf []JSONRPCMessage

	for {
		if len(buf) == 0 {
			msg, ok := <-q.in
			if !ok {
				close(q.out)
				return
			}
			buf = append(buf, msg)
			continue
		}

		select {
		case msg, ok := <-q.in:
			if !ok {
				// Drain what is already buffered before closing the
				// consumer side.
				for _, m := range buf {
					q.out <- m
				}
				close(q.out)
				return
			}
			buf = append(buf, msg)
		case q.out <- buf[0]:
			buf = buf[1:]
		}
	}
}

// put appends a message. Must not be called after close.
func (q *messageQueue) put(msg JSONRPCMessage) {
	q.in <- msg
}

// close stops the queue; buffered messages are still delivered, then the
// consumer channel is closed. Only the producer may call this, once.
func (q *messageQueue) close() {
	close(q.in)
}
