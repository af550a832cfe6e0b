package signal

type frame struct {
	binary bool
	data   []byte
}

// outboundQueue is the bounded per-connection send buffer. Enqueueing never
// blocks: when the queue is full the oldest buffered frame is discarded, so
// one slow consumer falls behind on its own audio instead of stalling the
// router. The receiver's jitter buffer papers over the lost frames.
type outboundQueue struct {
	frames chan frame
	onDrop func()
}

func newOutboundQueue(size int, onDrop func()) *outboundQueue {
	return &outboundQueue{
		frames: make(chan frame, size),
		onDrop: onDrop,
	}
}

func (q *outboundQueue) push(f frame) {
	select {
	case q.frames <- f:
		return
	default:
	}

	// Full: make room by discarding the oldest frame. If the writer drains
	// the queue between these selects the new frame still goes through; if
	// a racing producer wins the freed slot, this frame is the one dropped.
	select {
	case <-q.frames:
		q.drop()
	default:
	}

	select {
	case q.frames <- f:
	default:
		q.drop()
	}
}

func (q *outboundQueue) drop() {
	if q.onDrop != nil {
		q.onDrop()
	}
}
