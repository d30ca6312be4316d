package partition

import (
	"github.com/dataflowlab/shuffle/pkg/buffer"
)

// bufferQueue is the ordered in-memory buffer sequence of a partition
// plus its running counters: total buffers and bytes ever added, and the
// backlog of unconsumed data buffers.
//
// The queue is not safe for concurrent use on its own. The owning
// partition guards every access with its queue lock, which also covers
// the spill-writer presence check so that the "memory or disk" routing
// decision is atomic.
type bufferQueue struct {
	bufs []*buffer.Buffer

	totalBuffers int64
	totalBytes   int64
	backlog      int
}

// add appends a buffer to the queue and records it in the totals.
func (q *bufferQueue) add(b *buffer.Buffer) {
	q.bufs = append(q.bufs, b)
	q.recordStatistics(b)
}

// recordStatistics counts a buffer in the running totals. Used directly
// for buffers routed to disk, which never enter the queue.
func (q *bufferQueue) recordStatistics(b *buffer.Buffer) {
	q.totalBuffers++
	q.totalBytes += int64(b.Size())
}

// increaseBacklog counts a data buffer into the backlog. Control events
// are not part of the flow-control signal.
func (q *bufferQueue) increaseBacklog(b *buffer.Buffer) {
	if b != nil && b.IsData() {
		q.backlog++
	}
}

// decreaseBacklog removes a data buffer from the backlog and returns the
// remaining backlog for the consumer's flow-control signal.
func (q *bufferQueue) decreaseBacklog(b *buffer.Buffer) int {
	if b != nil && b.IsData() && q.backlog > 0 {
		q.backlog--
	}
	return q.backlog
}

// pollFirst removes and returns the oldest queued buffer, or nil when the
// queue is empty.
func (q *bufferQueue) pollFirst() *buffer.Buffer {
	if len(q.bufs) == 0 {
		return nil
	}
	b := q.bufs[0]
	q.bufs[0] = nil
	q.bufs = q.bufs[1:]
	return b
}

// len returns the number of queued buffers.
func (q *bufferQueue) len() int {
	return len(q.bufs)
}

// clear drops all queued buffers. Recycling them is the caller's job.
func (q *bufferQueue) clear() {
	for i := range q.bufs {
		q.bufs[i] = nil
	}
	q.bufs = q.bufs[:0]
}
