package tmc

import (
	"bytes"
	"sync"

	"github.com/ardnew/microscpi/pkg"
)

// Response is captured engine output waiting for a REQUEST_DEV_DEP_MSG_IN.
// Tag is the bulk-OUT tag that produced it.
type Response struct {
	Tag  uint8
	Data []byte
}

// ResponseQueue is a bounded FIFO of responses. Requests always receive
// the oldest response regardless of tag.
type ResponseQueue struct {
	mutex sync.Mutex
	items []Response
	head  int
	count int
}

// NewResponseQueue returns a queue holding at most capacity responses.
func NewResponseQueue(capacity int) *ResponseQueue {
	if capacity <= 0 {
		capacity = DefaultResponseQueueSize
	}
	return &ResponseQueue{items: make([]Response, capacity)}
}

// Enqueue appends r. It returns [pkg.ErrNoResources] when the queue is full.
func (q *ResponseQueue) Enqueue(r Response) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if q.count == len(q.items) {
		return pkg.ErrNoResources
	}
	q.items[(q.head+q.count)%len(q.items)] = r
	q.count++
	return nil
}

// Dequeue removes and returns the oldest response.
func (q *ResponseQueue) Dequeue() (Response, bool) {
	r, _, ok := q.Take(0, -1)
	return r, ok
}

// Take removes up to limit bytes from the oldest response, stopping just
// after the first term byte when term is not negative. A limit of zero
// means no limit. Whatever is left of the response stays at the head of
// the queue for the next request; remaining reports its length.
func (q *ResponseQueue) Take(limit, term int) (r Response, remaining int, ok bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if q.count == 0 {
		return Response{}, 0, false
	}
	head := &q.items[q.head]
	n := len(head.Data)
	if limit > 0 && n > limit {
		n = limit
	}
	if term >= 0 {
		if i := bytes.IndexByte(head.Data[:n], byte(term)); i >= 0 {
			n = i + 1
		}
	}
	if n < len(head.Data) {
		r = Response{Tag: head.Tag, Data: head.Data[:n:n]}
		head.Data = head.Data[n:]
		return r, len(head.Data), true
	}
	r = *head
	*head = Response{}
	q.head = (q.head + 1) % len(q.items)
	q.count--
	return r, 0, true
}

// PendingBytes returns the size of the oldest response, or -1 when empty.
func (q *ResponseQueue) PendingBytes() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if q.count == 0 {
		return -1
	}
	return len(q.items[q.head].Data)
}

// Len returns the number of queued responses.
func (q *ResponseQueue) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return q.count
}

// Cap returns the queue capacity.
func (q *ResponseQueue) Cap() int {
	return len(q.items)
}

// Clear discards every queued response.
func (q *ResponseQueue) Clear() {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	clear(q.items)
	q.head, q.count = 0, 0
}
