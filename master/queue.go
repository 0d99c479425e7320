// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package master

// requestQueue is the FIFO of requests waiting for the bus. It is not safe
// for concurrent use; the master guards it with its own mutex.
type requestQueue struct {
	items []*Request
}

func newRequestQueue(prealloc int) *requestQueue {
	return &requestQueue{items: make([]*Request, 0, prealloc)}
}

// Enqueue adds a request to the tail of the queue.
func (q *requestQueue) Enqueue(req *Request) {
	q.items = append(q.items, req)
}

// Dequeue removes and returns the request at the head of the queue.
func (q *requestQueue) Dequeue() *Request {
	if len(q.items) == 0 {
		return nil
	}
	req := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return req
}

// Peek returns the request at the head of the queue without removing it.
func (q *requestQueue) Peek() *Request {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

// Reset empties the queue.
func (q *requestQueue) Reset() {
	clear(q.items)
	q.items = q.items[:0]
}

func (q *requestQueue) IsEmpty() bool {
	return len(q.items) == 0
}

func (q *requestQueue) Length() int {
	return len(q.items)
}
