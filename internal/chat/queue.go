package chat

import (
	"github.com/user/gravia/internal/types"
)

// PendingQueue holds sends issued while no connection is open. It is owned
// by the client's event loop and is not safe for concurrent use.
type PendingQueue struct {
	items []*types.OutboundRequest
}

// Enqueue appends req at the tail.
func (q *PendingQueue) Enqueue(req *types.OutboundRequest) {
	q.items = append(q.items, req)
}

// PushFront returns req to the head, ahead of everything still queued. It is
// used when a transmit of the head request fails.
func (q *PendingQueue) PushFront(req *types.OutboundRequest) {
	q.items = append([]*types.OutboundRequest{req}, q.items...)
}

// Pop removes and returns the head request.
func (q *PendingQueue) Pop() (*types.OutboundRequest, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	req := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return req, true
}

func (q *PendingQueue) Len() int {
	return len(q.items)
}

// Clear discards every queued request and returns how many were dropped.
func (q *PendingQueue) Clear() int {
	n := len(q.items)
	q.items = nil
	return n
}
