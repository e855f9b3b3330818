package engine

import (
	"sort"
	"time"

	"github.com/samthesuperhero/clourfid/internal/protocol"
)

// MatchTuple identifies a frame by (mid, msgType, initByReader) — the
// rcv-side key used to pair an inbound frame with the request that is
// waiting for it (SPEC_FULL.md §4.7 step 8).
type MatchTuple struct {
	MID          byte
	MsgType      byte
	InitByReader byte
}

// PendingRequest is one in-flight request awaiting a matching reply.
type PendingRequest struct {
	WebReqID   string
	FromWorker string
	MSID       string
	RcvMatch   MatchTuple
	SentAt     time.Time
}

// SendQueues holds the priority/standard outgoing frame buffers and
// the pending-request bookkeeping used for FIFO reply matching.
type SendQueues struct {
	Priority [][]byte
	Standard [][]byte

	QueueToSend []PendingRequest // staged this iteration, not yet flushed
	QueueSent   []PendingRequest // flushed to the wire, awaiting a reply
}

// NewSendQueues creates an empty set of queues.
func NewSendQueues() *SendQueues { return &SendQueues{} }

// EnqueuePriority appends a fully-encoded frame to the priority
// buffer (auto-replies, per step 3).
func (q *SendQueues) EnqueuePriority(frame []byte) { q.Priority = append(q.Priority, frame) }

// EnqueueStandard appends a fully-encoded frame to the standard
// buffer along with the pending-request record tracking its reply.
func (q *SendQueues) EnqueueStandard(frame []byte, pending PendingRequest) {
	q.Standard = append(q.Standard, frame)
	q.QueueToSend = append(q.QueueToSend, pending)
}

// ClearPriority empties the priority buffer after a successful flush.
func (q *SendQueues) ClearPriority() { q.Priority = nil }

// CommitSent moves every staged pending request into QueueSent,
// stamping sentAt, after a successful flush of the standard buffer.
func (q *SendQueues) CommitSent(sentAt time.Time) {
	for i := range q.QueueToSend {
		q.QueueToSend[i].SentAt = sentAt
		q.QueueSent = append(q.QueueSent, q.QueueToSend[i])
	}
	q.QueueToSend = nil
	q.Standard = nil
}

// ExpireOlderThan drops entries from QueueSent whose age exceeds ttl
// (step 7: fire-and-forget expiry, no reply synthesized).
func (q *SendQueues) ExpireOlderThan(now time.Time, ttl time.Duration) int {
	kept := q.QueueSent[:0]
	expired := 0
	for _, p := range q.QueueSent {
		if now.Sub(p.SentAt) > ttl {
			expired++
			continue
		}
		kept = append(kept, p)
	}
	q.QueueSent = kept
	return expired
}

// MatchAndRemove scans QueueSent oldest-first for the first entry
// whose RcvMatch equals tuple, removes it, and returns it. Ties
// between requests sharing a tuple resolve to send order since
// QueueSent is itself maintained in send order.
func (q *SendQueues) MatchAndRemove(tuple MatchTuple) (PendingRequest, bool) {
	for i, p := range q.QueueSent {
		if p.RcvMatch == tuple {
			q.QueueSent = append(q.QueueSent[:i:i], q.QueueSent[i+1:]...)
			return p, true
		}
	}
	return PendingRequest{}, false
}

// DecodedFrame pairs a decode result with its frame and arrival time,
// the unit the reply-matching pass operates on.
type DecodedFrame struct {
	Result   int
	Frame    protocol.Frame
	RecvTime time.Time
}

// SortDecodedByRecvTime reorders decoded frames by arrival time,
// oldest first, ahead of the reply-matching pass (step 8).
func SortDecodedByRecvTime(frames []DecodedFrame) {
	sort.SliceStable(frames, func(i, j int) bool { return frames[i].RecvTime.Before(frames[j].RecvTime) })
}

// CLURequest is one inbound worker command awaiting pack-and-send,
// ordered by its FME-embedded timestamp rather than scan order (step
// 5, and the ordering guarantee in §5).
type CLURequest struct {
	WebReqID    string
	FromWorker  string
	MSID        string
	Params      map[string]interface{}
	RecvdAt     float64 // FME filename timestamp, seconds since epoch
}

// SortCLURequestsByTimestamp orders requests FIFO across workers by
// their embedded FME timestamp.
func SortCLURequestsByTimestamp(reqs []CLURequest) {
	sort.SliceStable(reqs, func(i, j int) bool { return reqs[i].RecvdAt < reqs[j].RecvdAt })
}
