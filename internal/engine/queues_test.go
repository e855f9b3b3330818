package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueuePriorityAndStandardThenFlush(t *testing.T) {
	q := NewSendQueues()
	q.EnqueuePriority([]byte{0x01})
	q.EnqueueStandard([]byte{0x02}, PendingRequest{MSID: "foo"})

	require.Len(t, q.Priority, 1)
	require.Len(t, q.Standard, 1)
	require.Len(t, q.QueueToSend, 1)

	q.ClearPriority()
	assert.Empty(t, q.Priority)
}

func TestCommitSentMovesQueueToSendIntoQueueSent(t *testing.T) {
	q := NewSendQueues()
	q.EnqueueStandard([]byte{0x01}, PendingRequest{MSID: "a"})
	q.EnqueueStandard([]byte{0x02}, PendingRequest{MSID: "b"})

	now := time.Now()
	q.CommitSent(now)

	assert.Empty(t, q.QueueToSend)
	require.Len(t, q.QueueSent, 2)
	assert.Equal(t, "a", q.QueueSent[0].MSID)
	assert.Equal(t, now, q.QueueSent[0].SentAt)
}

func TestExpireOlderThanRemovesStaleEntriesOnly(t *testing.T) {
	q := NewSendQueues()
	base := time.Now()
	q.QueueSent = []PendingRequest{
		{MSID: "old", SentAt: base.Add(-10 * time.Second)},
		{MSID: "fresh", SentAt: base.Add(-1 * time.Second)},
	}

	n := q.ExpireOlderThan(base, 5*time.Second)

	assert.Equal(t, 1, n)
	require.Len(t, q.QueueSent, 1)
	assert.Equal(t, "fresh", q.QueueSent[0].MSID)
}

func TestMatchAndRemoveFIFOOldestFirst(t *testing.T) {
	q := NewSendQueues()
	tuple := MatchTuple{MID: 0x10, MsgType: 0x01, InitByReader: 0x00}
	q.QueueSent = []PendingRequest{
		{MSID: "first", RcvMatch: tuple, SentAt: time.Unix(100, 0)},
		{MSID: "second", RcvMatch: tuple, SentAt: time.Unix(200, 0)},
	}

	got, ok := q.MatchAndRemove(tuple)
	require.True(t, ok)
	assert.Equal(t, "first", got.MSID)
	require.Len(t, q.QueueSent, 1)
	assert.Equal(t, "second", q.QueueSent[0].MSID)
}

func TestMatchAndRemoveNoMatchReturnsFalse(t *testing.T) {
	q := NewSendQueues()
	q.QueueSent = []PendingRequest{
		{MSID: "x", RcvMatch: MatchTuple{MID: 0x01}},
	}

	_, ok := q.MatchAndRemove(MatchTuple{MID: 0x02})
	assert.False(t, ok)
	assert.Len(t, q.QueueSent, 1)
}

func TestSortDecodedByRecvTimeOrdersAscending(t *testing.T) {
	base := time.Now()
	frames := []DecodedFrame{
		{RecvTime: base.Add(2 * time.Second)},
		{RecvTime: base},
		{RecvTime: base.Add(1 * time.Second)},
	}

	SortDecodedByRecvTime(frames)

	assert.True(t, frames[0].RecvTime.Before(frames[1].RecvTime))
	assert.True(t, frames[1].RecvTime.Before(frames[2].RecvTime))
}

func TestSortCLURequestsByTimestampOrdersAscending(t *testing.T) {
	reqs := []CLURequest{
		{MSID: "c", RecvdAt: 300},
		{MSID: "a", RecvdAt: 100},
		{MSID: "b", RecvdAt: 200},
	}

	SortCLURequestsByTimestamp(reqs)

	assert.Equal(t, "a", reqs[0].MSID)
	assert.Equal(t, "b", reqs[1].MSID)
	assert.Equal(t, "c", reqs[2].MSID)
}
