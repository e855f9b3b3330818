package fme

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsBadOwnID(t *testing.T) {
	_, err := New("", t.TempDir(), []string{"CLU"})
	assert.Error(t, err)

	_, err = New("read[1]", t.TempDir(), []string{"CLU"})
	assert.Error(t, err)
}

func TestNewRejectsEmptyMessageTypes(t *testing.T) {
	_, err := New("reader1", t.TempDir(), nil)
	assert.Error(t, err)
}

func TestSendThenRecvRoundTrip(t *testing.T) {
	dir := t.TempDir()
	sender, err := New("engine", dir, []string{"CLU"})
	require.NoError(t, err)
	receiver, err := New("worker", dir, []string{"CLU"})
	require.NoError(t, err)

	payload := map[string]interface{}{"epc": "E2001234"}
	require.NoError(t, sender.Send("worker", "CLU", payload))

	n, err := receiver.Recv("engine", "CLU", false, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	msgs := receiver.GetAll()
	require.Len(t, msgs, 1)
	assert.Equal(t, "engine", msgs[0].From)
}

func TestRecvIgnoresMessagesAddressedToSomeoneElse(t *testing.T) {
	dir := t.TempDir()
	sender, err := New("engine", dir, []string{"CLU"})
	require.NoError(t, err)
	receiver, err := New("worker", dir, []string{"CLU"})
	require.NoError(t, err)

	require.NoError(t, sender.Send("someoneelse", "CLU", map[string]int{"x": 1}))

	n, err := receiver.Recv("engine", "CLU", false, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRecvWildcardFromAcceptsAnySender(t *testing.T) {
	dir := t.TempDir()
	senderA, err := New("a", dir, []string{"CLU"})
	require.NoError(t, err)
	senderB, err := New("b", dir, []string{"CLU"})
	require.NoError(t, err)
	receiver, err := New("worker", dir, []string{"CLU"})
	require.NoError(t, err)

	require.NoError(t, senderA.Send("worker", "CLU", map[string]int{"x": 1}))
	require.NoError(t, senderB.Send("worker", "CLU", map[string]int{"x": 2}))

	n, err := receiver.Recv("*", "CLU", false, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRecvRejectsWrongMessageType(t *testing.T) {
	dir := t.TempDir()
	sender, err := New("engine", dir, []string{"CLU", "STS"})
	require.NoError(t, err)
	receiver, err := New("worker", dir, []string{"CLU", "STS"})
	require.NoError(t, err)

	require.NoError(t, sender.Send("worker", "CLU", map[string]int{"x": 1}))

	n, err := receiver.Recv("engine", "STS", false, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRecvTypeNotInAllowListErrors(t *testing.T) {
	dir := t.TempDir()
	receiver, err := New("worker", dir, []string{"CLU"})
	require.NoError(t, err)

	_, err = receiver.Recv("*", "STS", false, nil)
	assert.Error(t, err)
}

func TestEraseAfterReadRemovesFile(t *testing.T) {
	dir := t.TempDir()
	sender, err := New("engine", dir, []string{"CLU"})
	require.NoError(t, err)
	receiver, err := New("worker", dir, []string{"CLU"})
	require.NoError(t, err)

	require.NoError(t, sender.Send("worker", "CLU", map[string]int{"x": 1}))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	n, err := receiver.Recv("engine", "CLU", true, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	entries, err = os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMalformedFilenameIsIgnored(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "not-an-fme-file.json"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Rabc.json"), []byte("{}"), 0o644))

	receiver, err := New("worker", dir, []string{"CLU"})
	require.NoError(t, err)
	n, err := receiver.Recv("*", "CLU", false, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestTamperedPayloadIsRejectedButStillErasable(t *testing.T) {
	dir := t.TempDir()
	sender, err := New("engine", dir, []string{"CLU"})
	require.NoError(t, err)
	receiver, err := New("worker", dir, []string{"CLU"})
	require.NoError(t, err)

	require.NoError(t, sender.Send("worker", "CLU", map[string]int{"x": 1}))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	path := filepath.Join(dir, entries[0].Name())
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"CLU","data":{"x":999},"md5":"deadbeef"}`), 0o644))

	n, err := receiver.Recv("engine", "CLU", true, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	remaining, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestCutoffTimeDropsOldMessagesFromResult(t *testing.T) {
	dir := t.TempDir()
	sender, err := New("engine", dir, []string{"CLU"})
	require.NoError(t, err)
	receiver, err := New("worker", dir, []string{"CLU"})
	require.NoError(t, err)

	require.NoError(t, sender.Send("worker", "CLU", map[string]int{"x": 1}))

	future := float64(1 << 40)
	n, err := receiver.Recv("engine", "CLU", false, &future)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestGetOldPopsMessageThenReportsEmpty(t *testing.T) {
	dir := t.TempDir()
	sender, err := New("engine", dir, []string{"CLU"})
	require.NoError(t, err)
	receiver, err := New("worker", dir, []string{"CLU"})
	require.NoError(t, err)

	require.NoError(t, sender.Send("worker", "CLU", map[string]int{"x": 1}))
	_, err = receiver.Recv("engine", "CLU", true, nil)
	require.NoError(t, err)

	msg, ok := receiver.GetOld()
	require.True(t, ok)
	assert.Equal(t, "engine", msg.From)

	_, ok = receiver.GetOld()
	assert.False(t, ok)
}

func TestSendStaticRequiresMinimumNameLength(t *testing.T) {
	sender, err := New("engine", t.TempDir(), []string{"STS"})
	require.NoError(t, err)
	err = sender.SendStatic("STS", map[string]int{"x": 1}, "ab")
	assert.Error(t, err)
}

func TestSendStaticThenRecvStaticRoundTrip(t *testing.T) {
	dir := t.TempDir()
	sender, err := New("engine", dir, []string{"STS"})
	require.NoError(t, err)
	receiver, err := New("worker", dir, []string{"STS"})
	require.NoError(t, err)

	require.NoError(t, sender.SendStatic("STS", map[string]string{"state": "running"}, "status.json"))

	n, err := receiver.RecvStatic("STS", "status.json", false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRecvStaticMissingFileIsNotAnError(t *testing.T) {
	receiver, err := New("worker", t.TempDir(), []string{"STS"})
	require.NoError(t, err)
	n, err := receiver.RecvStatic("STS", "missing.json", false)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestClearAllDiscardsBufferedMessages(t *testing.T) {
	dir := t.TempDir()
	sender, err := New("engine", dir, []string{"CLU"})
	require.NoError(t, err)
	receiver, err := New("worker", dir, []string{"CLU"})
	require.NoError(t, err)

	require.NoError(t, sender.Send("worker", "CLU", map[string]int{"x": 1}))
	_, err = receiver.Recv("engine", "CLU", true, nil)
	require.NoError(t, err)

	receiver.ClearAll()
	assert.Empty(t, receiver.GetAll())
}
