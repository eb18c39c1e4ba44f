package eventlog_test

import (
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skycoin/skyevent/pkg/eventlog"
	"github.com/skycoin/skyevent/pkg/netevent"
)

func testLogStore(t *testing.T, logStore eventlog.LogStore) {
	t.Helper()

	opened := time.Now().Add(-time.Minute)

	id1 := uuid.New()
	entry1 := &eventlog.LogEntry{
		Remote: "127.0.0.1:1000",
		Role:   "host",
		Opened: opened,
		Closed: opened.Add(time.Second),
		Stats:  netevent.Stats{Posted: 3, Sent: 4, Retransmitted: 1, Acked: 3},
	}

	id2 := uuid.New()
	entry2 := &eventlog.LogEntry{
		Remote:   "127.0.0.1:2000",
		Role:     "peer",
		Classes:  5,
		Opened:   opened,
		Closed:   opened.Add(time.Second),
		Reason:   "bad packet: protocol violation",
		Violated: true,
		Stats:    netevent.Stats{Dispatched: 7, Duplicates: 2},
	}

	require.NoError(t, logStore.Record(id1, entry1))
	require.NoError(t, logStore.Record(id2, entry2))

	entry, err := logStore.Entry(id2)
	require.NoError(t, err)
	assert.Equal(t, entry2.Remote, entry.Remote)
	assert.Equal(t, entry2.Role, entry.Role)
	assert.Equal(t, entry2.Classes, entry.Classes)
	assert.Equal(t, entry2.Reason, entry.Reason)
	assert.True(t, entry.Violated)
	assert.Equal(t, entry2.Stats, entry.Stats)
	assert.Equal(t, entry2.Opened.Unix(), entry.Opened.Unix())

	entry, err = logStore.Entry(id1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), entry.Stats.Retransmitted)

	// Recording again replaces the entry.
	entry1.Stats.Acked = 4
	require.NoError(t, logStore.Record(id1, entry1))
	entry, err = logStore.Entry(id1)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), entry.Stats.Acked)

	_, err = logStore.Entry(uuid.New())
	assert.Equal(t, eventlog.ErrNotFound, errors.Cause(err))
}

func TestInMemoryLogStore(t *testing.T) {
	testLogStore(t, eventlog.InMemoryLogStore())
}

func TestFileLogStore(t *testing.T) {
	dir, err := ioutil.TempDir("", "log_store")
	require.NoError(t, err)
	defer func() {
		require.NoError(t, os.RemoveAll(dir))
	}()

	ls, err := eventlog.FileLogStore(filepath.Join(dir, "entries"))
	require.NoError(t, err)
	testLogStore(t, ls)
}

func TestBoltDBLogStore(t *testing.T) {
	dir, err := ioutil.TempDir("", "log_store")
	require.NoError(t, err)
	defer func() {
		require.NoError(t, os.RemoveAll(dir))
	}()

	ls, err := eventlog.BoltDBLogStore(filepath.Join(dir, "eventlog.db"))
	require.NoError(t, err)
	testLogStore(t, ls)
	require.NoError(t, ls.(io.Closer).Close())
}

func TestNewLogEntry(t *testing.T) {
	reg, err := netevent.NewRegistry([]netevent.Class{{
		Name: "noop",
		New:  func() netevent.Event { return nil },
	}}, nil)
	require.NoError(t, err)

	c, err := netevent.NewConn(netevent.Config{Role: netevent.RolePeer, Registry: reg})
	require.NoError(t, err)
	require.NoError(t, c.ConfirmClassCount(1))
	c.Close(errors.Wrap(netevent.ErrProtocolViolation, "test"))

	opened := time.Now().Add(-time.Second)
	e := eventlog.NewLogEntry(c, "127.0.0.1:3000", opened)
	assert.Equal(t, "peer", e.Role)
	assert.Equal(t, uint32(1), e.Classes)
	assert.True(t, e.Violated)
	assert.Equal(t, "test: protocol violation", e.Reason)
	assert.True(t, e.Closed.After(opened))
}
