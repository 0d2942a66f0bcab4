package postgres

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Fake driver infrastructure (per-test isolation)
// ---------------------------------------------------------------------------

var fakeDriverSeq atomic.Int64

type fakeQueryHandler func(query string, args []driver.Value) (driver.Rows, error)
type fakeExecHandler func(query string, args []driver.Value) (driver.Result, error)

type recordedCall struct {
	query string
	args  []driver.Value
}

type fakeDriver struct{ conn *fakeConn }

type fakeConn struct {
	queryHandler fakeQueryHandler
	execHandler  fakeExecHandler

	mu    sync.Mutex
	calls []recordedCall

	commits   atomic.Int32
	rollbacks atomic.Int32
}

type fakeTx struct{ conn *fakeConn }

func (d *fakeDriver) Open(string) (driver.Conn, error) { return d.conn, nil }
func (c *fakeConn) Prepare(query string) (driver.Stmt, error) {
	return &fakeStmt{conn: c, query: query}, nil
}
func (c *fakeConn) Close() error              { return nil }
func (c *fakeConn) Begin() (driver.Tx, error) { return &fakeTx{conn: c}, nil }

func (tx *fakeTx) Commit() error {
	tx.conn.commits.Add(1)
	return nil
}

func (tx *fakeTx) Rollback() error {
	tx.conn.rollbacks.Add(1)
	return nil
}

func (c *fakeConn) record(query string, args []driver.Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, recordedCall{query: query, args: append([]driver.Value(nil), args...)})
}

func (c *fakeConn) recorded() []recordedCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]recordedCall(nil), c.calls...)
}

type fakeStmt struct {
	conn  *fakeConn
	query string
}

func (s *fakeStmt) Close() error  { return nil }
func (s *fakeStmt) NumInput() int { return -1 }
func (s *fakeStmt) Exec(args []driver.Value) (driver.Result, error) {
	s.conn.record(s.query, args)
	if s.conn.execHandler != nil {
		return s.conn.execHandler(s.query, args)
	}
	return driver.RowsAffected(0), nil
}
func (s *fakeStmt) Query(args []driver.Value) (driver.Rows, error) {
	s.conn.record(s.query, args)
	if s.conn.queryHandler != nil {
		return s.conn.queryHandler(s.query, args)
	}
	return &fakeRows{}, nil
}

type fakeRows struct {
	columns []string
	data    [][]driver.Value
	idx     int
}

func (r *fakeRows) Columns() []string { return r.columns }
func (r *fakeRows) Close() error      { return nil }
func (r *fakeRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.data) {
		return io.EOF
	}
	copy(dest, r.data[r.idx])
	r.idx++
	return nil
}

func openFakeDB(t *testing.T, query fakeQueryHandler, exec fakeExecHandler) (*DB, *fakeConn) {
	t.Helper()
	name := fmt.Sprintf("fake_pg_%d", fakeDriverSeq.Add(1))
	conn := &fakeConn{queryHandler: query, execHandler: exec}
	sql.Register(name, &fakeDriver{conn: conn})
	db, err := sql.Open(name, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &DB{db}, conn
}
