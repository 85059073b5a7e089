package utils

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// recordingDriver is a database/sql driver that only tracks transaction outcomes.
type recordingDriver struct {
	mu        sync.Mutex
	commits   int
	rollbacks int
	commitErr error
}

func (d *recordingDriver) Open(string) (driver.Conn, error) { return &recordingConn{d: d}, nil }

func (d *recordingDriver) counts() (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.commits, d.rollbacks
}

type recordingConn struct{ d *recordingDriver }

func (c *recordingConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("not supported")
}
func (c *recordingConn) Close() error              { return nil }
func (c *recordingConn) Begin() (driver.Tx, error) { return &recordingTx{d: c.d}, nil }

type recordingTx struct{ d *recordingDriver }

func (t *recordingTx) Commit() error {
	t.d.mu.Lock()
	defer t.d.mu.Unlock()
	t.d.commits++
	return t.d.commitErr
}

func (t *recordingTx) Rollback() error {
	t.d.mu.Lock()
	defer t.d.mu.Unlock()
	t.d.rollbacks++
	return nil
}

var driverSeq atomic.Int64

func openRecording(t *testing.T) (*sql.DB, *recordingDriver) {
	t.Helper()
	d := &recordingDriver{}
	name := fmt.Sprintf("recording-%d", driverSeq.Add(1))
	sql.Register(name, d)

	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, d
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	db, d := openRecording(t)
	if err := WithTx(context.Background(), db, nil, func(context.Context, *sql.Tx) error { return nil }); err != nil {
		t.Fatalf("with tx: %v", err)
	}
	if c, r := d.counts(); c != 1 || r != 0 {
		t.Fatalf("commits=%d rollbacks=%d, want 1/0", c, r)
	}
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	db, d := openRecording(t)
	boom := errors.New("boom")
	err := WithTx(context.Background(), db, nil, func(context.Context, *sql.Tx) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	if c, r := d.counts(); c != 0 || r != 1 {
		t.Fatalf("commits=%d rollbacks=%d, want 0/1", c, r)
	}
}

func TestWithTx_RollsBackAndRepanics(t *testing.T) {
	db, d := openRecording(t)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic to propagate")
		}
		if c, r := d.counts(); c != 0 || r != 1 {
			t.Fatalf("commits=%d rollbacks=%d, want 0/1", c, r)
		}
	}()
	_ = WithTx(context.Background(), db, nil, func(context.Context, *sql.Tx) error { panic("bad") })
}

func TestWithTx_CommitError(t *testing.T) {
	db, d := openRecording(t)
	d.commitErr = errors.New("serialization failure")
	err := WithTx(context.Background(), db, nil, func(context.Context, *sql.Tx) error { return nil })
	if !errors.Is(err, d.commitErr) {
		t.Fatalf("expected commit error, got %v", err)
	}
}

func TestPostgresPoolDefaults(t *testing.T) {
	got := PostgresPoolConfig{MaxOpenConns: 4, MaxIdleConns: 9}.withDefaults()
	if got.MaxOpenConns != 4 || got.MaxIdleConns != 4 {
		t.Fatalf("idle conns should be capped at open conns: %+v", got)
	}
	if got.PingTimeout != 5*time.Second || got.ConnMaxLifetime != 30*time.Minute {
		t.Fatalf("unexpected defaults: %+v", got)
	}
}
