// Package output implements the destination table writer: one writer
// thread per output table, accepting a bounded queue of row-batches and
// flushing them through the PostgreSQL COPY wire protocol.
package output

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/wegman-software/osm2pgsql-go/internal/logger"
)

// RowBuilder accumulates columns for a single output row, mirroring a
// new_row/add_column/end_row cycle.
type RowBuilder struct {
	table *Table
	cols  []interface{}
}

// NewRow starts a fresh row for the given table.
func (t *Table) NewRow() *RowBuilder {
	return &RowBuilder{table: t, cols: make([]interface{}, 0, len(t.Columns))}
}

// AddColumn appends the next column value in declaration order.
func (r *RowBuilder) AddColumn(v interface{}) *RowBuilder {
	r.cols = append(r.cols, v)
	return r
}

// EndRow finalizes the row and enqueues it on the table's writer thread.
// It never blocks the caller on a network round trip — only on the
// bounded in-process queue.
func (r *RowBuilder) EndRow() error {
	if len(r.cols) != len(r.table.Columns) {
		return fmt.Errorf("output: row has %d columns, table %s wants %d", len(r.cols), r.table.Name, len(r.table.Columns))
	}
	return r.table.enqueue(command{kind: cmdCopy, row: r.cols})
}

// Table is one destination table's writer thread: a bounded command
// queue plus the goroutine draining it via COPY FROM STDIN.
type Table struct {
	Name    string
	Schema  string
	Columns []string

	pool    *pgxpool.Pool
	queue   chan command
	done    chan struct{}
	errc    chan error
	lastErr error
}

type commandKind int

const (
	cmdCopy commandKind = iota
	cmdSync
	cmdFinish
)

type command struct {
	kind commandKind
	row  []interface{}
	ack  chan error
}

// NewTable starts a table writer thread with the given queue depth.
// A full queue applies backpressure to producers.
func NewTable(pool *pgxpool.Pool, schema, name string, columns []string, queueDepth int) *Table {
	if queueDepth <= 0 {
		queueDepth = 10000
	}
	t := &Table{
		Name:    name,
		Schema:  schema,
		Columns: columns,
		pool:    pool,
		queue:   make(chan command, queueDepth),
		done:    make(chan struct{}),
		errc:    make(chan error, 1),
	}
	go t.run()
	return t
}

func (t *Table) enqueue(c command) error {
	select {
	case t.queue <- c:
		return nil
	case <-t.done:
		if t.lastErr != nil {
			return t.lastErr
		}
		return fmt.Errorf("output: table %s writer stopped", t.Name)
	}
}

// run drains the queue, batching consecutive Copy commands into a single
// COPY FROM STDIN call per batch and honoring Sync/Finish as ordering
// barriers.
func (t *Table) run() {
	log := logger.Get()
	defer close(t.done)

	ctx := context.Background()
	var batch []command

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		conn, err := t.pool.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("output: acquire for %s: %w", t.Name, err)
		}
		defer conn.Release()

		rows := make([][]interface{}, len(batch))
		for i, c := range batch {
			rows[i] = c.row
		}
		_, err = conn.Conn().CopyFrom(
			ctx,
			pgx.Identifier{t.Schema, t.Name},
			t.Columns,
			pgx.CopyFromRows(rows),
		)
		batch = batch[:0]
		if err != nil {
			return fmt.Errorf("output: COPY to %s.%s failed: %w", t.Schema, t.Name, err)
		}
		return nil
	}

	for c := range t.queue {
		switch c.kind {
		case cmdCopy:
			batch = append(batch, c)
			if len(batch) >= 5000 {
				if err := flush(); err != nil {
					t.fail(err, log)
					return
				}
			}
		case cmdSync:
			if err := flush(); err != nil {
				t.fail(err, log)
				return
			}
			if c.ack != nil {
				c.ack <- nil
			}
		case cmdFinish:
			if err := flush(); err != nil {
				t.fail(err, log)
				return
			}
			if c.ack != nil {
				c.ack <- nil
			}
			return
		}
	}
	_ = flush()
}

func (t *Table) fail(err error, log *zap.Logger) {
	log.Error("output writer failed", zap.String("table", t.Name), zap.Error(err))
	t.lastErr = err
	select {
	case t.errc <- err:
	default:
	}
}

// Sync blocks until every row enqueued before this call has been
// committed via COPY, giving callers a consistency point.
func (t *Table) Sync() error {
	ack := make(chan error, 1)
	if err := t.enqueue(command{kind: cmdSync, ack: ack}); err != nil {
		return err
	}
	select {
	case err := <-ack:
		return err
	case <-t.done:
		return t.lastErr
	}
}

// Finish flushes remaining rows and stops the writer thread. Calling
// EndRow after Finish returns an error.
func (t *Table) Finish() error {
	ack := make(chan error, 1)
	if err := t.enqueue(command{kind: cmdFinish, ack: ack}); err != nil {
		return err
	}
	select {
	case err := <-ack:
		return err
	case <-t.done:
		return t.lastErr
	}
}

// Err returns the first error the writer thread encountered, if any.
func (t *Table) Err() error {
	select {
	case err := <-t.errc:
		t.errc <- err
		return err
	default:
		return nil
	}
}
