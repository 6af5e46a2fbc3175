package kusto

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"sift/lib/value"
)

var (
	// ErrNoActiveSchema means a row fragment arrived before any table header.
	ErrNoActiveSchema = errors.New("row fragment before any table header")
	// ErrTruncatedStream means the frame stream ended without a completion
	// frame.
	ErrTruncatedStream = errors.New("frame stream ended without completion frame")
)

// Decoder turns the ordered frame stream into a lazy sequence of values
// extracted from one target column of kind string. It is single-pass and
// non-restartable; decode errors are sticky. Tables whose schema lacks the
// target column (or declares it with a different supported kind) emit
// nothing; non-primary whole tables are drained to keep the sequential
// stream synchronized.
type Decoder struct {
	src    FrameSource
	column string
	logger *zap.Logger

	active *Schema
	ord    int // target ordinal in active schema, -1 when not emitting

	rows    []value.Row
	rowsOrd int // ordinal the pending rows were resolved against
	rowIdx  int

	done bool
	err  error
}

// NewDecoder returns a decoder extracting `column` (case-insensitive) from
// the stream produced by src. Announced table schemas are logged at Debug;
// a nil logger silences them.
func NewDecoder(src FrameSource, column string, logger *zap.Logger) *Decoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Decoder{src: src, column: column, logger: logger, ord: -1}
}

// Next returns the next extracted value in decode order. It returns io.EOF
// on clean stream termination; any decode error ends the sequence and is
// returned again by every subsequent call.
func (d *Decoder) Next(ctx context.Context) (string, error) {
	if d.err != nil {
		return "", d.err
	}
	for {
		if d.done {
			return "", io.EOF
		}
		if err := ctx.Err(); err != nil {
			return "", d.fail(err)
		}
		for d.rowIdx < len(d.rows) {
			row := d.rows[d.rowIdx]
			d.rowIdx++
			uri, ok, err := extractAt(row, d.rowsOrd, d.column)
			if err != nil {
				return "", d.fail(err)
			}
			if ok {
				return uri, nil
			}
		}
		frame, err := d.src.Next()
		if err == io.EOF {
			return "", d.fail(ErrTruncatedStream)
		}
		if err != nil {
			return "", d.fail(err)
		}
		switch f := frame.(type) {
		case *DataSetHeader, *TableProgress, *TableCompletion:
			// recognized, nothing to extract
		case *TableHeader:
			d.logger.Debug("Table announced",
				zap.String("table", f.Name),
				zap.String("kind", f.Kind),
				zap.Strings("columns", f.Schema.Names()))
			ord, err := resolveTarget(f.Schema, d.column)
			if err != nil {
				return "", d.fail(err)
			}
			d.active = f.Schema
			d.ord = ord
		case *TableFragment:
			if d.active == nil {
				return "", d.fail(ErrNoActiveSchema)
			}
			if d.ord >= 0 {
				d.rows, d.rowsOrd, d.rowIdx = f.Rows, d.ord, 0
			}
		case *DataTable:
			d.logger.Debug("Table announced",
				zap.String("table", f.Name),
				zap.String("kind", f.Kind),
				zap.Strings("columns", f.Schema.Names()))
			if f.Kind == PrimaryResultKind {
				if err := d.consumeTable(f); err != nil {
					return "", d.fail(err)
				}
			} else if err := drainRows(f.Rows); err != nil {
				return "", d.fail(fmt.Errorf("draining %s table: %w", f.Kind, err))
			}
		case *DataSetCompletion:
			if f.HasErrors {
				return "", d.fail(errors.New("query completed with errors"))
			}
			if f.Cancelled {
				return "", d.fail(errors.New("query was cancelled by the service"))
			}
			d.done = true
		default:
			return "", d.fail(fmt.Errorf("unexpected frame %T", frame))
		}
	}
}

// consumeTable reads a primary-result table delivered as one frame. The
// reader is exhausted even when the table has nothing to emit.
func (d *Decoder) consumeTable(f *DataTable) error {
	ord, err := resolveTarget(f.Schema, d.column)
	if err != nil {
		return err
	}
	rows, err := collectRows(f.Rows)
	if err != nil {
		return err
	}
	if ord < 0 {
		return nil
	}
	d.rows, d.rowsOrd, d.rowIdx = rows, ord, 0
	return nil
}

func (d *Decoder) fail(err error) error {
	d.err = err
	return err
}

// resolveTarget resolves the target column against a schema, once per
// schema change. -1 means the schema emits nothing: the column is absent,
// or it is declared with a supported kind other than string. A target
// column declaring an unsupported type is a fatal decode error, since the
// decoder would have to interpret it.
func resolveTarget(s *Schema, column string) (int, error) {
	i, ok := s.Ordinal(column)
	if !ok {
		return -1, nil
	}
	kind, err := s.Kind(i)
	if err != nil {
		return -1, fmt.Errorf("column %s: %w", column, err)
	}
	if kind != value.Text {
		return -1, nil
	}
	return i, nil
}

func extractAt(row value.Row, ord int, column string) (string, bool, error) {
	if ord >= len(row) {
		return "", false, fmt.Errorf("row has %d cells, column %s is at %d", len(row), column, ord)
	}
	cell := row[ord]
	if cell.IsNull() {
		return "", false, nil
	}
	s, err := cell.Text()
	if err != nil {
		return "", false, fmt.Errorf("column %s: %w", column, err)
	}
	return s, true, nil
}

func drainRows(rr RowReader) error {
	for {
		if _, err := rr.Next(); err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}
	}
}

func collectRows(rr RowReader) ([]value.Row, error) {
	var rows []value.Row
	for {
		row, err := rr.Next()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
}
