// Package kusto consumes progressive tabular query responses: an ordered
// stream of self-describing frames (schema announcements, row fragments,
// whole tables, completion) that is decoded incrementally, without ever
// materializing the full result.
package kusto

import (
	"sift/lib/value"
)

// Frame is one element of the progressive response stream. The variant set
// is closed.
type Frame interface {
	isFrame()
}

// FrameSource produces frames in wire order. Next returns io.EOF once the
// physical stream is exhausted.
type FrameSource interface {
	Next() (Frame, error)
}

// RowReader walks a DataTable's rows strictly in order. Next returns io.EOF
// past the last row. The underlying stream is sequential: a reader must be
// exhausted before the stream can move to the frame behind it.
type RowReader interface {
	Next() (value.Row, error)
}

// DataSetHeader opens the stream.
type DataSetHeader struct {
	Version       string
	IsProgressive bool
}

// TableHeader announces the schema of a logical table whose rows follow as
// fragments. It supersedes any previously announced schema.
type TableHeader struct {
	TableID int
	Name    string
	Kind    string
	Schema  *Schema
}

// TableFragment carries positional rows for the most recently announced
// table.
type TableFragment struct {
	TableID int
	Rows    []value.Row
}

// TableProgress reports fractional progress of a fragmented table.
type TableProgress struct {
	TableID  int
	Progress float64
}

// TableCompletion closes a fragmented table.
type TableCompletion struct {
	TableID  int
	RowCount int
}

// DataTable is a complete table delivered as a single frame, with its own
// schema and a sequential reader over its rows.
type DataTable struct {
	TableID int
	Name    string
	Kind    string
	Schema  *Schema
	Rows    RowReader
}

// DataSetCompletion ends the stream.
type DataSetCompletion struct {
	HasErrors bool
	Cancelled bool
}

func (*DataSetHeader) isFrame()     {}
func (*TableHeader) isFrame()       {}
func (*TableFragment) isFrame()     {}
func (*TableProgress) isFrame()     {}
func (*TableCompletion) isFrame()   {}
func (*DataTable) isFrame()         {}
func (*DataSetCompletion) isFrame() {}

// PrimaryResultKind is the table kind holding query results. A DataTable of
// this kind is consumed; DataTables of any other kind are drained.
const PrimaryResultKind = "PrimaryResult"
