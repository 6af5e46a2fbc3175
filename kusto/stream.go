package kusto

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/buger/jsonparser"

	"sift/lib/value"
)

// Frame type discriminators on the wire.
const (
	frameDataSetHeader     = "DataSetHeader"
	frameTableHeader       = "TableHeader"
	frameTableFragment     = "TableFragment"
	frameTableProgress     = "TableProgress"
	frameTableCompletion   = "TableCompletion"
	frameDataTable         = "DataTable"
	frameDataSetCompletion = "DataSetCompletion"
)

// FrameStream reads the response body of a query: one JSON array whose
// elements are frame objects. Frames are decoded one at a time as they
// arrive; the body is never buffered whole.
type FrameStream struct {
	body    io.ReadCloser
	dec     *json.Decoder
	started bool
	done    bool
}

func NewFrameStream(body io.ReadCloser) *FrameStream {
	return &FrameStream{body: body, dec: json.NewDecoder(body)}
}

func (fs *FrameStream) Next() (Frame, error) {
	if fs.done {
		return nil, io.EOF
	}
	if !fs.started {
		tok, err := fs.dec.Token()
		if err != nil {
			return nil, fmt.Errorf("reading response prologue: %w", err)
		}
		if delim, ok := tok.(json.Delim); !ok || delim != '[' {
			return nil, fmt.Errorf("response is not a frame array, starts with %v", tok)
		}
		fs.started = true
	}
	if !fs.dec.More() {
		// More is false both at the closing bracket and on a torn body;
		// only an actual `]` token is a clean end.
		if _, err := fs.dec.Token(); err != nil {
			return nil, fmt.Errorf("reading response epilogue: %w", err)
		}
		fs.done = true
		return nil, io.EOF
	}
	var raw json.RawMessage
	if err := fs.dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("reading frame: %w", err)
	}
	return parseFrame(raw)
}

// Close releases the underlying connection. Safe to call while frames are
// still pending; any subsequent Next fails.
func (fs *FrameStream) Close() error {
	return fs.body.Close()
}

func parseFrame(raw []byte) (Frame, error) {
	ft, err := jsonparser.GetString(raw, "FrameType")
	if err != nil {
		return nil, fmt.Errorf("frame has no FrameType: %w", err)
	}
	switch ft {
	case frameDataSetHeader:
		version, _ := jsonparser.GetString(raw, "Version")
		progressive, _ := jsonparser.GetBoolean(raw, "IsProgressive")
		return &DataSetHeader{Version: version, IsProgressive: progressive}, nil
	case frameTableHeader:
		cols, err := parseColumns(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ft, err)
		}
		name, _ := jsonparser.GetString(raw, "TableName")
		kind, _ := jsonparser.GetString(raw, "TableKind")
		return &TableHeader{
			TableID: tableID(raw),
			Name:    name,
			Kind:    kind,
			Schema:  NewSchema(cols),
		}, nil
	case frameTableFragment:
		rowsRaw, err := rawRows(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ft, err)
		}
		rows, err := value.RowsFromJSON(rowsRaw)
		if err != nil {
			return nil, fmt.Errorf("%s rows: %w", ft, err)
		}
		return &TableFragment{TableID: tableID(raw), Rows: rows}, nil
	case frameTableProgress:
		progress, _ := jsonparser.GetFloat(raw, "TableProgress")
		return &TableProgress{TableID: tableID(raw), Progress: progress}, nil
	case frameTableCompletion:
		count, _ := jsonparser.GetInt(raw, "RowCount")
		return &TableCompletion{TableID: tableID(raw), RowCount: int(count)}, nil
	case frameDataTable:
		cols, err := parseColumns(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ft, err)
		}
		rowsRaw, err := rawRows(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ft, err)
		}
		reader, err := newTableRows(rowsRaw)
		if err != nil {
			return nil, fmt.Errorf("%s rows: %w", ft, err)
		}
		name, _ := jsonparser.GetString(raw, "TableName")
		kind, _ := jsonparser.GetString(raw, "TableKind")
		return &DataTable{
			TableID: tableID(raw),
			Name:    name,
			Kind:    kind,
			Schema:  NewSchema(cols),
			Rows:    reader,
		}, nil
	case frameDataSetCompletion:
		hasErrors, _ := jsonparser.GetBoolean(raw, "HasErrors")
		cancelled, _ := jsonparser.GetBoolean(raw, "Cancelled")
		return &DataSetCompletion{HasErrors: hasErrors, Cancelled: cancelled}, nil
	default:
		return nil, fmt.Errorf("unrecognized frame type %q", ft)
	}
}

func tableID(raw []byte) int {
	id, _ := jsonparser.GetInt(raw, "TableId")
	return int(id)
}

func rawRows(raw []byte) ([]byte, error) {
	rowsRaw, dt, _, err := jsonparser.Get(raw, "Rows")
	if err != nil {
		return nil, fmt.Errorf("no Rows: %w", err)
	}
	if dt != jsonparser.Array {
		return nil, fmt.Errorf("Rows holds %s, not array", dt)
	}
	return rowsRaw, nil
}

func parseColumns(raw []byte) ([]Column, error) {
	var cols []Column
	var parseErr error
	_, err := jsonparser.ArrayEach(raw, func(v []byte, dt jsonparser.ValueType, _ int, err error) {
		if parseErr != nil {
			return
		}
		if err != nil {
			parseErr = err
			return
		}
		name, err := jsonparser.GetString(v, "ColumnName")
		if err != nil {
			parseErr = fmt.Errorf("column has no ColumnName: %w", err)
			return
		}
		ctype, err := jsonparser.GetString(v, "ColumnType")
		if err != nil {
			parseErr = fmt.Errorf("column %s has no ColumnType: %w", name, err)
			return
		}
		cols = append(cols, Column{Name: name, Type: ctype})
	}, "Columns")
	if err != nil {
		return nil, fmt.Errorf("no Columns: %w", err)
	}
	if parseErr != nil {
		return nil, parseErr
	}
	return cols, nil
}

// tableRows reads a DataTable's rows sequentially. Row boundaries are sliced
// up front without touching cells; each row's cells are split on Next.
type tableRows struct {
	rows [][]byte
	next int
}

func newTableRows(rowsRaw []byte) (*tableRows, error) {
	var raws [][]byte
	var parseErr error
	_, err := jsonparser.ArrayEach(rowsRaw, func(v []byte, dt jsonparser.ValueType, _ int, err error) {
		if parseErr != nil {
			return
		}
		if err != nil {
			parseErr = err
			return
		}
		if dt != jsonparser.Array {
			parseErr = fmt.Errorf("row holds %s, not array", dt)
			return
		}
		raws = append(raws, v)
	})
	if err != nil {
		return nil, err
	}
	if parseErr != nil {
		return nil, parseErr
	}
	return &tableRows{rows: raws}, nil
}

func (t *tableRows) Next() (value.Row, error) {
	if t.next >= len(t.rows) {
		return nil, io.EOF
	}
	row, err := value.RowFromJSON(t.rows[t.next])
	if err != nil {
		return nil, err
	}
	t.next++
	return row, nil
}
