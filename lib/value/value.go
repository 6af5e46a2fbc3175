package value

import (
	"fmt"
	"time"

	"github.com/buger/jsonparser"
)

// Kind is the in-memory kind a declared column type maps to. The set is
// closed: a declared type outside the supported names has no Kind.
type Kind uint8

const (
	Int64     Kind = 1
	Int32     Kind = 2
	Timestamp Kind = 3
	Text      Kind = 4
)

func (k Kind) String() string {
	switch k {
	case Int64:
		return "Int64"
	case Int32:
		return "Int32"
	case Timestamp:
		return "Timestamp"
	case Text:
		return "Text"
	default:
		return "Unknown"
	}
}

// UnsupportedTypeError is returned when a consumed column declares a type
// outside the supported set.
type UnsupportedTypeError struct {
	Declared string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported declared column type %q", e.Declared)
}

// KindOf maps a declared column type name to its Kind. The mapping is total
// only over {"long", "int", "datetime", "string"}.
func KindOf(declared string) (Kind, error) {
	switch declared {
	case "long":
		return Int64, nil
	case "int":
		return Int32, nil
	case "datetime":
		return Timestamp, nil
	case "string":
		return Text, nil
	default:
		return 0, &UnsupportedTypeError{Declared: declared}
	}
}

// Cell is one positional value of a row. The raw JSON bytes are kept
// uninterpreted until an accessor is called, so unread columns never pay
// for type conversion.
type Cell struct {
	raw []byte
	jt  jsonparser.ValueType
}

func NewCell(raw []byte, jt jsonparser.ValueType) Cell {
	return Cell{raw: raw, jt: jt}
}

func (c Cell) IsNull() bool {
	return c.jt == jsonparser.Null || c.jt == jsonparser.NotExist
}

func (c Cell) Text() (string, error) {
	if c.jt != jsonparser.String {
		return "", fmt.Errorf("cell holds %s, not string", c.jt)
	}
	return jsonparser.ParseString(c.raw)
}

func (c Cell) Int64() (int64, error) {
	if c.jt != jsonparser.Number {
		return 0, fmt.Errorf("cell holds %s, not number", c.jt)
	}
	return jsonparser.ParseInt(c.raw)
}

func (c Cell) Int32() (int32, error) {
	v, err := c.Int64()
	if err != nil {
		return 0, err
	}
	if v > 1<<31-1 || v < -(1<<31) {
		return 0, fmt.Errorf("value %d overflows int32", v)
	}
	return int32(v), nil
}

// Time parses a datetime cell. The service emits RFC3339 with nanosecond
// precision.
func (c Cell) Time() (time.Time, error) {
	s, err := c.Text()
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, s)
}

// Row is an ordered sequence of cells positioned per the announcing schema.
type Row []Cell

// RowFromJSON slices one JSON row array into lazy cells. Cell bytes alias
// the input buffer; no value is converted.
func RowFromJSON(raw []byte) (Row, error) {
	var row Row
	var parseErr error
	_, err := jsonparser.ArrayEach(raw, func(v []byte, dt jsonparser.ValueType, _ int, err error) {
		if parseErr != nil {
			return
		}
		if err != nil {
			parseErr = err
			return
		}
		row = append(row, Cell{raw: v, jt: dt})
	})
	if err != nil {
		return nil, err
	}
	if parseErr != nil {
		return nil, parseErr
	}
	return row, nil
}

// RowsFromJSON slices a JSON array of row arrays.
func RowsFromJSON(raw []byte) ([]Row, error) {
	var rows []Row
	var parseErr error
	_, err := jsonparser.ArrayEach(raw, func(v []byte, dt jsonparser.ValueType, _ int, err error) {
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
		row, err := RowFromJSON(v)
		if err != nil {
			parseErr = err
			return
		}
		rows = append(rows, row)
	})
	if err != nil {
		return nil, err
	}
	if parseErr != nil {
		return nil, parseErr
	}
	return rows, nil
}
