package value

import (
	"testing"
	"time"

	"github.com/buger/jsonparser"
	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	k, err := KindOf("long")
	assert.NoError(t, err)
	assert.Equal(t, Int64, k)

	k, err = KindOf("int")
	assert.NoError(t, err)
	assert.Equal(t, Int32, k)

	k, err = KindOf("datetime")
	assert.NoError(t, err)
	assert.Equal(t, Timestamp, k)

	k, err = KindOf("string")
	assert.NoError(t, err)
	assert.Equal(t, Text, k)

	// anything outside the closed set is a typed failure
	for _, declared := range []string{"guid", "real", "dynamic", "", "String", "LONG"} {
		_, err := KindOf(declared)
		assert.Error(t, err)
		var ute *UnsupportedTypeError
		assert.ErrorAs(t, err, &ute)
		assert.Equal(t, declared, ute.Declared)
	}
}

func TestRowFromJSON(t *testing.T) {
	row, err := RowFromJSON([]byte(`[42, "http://a/log.txt", "2023-06-02T10:31:04.1Z", null]`))
	assert.NoError(t, err)
	assert.Len(t, row, 4)

	n, err := row[0].Int64()
	assert.NoError(t, err)
	assert.Equal(t, int64(42), n)

	s, err := row[1].Text()
	assert.NoError(t, err)
	assert.Equal(t, "http://a/log.txt", s)

	ts, err := row[2].Time()
	assert.NoError(t, err)
	assert.Equal(t, time.Date(2023, 6, 2, 10, 31, 4, 100_000_000, time.UTC), ts)

	assert.True(t, row[3].IsNull())
	assert.False(t, row[1].IsNull())
}

func TestCellWrongShape(t *testing.T) {
	row, err := RowFromJSON([]byte(`[7, "x"]`))
	assert.NoError(t, err)

	_, err = row[0].Text()
	assert.Error(t, err)
	_, err = row[1].Int64()
	assert.Error(t, err)
	_, err = row[1].Time() // datetime cells are strings, but not every string parses
	assert.Error(t, err)
}

func TestCellEscapes(t *testing.T) {
	row, err := RowFromJSON([]byte(`["a \"quoted\" uri"]`))
	assert.NoError(t, err)
	s, err := row[0].Text()
	assert.NoError(t, err)
	assert.Equal(t, `a "quoted" uri`, s)
}

func TestInt32Overflow(t *testing.T) {
	row, err := RowFromJSON([]byte(`[3000000000, 12]`))
	assert.NoError(t, err)

	_, err = row[0].Int32()
	assert.Error(t, err)

	v, err := row[1].Int32()
	assert.NoError(t, err)
	assert.Equal(t, int32(12), v)
}

func TestRowsFromJSON(t *testing.T) {
	rows, err := RowsFromJSON([]byte(`[[1, "http://b"], [2, "http://c"]]`))
	assert.NoError(t, err)
	assert.Len(t, rows, 2)
	s, err := rows[1][1].Text()
	assert.NoError(t, err)
	assert.Equal(t, "http://c", s)

	rows, err = RowsFromJSON([]byte(`[]`))
	assert.NoError(t, err)
	assert.Len(t, rows, 0)

	// a row must itself be an array
	_, err = RowsFromJSON([]byte(`[{"not": "a row"}]`))
	assert.Error(t, err)
}

func TestNewCell(t *testing.T) {
	c := NewCell([]byte("17"), jsonparser.Number)
	v, err := c.Int64()
	assert.NoError(t, err)
	assert.Equal(t, int64(17), v)
}
