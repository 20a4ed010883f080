package resultset

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ResultSet is a bidirectional cursor over fully materialized rows. It is
// not safe for concurrent use.
type ResultSet struct {
	rows []interface{}

	currentIndex int
	currentTuple []interface{}
}

// New wraps a response payload. With asSingleResult the whole payload is
// one logical row (call/eval results); otherwise every element is a tuple.
func New(raw []interface{}, asSingleResult bool) *ResultSet {
	rows := make([]interface{}, 0, len(raw))
	if asSingleResult {
		copied := make([]interface{}, len(raw))
		copy(copied, raw)
		rows = append(rows, copied)
	} else {
		rows = append(rows, raw...)
	}
	return &ResultSet{rows: rows, currentIndex: -1}
}

// --------------------------------------------------------------------------
// Cursor
// --------------------------------------------------------------------------

// Next advances to the following row; false at the end.
func (r *ResultSet) Next() bool {
	if r.currentIndex+1 < len(r.rows) {
		r.currentIndex++
		r.currentTuple, _ = r.rows[r.currentIndex].([]interface{})
		return true
	}
	return false
}

// Previous steps back to the preceding row; false at the beginning.
func (r *ResultSet) Previous() bool {
	if r.currentIndex-1 >= 0 {
		r.currentIndex--
		r.currentTuple, _ = r.rows[r.currentIndex].([]interface{})
		return true
	}
	return false
}

// Row returns the current cursor position, -1 before the first Next.
func (r *ResultSet) Row() int {
	return r.currentIndex
}

// RowSize returns the column count of the current row, -1 without one.
func (r *ResultSet) RowSize() int {
	if r.currentTuple == nil {
		return -1
	}
	return len(r.currentTuple)
}

// IsEmpty reports whether the result set has no rows.
func (r *ResultSet) IsEmpty() bool {
	return len(r.rows) == 0
}

// Len returns the number of rows.
func (r *ResultSet) Len() int {
	return len(r.rows)
}

// Close releases the materialized rows.
func (r *ResultSet) Close() {
	r.rows = nil
	r.currentTuple = nil
	r.currentIndex = -1
}

// --------------------------------------------------------------------------
// Column Accessors
// --------------------------------------------------------------------------

// IsNull reports whether the column holds a null value.
func (r *ResultSet) IsNull(column int) (bool, error) {
	value, err := r.value(column)
	if err != nil {
		return false, err
	}
	return value == nil, nil
}

// GetObject returns the raw column value.
func (r *ResultSet) GetObject(column int) (interface{}, error) {
	return r.value(column)
}

// GetInt8 reads the column as an int8. Nulls read as 0.
func (r *ResultSet) GetInt8(column int) (int8, error) {
	n, err := r.rangedInt(column, math.MinInt8, math.MaxInt8, "int8")
	return int8(n), err
}

// GetInt16 reads the column as an int16. Nulls read as 0.
func (r *ResultSet) GetInt16(column int) (int16, error) {
	n, err := r.rangedInt(column, math.MinInt16, math.MaxInt16, "int16")
	return int16(n), err
}

// GetInt32 reads the column as an int32. Nulls read as 0.
func (r *ResultSet) GetInt32(column int) (int32, error) {
	n, err := r.rangedInt(column, math.MinInt32, math.MaxInt32, "int32")
	return int32(n), err
}

// GetInt64 reads the column as an int64. Nulls read as 0.
func (r *ResultSet) GetInt64(column int) (int64, error) {
	return r.rangedInt(column, math.MinInt64, math.MaxInt64, "int64")
}

// GetUint64 reads the column as a uint64. Nulls read as 0.
func (r *ResultSet) GetUint64(column int) (uint64, error) {
	value, err := r.value(column)
	if err != nil {
		return 0, err
	}
	if value == nil {
		return 0, nil
	}
	switch n := value.(type) {
	case uint64:
		return n, nil
	case int64:
		if n < 0 {
			return 0, fmt.Errorf("value %d is out of uint64 range", n)
		}
		return uint64(n), nil
	case float64:
		if n < 0 || n > math.MaxUint64 {
			return 0, fmt.Errorf("value %v is out of uint64 range", n)
		}
		return uint64(n), nil
	case string:
		parsed, err := strconv.ParseUint(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("value %q cannot be parsed as uint64", n)
		}
		return parsed, nil
	}
	return 0, fmt.Errorf("%T value cannot be read as uint64", value)
}

// GetFloat32 reads the column as a float32. Nulls read as 0.
func (r *ResultSet) GetFloat32(column int) (float32, error) {
	f, err := r.GetFloat64(column)
	return float32(f), err
}

// GetFloat64 reads the column as a float64. Nulls read as 0.
func (r *ResultSet) GetFloat64(column int) (float64, error) {
	value, err := r.value(column)
	if err != nil {
		return 0, err
	}
	if value == nil {
		return 0, nil
	}
	if f, ok := asFloat64(value); ok {
		return f, nil
	}
	if s, ok := value.(string); ok {
		parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, fmt.Errorf("value %q cannot be parsed as float64", s)
		}
		return parsed, nil
	}
	return 0, fmt.Errorf("%T value cannot be read as float64", value)
}

// GetBool reads the column as a bool. Nulls read as false; numbers must be
// exactly 0 or 1.
func (r *ResultSet) GetBool(column int) (bool, error) {
	value, err := r.value(column)
	if err != nil {
		return false, err
	}
	if value == nil {
		return false, nil
	}
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		return parseBool(v)
	}
	if f, ok := asFloat64(value); ok {
		if f == 1 {
			return true, nil
		}
		if f == 0 {
			return false, nil
		}
		return false, fmt.Errorf("numbers rather than 1 or 0 cannot be read as bool")
	}
	return false, fmt.Errorf("%T value cannot be read as bool", value)
}

// GetString reads the column as a string. Nulls read as the empty string
// with ok=false semantics folded into IsNull.
func (r *ResultSet) GetString(column int) (string, error) {
	value, err := r.value(column)
	if err != nil {
		return "", err
	}
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case bool:
		return strconv.FormatBool(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	}
	return "", fmt.Errorf("%T value cannot be read as string", value)
}

// GetBytes reads the column as a byte slice. Nulls read as nil.
func (r *ResultSet) GetBytes(column int) ([]byte, error) {
	value, err := r.value(column)
	if err != nil {
		return nil, err
	}
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	}
	return nil, fmt.Errorf("%T value cannot be read as bytes", value)
}

// GetList reads the column as a list. Nulls read as nil.
func (r *ResultSet) GetList(column int) ([]interface{}, error) {
	value, err := r.value(column)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, nil
	}
	if list, ok := value.([]interface{}); ok {
		return list, nil
	}
	return nil, fmt.Errorf("%T value cannot be read as a list", value)
}

// GetMap reads the column as a map. Nulls read as nil.
func (r *ResultSet) GetMap(column int) (map[interface{}]interface{}, error) {
	value, err := r.value(column)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, nil
	}
	switch m := value.(type) {
	case map[interface{}]interface{}:
		return m, nil
	case map[string]interface{}:
		converted := make(map[interface{}]interface{}, len(m))
		for k, v := range m {
			converted[k] = v
		}
		return converted, nil
	}
	return nil, fmt.Errorf("%T value cannot be read as a map", value)
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// value bounds-checks the column against the current tuple
func (r *ResultSet) value(column int) (interface{}, error) {
	if r.currentTuple == nil {
		if r.currentIndex >= 0 && r.currentIndex < len(r.rows) {
			return nil, fmt.Errorf("current row has type %T and cannot be accessed using a column number", r.rows[r.currentIndex])
		}
		return nil, fmt.Errorf("no current row, call Next first")
	}
	if column < 0 || column >= len(r.currentTuple) {
		return nil, fmt.Errorf("column %d is out of tuple size %d", column, len(r.currentTuple))
	}
	return r.currentTuple[column], nil
}

// rangedInt reads a signed integer, rejecting out-of-range values
func (r *ResultSet) rangedInt(column int, min, max int64, typeName string) (int64, error) {
	value, err := r.value(column)
	if err != nil {
		return 0, err
	}
	if value == nil {
		return 0, nil
	}

	var n int64
	switch v := value.(type) {
	case int64:
		n = v
	case uint64:
		if v > math.MaxInt64 {
			return 0, fmt.Errorf("value %d is out of %s range [%d..%d]", v, typeName, min, max)
		}
		n = int64(v)
	case float64:
		n = int64(v)
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("value %q cannot be parsed as %s", v, typeName)
		}
		n = parsed
	default:
		if converted, ok := asInt64Narrow(value); ok {
			n = converted
		} else {
			return 0, fmt.Errorf("%T value cannot be read as %s", value, typeName)
		}
	}

	if n < min || n > max {
		return 0, fmt.Errorf("value %d is out of %s range [%d..%d]", n, typeName, min, max)
	}
	return n, nil
}

func asInt64Narrow(value interface{}) (int64, bool) {
	switch n := value.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint:
		return int64(n), true
	}
	return 0, false
}

func asFloat64(value interface{}) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	if n, ok := asInt64Narrow(value); ok {
		return float64(n), true
	}
	return 0, false
}

func parseBool(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "1", "on", "true", "t", "yes", "y":
		return true, nil
	case "0", "off", "false", "f", "no", "n":
		return false, nil
	}
	return false, fmt.Errorf("value %q cannot be read as bool", value)
}
