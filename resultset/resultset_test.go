package resultset

import (
	"strings"
	"testing"
)

func multiRow() *ResultSet {
	return New([]interface{}{
		[]interface{}{int64(1), "alice", int64(300), true, nil},
		[]interface{}{int64(2), "bob", int64(-7), false, []byte("blob")},
	}, false)
}

// TestCursor tests forward and backward iteration
func TestCursor(t *testing.T) {
	rs := multiRow()
	if rs.Row() != -1 {
		t.Errorf("initial row: got %d, want -1", rs.Row())
	}
	if rs.IsEmpty() || rs.Len() != 2 {
		t.Errorf("got (empty=%v, len=%d), want (false, 2)", rs.IsEmpty(), rs.Len())
	}

	if !rs.Next() || rs.Row() != 0 || rs.RowSize() != 5 {
		t.Fatalf("first Next: row=%d size=%d", rs.Row(), rs.RowSize())
	}
	if !rs.Next() || rs.Row() != 1 {
		t.Fatal("second Next failed")
	}
	if rs.Next() {
		t.Error("Next beyond the end must fail")
	}
	if !rs.Previous() || rs.Row() != 0 {
		t.Error("Previous must step back")
	}
	if rs.Previous() {
		t.Error("Previous beyond the beginning must fail")
	}

	rs.Close()
	if rs.Len() != 0 || rs.Row() != -1 {
		t.Error("Close must reset the cursor")
	}
}

// TestSingleResultRow tests the call/eval wrapping: the whole payload is
// one row
func TestSingleResultRow(t *testing.T) {
	rs := New([]interface{}{int64(7), "ok"}, true)
	if rs.Len() != 1 {
		t.Fatalf("row count: got %d, want 1", rs.Len())
	}
	if !rs.Next() {
		t.Fatal("Next failed")
	}
	if rs.RowSize() != 2 {
		t.Errorf("row size: got %d, want 2", rs.RowSize())
	}
	if n, err := rs.GetInt64(0); err != nil || n != 7 {
		t.Errorf("GetInt64(0): got (%d, %v), want (7, nil)", n, err)
	}
	if s, err := rs.GetString(1); err != nil || s != "ok" {
		t.Errorf("GetString(1): got (%q, %v)", s, err)
	}
}

// TestNumericWidthConversions tests width narrowing with range checks
func TestNumericWidthConversions(t *testing.T) {
	rs := New([]interface{}{
		[]interface{}{int64(200), int64(-129), uint64(1) << 40, "42", int64(1)},
	}, false)
	rs.Next()

	// 200 fits int16 but not int8
	if n, err := rs.GetInt16(0); err != nil || n != 200 {
		t.Errorf("GetInt16: got (%d, %v), want (200, nil)", n, err)
	}
	if _, err := rs.GetInt8(0); err == nil {
		t.Error("200 must be out of int8 range")
	}
	if _, err := rs.GetInt8(1); err == nil {
		t.Error("-129 must be out of int8 range")
	}
	if _, err := rs.GetInt32(2); err == nil {
		t.Error("2^40 must be out of int32 range")
	}
	if n, err := rs.GetInt64(2); err != nil || n != 1<<40 {
		t.Errorf("GetInt64: got (%d, %v), want (2^40, nil)", n, err)
	}

	// strings parse into numerics
	if n, err := rs.GetInt32(3); err != nil || n != 42 {
		t.Errorf("GetInt32 from string: got (%d, %v), want (42, nil)", n, err)
	}
	if f, err := rs.GetFloat64(0); err != nil || f != 200 {
		t.Errorf("GetFloat64: got (%v, %v), want (200, nil)", f, err)
	}
	if b, err := rs.GetBool(4); err != nil || !b {
		t.Errorf("GetBool from 1: got (%v, %v), want (true, nil)", b, err)
	}
	if _, err := rs.GetBool(0); err == nil {
		t.Error("200 must not read as bool")
	}
}

// TestNullSemantics tests that nulls read as zero values for numerics and
// nil for reference types
func TestNullSemantics(t *testing.T) {
	rs := New([]interface{}{
		[]interface{}{nil},
	}, false)
	rs.Next()

	if null, err := rs.IsNull(0); err != nil || !null {
		t.Errorf("IsNull: got (%v, %v), want (true, nil)", null, err)
	}
	if n, err := rs.GetInt64(0); err != nil || n != 0 {
		t.Errorf("null as int64: got (%d, %v), want (0, nil)", n, err)
	}
	if f, err := rs.GetFloat64(0); err != nil || f != 0 {
		t.Errorf("null as float64: got (%v, %v), want (0, nil)", f, err)
	}
	if b, err := rs.GetBool(0); err != nil || b {
		t.Errorf("null as bool: got (%v, %v), want (false, nil)", b, err)
	}
	if bytes, err := rs.GetBytes(0); err != nil || bytes != nil {
		t.Errorf("null as bytes: got (%v, %v), want (nil, nil)", bytes, err)
	}
	if list, err := rs.GetList(0); err != nil || list != nil {
		t.Errorf("null as list: got (%v, %v), want (nil, nil)", list, err)
	}
}

// TestAccessErrors tests column bounds and type mismatches
func TestAccessErrors(t *testing.T) {
	rs := multiRow()

	// no current row yet
	if _, err := rs.GetInt64(0); err == nil {
		t.Error("access before Next must fail")
	}

	rs.Next()
	if _, err := rs.GetInt64(10); err == nil {
		t.Error("out-of-bounds column must fail")
	}
	if _, err := rs.GetList(1); err == nil {
		t.Error("a string must not read as a list")
	}

	// a non-tuple row cannot be accessed by column
	scalar := New([]interface{}{"plain"}, false)
	scalar.Next()
	if _, err := scalar.GetString(0); err == nil || !strings.Contains(err.Error(), "column") {
		t.Errorf("non-tuple row access: got %v, want a column access error", err)
	}
}

// TestBytesAndStrings tests the byte/string crossover reads
func TestBytesAndStrings(t *testing.T) {
	rs := multiRow()
	rs.Next()
	rs.Next()

	if b, err := rs.GetBytes(1); err != nil || string(b) != "bob" {
		t.Errorf("string as bytes: got (%q, %v)", b, err)
	}
	if s, err := rs.GetString(4); err != nil || s != "blob" {
		t.Errorf("bytes as string: got (%q, %v)", s, err)
	}
	if s, err := rs.GetString(0); err != nil || s != "2" {
		t.Errorf("int as string: got (%q, %v)", s, err)
	}
}
