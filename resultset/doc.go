// Package resultset provides a fully materialized in-memory row view over
// response payloads. The cursor walks tuples forward and backward; column
// accessors convert between numeric widths, failing on out-of-range values,
// and read nulls as the zero value for primitive numerics but as nil for
// reference types.
//
// Procedure and expression results (call/eval) arrive as one flat tuple and
// are wrapped as a single row; everything else is a list of tuples.
package resultset
