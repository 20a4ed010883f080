package client

import (
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/boxKV/protocol"
)

// --------------------------------------------------------------------------
// Argument Cells
// --------------------------------------------------------------------------

// Argument is one cell of a request body: either an immediately
// serializable value or a deferred lookup that resolves against the schema
// cache and fails while the referenced name is unknown.
type Argument interface {
	// IsSerializable reports whether Value currently succeeds.
	IsSerializable() bool

	// Value yields the cell value to encode.
	Value() (interface{}, error)
}

// valueArg is an immediately serializable cell
type valueArg struct {
	value interface{}
}

func (a valueArg) IsSerializable() bool        { return true }
func (a valueArg) Value() (interface{}, error) { return a.value, nil }

// lookupArg defers resolution until encoding time; a successful resolution
// is cached so a request re-issued after a schema refresh stays stable
type lookupArg struct {
	resolve  func() (interface{}, error)
	resolved atomic.Pointer[interface{}]
}

func (a *lookupArg) IsSerializable() bool {
	if a.resolved.Load() != nil {
		return true
	}
	_, err := a.Value()
	return err == nil
}

func (a *lookupArg) Value() (interface{}, error) {
	if cached := a.resolved.Load(); cached != nil {
		return *cached, nil
	}
	value, err := a.resolve()
	if err != nil {
		return nil, err
	}
	a.resolved.Store(&value)
	return value, nil
}

// Value wraps an immediately serializable cell value.
func Value(v interface{}) Argument {
	return valueArg{value: v}
}

// Lookup wraps a schema-dependent resolution as an argument cell.
func Lookup(resolve func() (interface{}, error)) Argument {
	return &lookupArg{resolve: resolve}
}

// --------------------------------------------------------------------------
// Request Record
// --------------------------------------------------------------------------

// Request represents one in-flight logical call.
type Request struct {
	id   uint64
	code protocol.Code
	args []Argument

	startedSchemaID   atomic.Uint64
	completedSchemaID atomic.Uint64

	// optional per-request deadline overriding the configured default
	timeout time.Duration

	result *Future

	// syncProbe marks an internal ping used to validate schema currency;
	// syncDependent points at the delayed request whose resolution it gates
	syncProbe     bool
	syncDependent *Request
}

// NewRequest creates a request for the given opcode and body cells.
func NewRequest(code protocol.Code, args ...Argument) *Request {
	return &Request{
		code:   code,
		args:   args,
		result: newFuture(),
	}
}

// ID returns the sync-id assigned at dispatch; 0 before dispatch.
func (r *Request) ID() uint64 {
	return r.id
}

// Code returns the request opcode.
func (r *Request) Code() protocol.Code {
	return r.code
}

// Result returns the request's future.
func (r *Request) Result() *Future {
	return r.result
}

// SetTimeout overrides the configured default deadline for this request.
// Must be called before dispatch.
func (r *Request) SetTimeout(timeout time.Duration) {
	r.timeout = timeout
}

// CompletedSchemaID returns the schema version the server reported on
// success; 0 before completion.
func (r *Request) CompletedSchemaID() uint64 {
	return r.completedSchemaID.Load()
}

// AddArguments appends body cells. Must be called before dispatch.
func (r *Request) AddArguments(args ...Argument) {
	r.args = append(r.args, args...)
}

// begin assigns the sync-id and arms the deadline timer
func (r *Request) begin(id uint64, defaultTimeout time.Duration) {
	r.id = id
	timeout := r.timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	r.result.orTimeout(timeout)
}

// beginSync marks this request as a schema sync-probe gating dependent
func (r *Request) beginSync(id uint64, defaultTimeout time.Duration, dependent *Request) {
	r.syncProbe = true
	r.syncDependent = dependent
	r.begin(id, defaultTimeout)
}

// isSerializable folds IsSerializable over the argument cells
func (r *Request) isSerializable() bool {
	for _, arg := range r.args {
		if !arg.IsSerializable() {
			return false
		}
	}
	return true
}

// argumentValues evaluates every cell; fails on the first unresolvable one
func (r *Request) argumentValues() ([]interface{}, error) {
	values := make([]interface{}, len(r.args))
	for i, arg := range r.args {
		value, err := arg.Value()
		if err != nil {
			return nil, err
		}
		values[i] = value
	}
	return values, nil
}
