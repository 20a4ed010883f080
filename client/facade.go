package client

import (
	"fmt"

	"github.com/ValentinKolb/boxKV/protocol"
	"github.com/ValentinKolb/boxKV/resultset"
)

// The façades differ only in how they consume the engine's future: Sync
// blocks for it, FireAndForget drops it, Async surfaces it. The engine
// itself is not polymorphic.

// --------------------------------------------------------------------------
// Request Builders
// --------------------------------------------------------------------------

// spaceArg turns a space reference (name or numeric id) into a body cell.
// Names resolve lazily against the schema cache.
func (c *Client) spaceArg(space interface{}) Argument {
	if name, ok := space.(string); ok {
		return Lookup(func() (interface{}, error) {
			return c.schema.SpaceID(name)
		})
	}
	return Value(space)
}

// indexArg turns an index reference into a body cell; a named index needs
// the space to scope the lookup.
func (c *Client) indexArg(space, index interface{}) Argument {
	name, ok := index.(string)
	if !ok {
		return Value(index)
	}
	if spaceName, ok := space.(string); ok {
		return Lookup(func() (interface{}, error) {
			return c.schema.IndexID(spaceName, name)
		})
	}
	return Lookup(func() (interface{}, error) {
		id, ok := asUint64(space)
		if !ok {
			return nil, newClientError("space reference %v cannot scope index %q", space, name)
		}
		return c.schema.IndexIDBySpaceID(id, name)
	})
}

func (c *Client) selectRequest(space, index, key interface{}, offset, limit uint32, iterator int) *Request {
	return NewRequest(protocol.CodeSelect,
		Value(protocol.KeySpace), c.spaceArg(space),
		Value(protocol.KeyIndex), c.indexArg(space, index),
		Value(protocol.KeyKey), Value(key),
		Value(protocol.KeyIterator), Value(iterator),
		Value(protocol.KeyOffset), Value(offset),
		Value(protocol.KeyLimit), Value(limit),
	)
}

func (c *Client) insertRequest(code protocol.Code, space, tuple interface{}) *Request {
	return NewRequest(code,
		Value(protocol.KeySpace), c.spaceArg(space),
		Value(protocol.KeyTuple), Value(tuple),
	)
}

func (c *Client) updateRequest(space, key, ops interface{}) *Request {
	return NewRequest(protocol.CodeUpdate,
		Value(protocol.KeySpace), c.spaceArg(space),
		Value(protocol.KeyKey), Value(key),
		Value(protocol.KeyTuple), Value(ops),
	)
}

func (c *Client) upsertRequest(space, key, defTuple, ops interface{}) *Request {
	return NewRequest(protocol.CodeUpsert,
		Value(protocol.KeySpace), c.spaceArg(space),
		Value(protocol.KeyKey), Value(key),
		Value(protocol.KeyTuple), Value(defTuple),
		Value(protocol.KeyUpsertOps), Value(ops),
	)
}

func (c *Client) deleteRequest(space, key interface{}) *Request {
	return NewRequest(protocol.CodeDelete,
		Value(protocol.KeySpace), c.spaceArg(space),
		Value(protocol.KeyKey), Value(key),
	)
}

func (c *Client) callRequest(function string, args []interface{}) *Request {
	return NewRequest(c.callCode(),
		Value(protocol.KeyFunction), Value(function),
		Value(protocol.KeyTuple), Value(argsOrEmpty(args)),
	)
}

func (c *Client) evalRequest(expression string, args []interface{}) *Request {
	return NewRequest(protocol.CodeEval,
		Value(protocol.KeyExpr), Value(expression),
		Value(protocol.KeyTuple), Value(argsOrEmpty(args)),
	)
}

func (c *Client) sqlRequest(sql string, bind []interface{}) *Request {
	return NewRequest(protocol.CodeExecute,
		Value(protocol.KeySQLText), Value(sql),
		Value(protocol.KeySQLBind), Value(argsOrEmpty(bind)),
	)
}

// --------------------------------------------------------------------------
// Sync Façade
// --------------------------------------------------------------------------

// SyncOps blocks for every result.
type SyncOps struct {
	c *Client
}

// Sync returns the blocking façade.
func (c *Client) Sync() *SyncOps {
	return &SyncOps{c: c}
}

func (ops *SyncOps) Select(space, index, key interface{}, offset, limit uint32, iterator int) ([]interface{}, error) {
	return syncGet(ops.c.Exec(ops.c.selectRequest(space, index, key, offset, limit, iterator)))
}

func (ops *SyncOps) Insert(space, tuple interface{}) ([]interface{}, error) {
	return syncGet(ops.c.Exec(ops.c.insertRequest(protocol.CodeInsert, space, tuple)))
}

func (ops *SyncOps) Replace(space, tuple interface{}) ([]interface{}, error) {
	return syncGet(ops.c.Exec(ops.c.insertRequest(protocol.CodeReplace, space, tuple)))
}

func (ops *SyncOps) Update(space, key, operations interface{}) ([]interface{}, error) {
	return syncGet(ops.c.Exec(ops.c.updateRequest(space, key, operations)))
}

func (ops *SyncOps) Upsert(space, key, defTuple, operations interface{}) ([]interface{}, error) {
	return syncGet(ops.c.Exec(ops.c.upsertRequest(space, key, defTuple, operations)))
}

func (ops *SyncOps) Delete(space, key interface{}) ([]interface{}, error) {
	return syncGet(ops.c.Exec(ops.c.deleteRequest(space, key)))
}

func (ops *SyncOps) Call(function string, args ...interface{}) ([]interface{}, error) {
	return syncGet(ops.c.Exec(ops.c.callRequest(function, args)))
}

func (ops *SyncOps) Eval(expression string, args ...interface{}) ([]interface{}, error) {
	return syncGet(ops.c.Exec(ops.c.evalRequest(expression, args)))
}

func (ops *SyncOps) Ping() error {
	return ops.c.Ping()
}

// --------------------------------------------------------------------------
// Async Façade
// --------------------------------------------------------------------------

// AsyncOps surfaces the future of every dispatch.
type AsyncOps struct {
	c *Client
}

// Async returns the composable façade.
func (c *Client) Async() *AsyncOps {
	return &AsyncOps{c: c}
}

func (ops *AsyncOps) Select(space, index, key interface{}, offset, limit uint32, iterator int) *Future {
	return ops.c.Exec(ops.c.selectRequest(space, index, key, offset, limit, iterator))
}

func (ops *AsyncOps) Insert(space, tuple interface{}) *Future {
	return ops.c.Exec(ops.c.insertRequest(protocol.CodeInsert, space, tuple))
}

func (ops *AsyncOps) Replace(space, tuple interface{}) *Future {
	return ops.c.Exec(ops.c.insertRequest(protocol.CodeReplace, space, tuple))
}

func (ops *AsyncOps) Update(space, key, operations interface{}) *Future {
	return ops.c.Exec(ops.c.updateRequest(space, key, operations))
}

func (ops *AsyncOps) Upsert(space, key, defTuple, operations interface{}) *Future {
	return ops.c.Exec(ops.c.upsertRequest(space, key, defTuple, operations))
}

func (ops *AsyncOps) Delete(space, key interface{}) *Future {
	return ops.c.Exec(ops.c.deleteRequest(space, key))
}

func (ops *AsyncOps) Call(function string, args ...interface{}) *Future {
	return ops.c.Exec(ops.c.callRequest(function, args))
}

func (ops *AsyncOps) Eval(expression string, args ...interface{}) *Future {
	return ops.c.Exec(ops.c.evalRequest(expression, args))
}

func (ops *AsyncOps) Ping() *Future {
	return ops.c.Exec(NewRequest(protocol.CodePing))
}

// --------------------------------------------------------------------------
// Fire-and-Forget Façade
// --------------------------------------------------------------------------

// FireAndForgetOps dispatches without consuming the future; the assigned
// sync-id is all the caller gets back.
type FireAndForgetOps struct {
	c *Client
}

// FireAndForget returns the fire-and-forget façade.
func (c *Client) FireAndForget() *FireAndForgetOps {
	return &FireAndForgetOps{c: c}
}

func (ops *FireAndForgetOps) Insert(space, tuple interface{}) (uint64, error) {
	return ops.dispatch(ops.c.insertRequest(protocol.CodeInsert, space, tuple))
}

func (ops *FireAndForgetOps) Replace(space, tuple interface{}) (uint64, error) {
	return ops.dispatch(ops.c.insertRequest(protocol.CodeReplace, space, tuple))
}

func (ops *FireAndForgetOps) Update(space, key, operations interface{}) (uint64, error) {
	return ops.dispatch(ops.c.updateRequest(space, key, operations))
}

func (ops *FireAndForgetOps) Upsert(space, key, defTuple, operations interface{}) (uint64, error) {
	return ops.dispatch(ops.c.upsertRequest(space, key, defTuple, operations))
}

func (ops *FireAndForgetOps) Delete(space, key interface{}) (uint64, error) {
	return ops.dispatch(ops.c.deleteRequest(space, key))
}

func (ops *FireAndForgetOps) Call(function string, args ...interface{}) (uint64, error) {
	return ops.dispatch(ops.c.callRequest(function, args))
}

func (ops *FireAndForgetOps) dispatch(request *Request) (uint64, error) {
	if thumbstone := ops.c.getThumbstone(); thumbstone != nil {
		return 0, newCommunicationError("connection is not alive", thumbstone)
	}
	return ops.c.doExec(request).id, nil
}

// --------------------------------------------------------------------------
// SQL Surface
// --------------------------------------------------------------------------

// SQLUpdate executes a data-modifying SQL statement and returns the
// affected-row count.
func (c *Client) SQLUpdate(sql string, bind ...interface{}) (int64, error) {
	value, err := c.Exec(c.sqlRequest(sql, bind)).Get()
	if err != nil {
		return 0, err
	}
	count, ok := value.(int64)
	if !ok {
		return 0, newClientError("statement returned a result set, not a row count")
	}
	return count, nil
}

// SQLQuery executes a SQL query and returns its named rows.
func (c *Client) SQLQuery(sql string, bind ...interface{}) ([]map[string]interface{}, error) {
	value, err := c.Exec(c.sqlRequest(sql, bind)).Get()
	if err != nil {
		return nil, err
	}
	rows, ok := value.([]map[string]interface{})
	if !ok {
		return nil, newClientError("statement returned a row count, not a result set")
	}
	return rows, nil
}

// SQLUpdateAsync is the future-returning variant of SQLUpdate.
func (c *Client) SQLUpdateAsync(sql string, bind ...interface{}) *Future {
	return c.Exec(c.sqlRequest(sql, bind))
}

// SQLQueryAsync is the future-returning variant of SQLQuery.
func (c *Client) SQLQueryAsync(sql string, bind ...interface{}) *Future {
	return c.Exec(c.sqlRequest(sql, bind))
}

// ExecuteRequest dispatches a request and materializes its response as an
// in-memory row view.
func (c *Client) ExecuteRequest(request *Request) (*resultset.ResultSet, error) {
	value, err := c.Exec(request).Get()
	if err != nil {
		return nil, err
	}
	rows, ok := value.([]interface{})
	if !ok {
		return nil, newClientError("response of a %s request cannot back a row view", request.code)
	}
	return resultset.New(rows, request.code.IsSingleResultRow()), nil
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// syncGet adapts a future to the blocking call convention
func syncGet(future *Future) ([]interface{}, error) {
	value, err := future.Get()
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, nil
	}
	rows, ok := value.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected result of type %T", value)
	}
	return rows, nil
}

func argsOrEmpty(args []interface{}) []interface{} {
	if args == nil {
		return []interface{}{}
	}
	return args
}

func asUint64(v interface{}) (uint64, bool) {
	switch n := v.(type) {
	case uint64:
		return n, true
	case int64:
		if n >= 0 {
			return uint64(n), true
		}
	case int:
		if n >= 0 {
			return uint64(n), true
		}
	case uint:
		return uint64(n), true
	case int32:
		if n >= 0 {
			return uint64(n), true
		}
	case uint32:
		return uint64(n), true
	}
	return 0, false
}
