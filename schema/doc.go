// Package schema caches the server's space and index catalog. The client
// core only depends on the ISchemaMeta interface: whether the cache is
// initialized, which schema version it holds, and how to refresh it. Name
// resolution (space/index name to id) is what deferred request arguments
// evaluate against.
//
// MetaCache, the default implementation, loads the catalog from the
// server's system spaces through an executor that registers requests at
// schema-id 0, sidestepping the version check that regular requests are
// subject to.
package schema
