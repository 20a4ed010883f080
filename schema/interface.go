package schema

import (
	"fmt"

	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("schema")

// --------------------------------------------------------------------------
// Interface Definitions
// --------------------------------------------------------------------------

// ISchemaMeta is the pluggable schema catalog consulted by the client.
type ISchemaMeta interface {
	// IsInitialized reports whether a catalog has ever been loaded.
	IsInitialized() bool

	// SchemaVersion returns the server schema version the catalog was
	// loaded at; 0 before the first refresh.
	SchemaVersion() uint64

	// Refresh reloads the catalog from the server.
	Refresh() error

	// SpaceID resolves a space name.
	SpaceID(space string) (uint64, error)

	// IndexID resolves an index name within a named space.
	IndexID(space, index string) (uint64, error)

	// IndexIDBySpaceID resolves an index name within a space given by id.
	IndexIDBySpaceID(spaceID uint64, index string) (uint64, error)
}

// IMetaExecutor issues the catalog queries. The client implements this by
// registering requests at schema-id 0 so a refresh can never be rejected
// for running against a stale version.
type IMetaExecutor interface {
	// SelectAll fetches every tuple of a system space and reports the
	// schema version the server completed the request at.
	SelectAll(spaceID uint64) (rows []interface{}, completedSchemaID uint64, err error)
}

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

// NotFoundError reports a name missing from the cached catalog. Requests
// carrying such names are held back until the client has checked its cache
// against the server (a ping probe, or a refresh while no catalog is loaded
// yet); only then do they fail with this error.
type NotFoundError struct {
	Kind string // "space" or "index"
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q is not known by the cached schema", e.Kind, e.Name)
}
