package schema

import (
	"strconv"
	"sync"
)

// System spaces holding the catalog
const (
	VSpaceID = 281 // space definitions
	VIndexID = 289 // index definitions
)

// SpaceMeta describes one space of the cached catalog.
type SpaceMeta struct {
	ID      uint64
	Name    string
	Indexes map[string]uint64 // index name -> index id
}

// MetaCache is the default ISchemaMeta implementation: a snapshot of the
// server's space and index catalog, replaced wholesale on every refresh.
// Reads never block a concurrent refresh.
type MetaCache struct {
	executor IMetaExecutor

	mu          sync.RWMutex
	initialized bool
	version     uint64
	spaces      map[string]*SpaceMeta
	spacesByID  map[uint64]*SpaceMeta
}

// NewMetaCache creates an empty cache querying through the given executor.
func NewMetaCache(executor IMetaExecutor) *MetaCache {
	return &MetaCache{executor: executor}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see interface.go)
// --------------------------------------------------------------------------

func (c *MetaCache) IsInitialized() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.initialized
}

func (c *MetaCache) SchemaVersion() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

func (c *MetaCache) Refresh() error {
	spaceRows, version, err := c.executor.SelectAll(VSpaceID)
	if err != nil {
		return err
	}
	indexRows, _, err := c.executor.SelectAll(VIndexID)
	if err != nil {
		return err
	}

	spaces := make(map[string]*SpaceMeta, len(spaceRows))
	spacesByID := make(map[uint64]*SpaceMeta, len(spaceRows))
	for _, raw := range spaceRows {
		row, ok := raw.([]interface{})
		if !ok || len(row) < 3 {
			continue
		}
		id, idOK := toUint64(row[0])
		name, nameOK := row[2].(string)
		if !idOK || !nameOK {
			continue
		}
		space := &SpaceMeta{ID: id, Name: name, Indexes: make(map[string]uint64)}
		spaces[name] = space
		spacesByID[id] = space
	}

	for _, raw := range indexRows {
		row, ok := raw.([]interface{})
		if !ok || len(row) < 3 {
			continue
		}
		spaceID, spaceOK := toUint64(row[0])
		indexID, indexOK := toUint64(row[1])
		name, nameOK := row[2].(string)
		if !spaceOK || !indexOK || !nameOK {
			continue
		}
		if space, exists := spacesByID[spaceID]; exists {
			space.Indexes[name] = indexID
		}
	}

	c.mu.Lock()
	c.spaces = spaces
	c.spacesByID = spacesByID
	c.version = version
	c.initialized = true
	c.mu.Unlock()

	Logger.Debugf("catalog refreshed: %d spaces at version %d", len(spaces), version)
	return nil
}

func (c *MetaCache) SpaceID(space string) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	meta, exists := c.spaces[space]
	if !exists {
		return 0, &NotFoundError{Kind: "space", Name: space}
	}
	return meta.ID, nil
}

func (c *MetaCache) IndexID(space, index string) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	meta, exists := c.spaces[space]
	if !exists {
		return 0, &NotFoundError{Kind: "space", Name: space}
	}
	id, exists := meta.Indexes[index]
	if !exists {
		return 0, &NotFoundError{Kind: "index", Name: index}
	}
	return id, nil
}

func (c *MetaCache) IndexIDBySpaceID(spaceID uint64, index string) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	meta, exists := c.spacesByID[spaceID]
	if !exists {
		return 0, &NotFoundError{Kind: "space", Name: "#" + strconv.FormatUint(spaceID, 10)}
	}
	id, exists := meta.Indexes[index]
	if !exists {
		return 0, &NotFoundError{Kind: "index", Name: index}
	}
	return id, nil
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

func toUint64(v interface{}) (uint64, bool) {
	switch n := v.(type) {
	case uint64:
		return n, true
	case int64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case int:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case uint:
		return uint64(n), true
	case int32:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case uint32:
		return uint64(n), true
	case int16:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case uint16:
		return uint64(n), true
	case int8:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case uint8:
		return uint64(n), true
	}
	return 0, false
}
