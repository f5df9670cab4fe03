// Package routing holds the live discovery snapshot shared between the
// discovery loop and the request path: the model → backend routing table,
// the aggregated model list and the optional tag list.
//
// Each of the three containers is guarded by its own RWMutex and is only
// ever replaced whole, so a reader sees either the previous or the next
// snapshot of that container, never a mix.
package routing

import (
	"maps"
	"sync"
)

// Cache is the routing cache. The zero value is not usable; call NewCache.
type Cache struct {
	tableMu sync.RWMutex
	table   map[string]string

	modelsMu sync.RWMutex
	models   []ModelInfo

	tagsMu sync.RWMutex
	tags   []ModelTag
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{table: make(map[string]string)}
}

// Lookup returns the backend URL currently serving model.
func (c *Cache) Lookup(model string) (string, bool) {
	c.tableMu.RLock()
	url, ok := c.table[model]
	c.tableMu.RUnlock()
	return url, ok
}

// Routes returns a copy of the routing table.
func (c *Cache) Routes() map[string]string {
	c.tableMu.RLock()
	defer c.tableMu.RUnlock()
	return maps.Clone(c.table)
}

// Models returns a copy of the model list in discovery order.
func (c *Cache) Models() []ModelInfo {
	c.modelsMu.RLock()
	defer c.modelsMu.RUnlock()
	out := make([]ModelInfo, len(c.models))
	copy(out, c.models)
	return out
}

// Tags returns a copy of the tag list in discovery order.
func (c *Cache) Tags() []ModelTag {
	c.tagsMu.RLock()
	defer c.tagsMu.RUnlock()
	out := make([]ModelTag, len(c.tags))
	copy(out, c.tags)
	return out
}

// Replace installs table as the routing table. The caller hands over
// ownership and must not modify table afterwards.
func (c *Cache) Replace(table map[string]string) {
	if table == nil {
		table = make(map[string]string)
	}
	c.tableMu.Lock()
	c.table = table
	c.tableMu.Unlock()
}

// ReplaceModels installs models as the model list. Ownership transfers to
// the cache.
func (c *Cache) ReplaceModels(models []ModelInfo) {
	c.modelsMu.Lock()
	c.models = models
	c.modelsMu.Unlock()
}

// ReplaceTags installs tags as the tag list. Ownership transfers to the
// cache.
func (c *Cache) ReplaceTags(tags []ModelTag) {
	c.tagsMu.Lock()
	c.tags = tags
	c.tagsMu.Unlock()
}
