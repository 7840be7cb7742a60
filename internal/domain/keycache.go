package domain

// KeyCache holds, per entity, the set of primary keys that passed validation
// during the current run. It is owned by the run: the orchestrator publishes
// each entity's keys exactly once, immediately after that entity's valid set
// is persisted, and every later entity only reads. Pre-seeding the cache in
// tests exercises a single entity's foreign-key behavior in isolation.
type KeyCache struct {
	keys map[string]map[string]struct{}
}

// NewKeyCache creates an empty cache for a new run.
func NewKeyCache() *KeyCache {
	return &KeyCache{keys: make(map[string]map[string]struct{})}
}

// Publish records the valid primary keys for an entity. A second publish for
// the same entity replaces the first; within a run the orchestrator never does
// this.
func (c *KeyCache) Publish(entity string, keys []string) {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k != "" {
			set[k] = struct{}{}
		}
	}
	c.keys[entity] = set
}

// Has reports whether the entity has a non-empty published key set. Foreign
// key checks against an entity without one are skipped entirely.
func (c *KeyCache) Has(entity string) bool {
	return len(c.keys[entity]) > 0
}

// Contains reports whether value is a published valid key of the entity.
func (c *KeyCache) Contains(entity, value string) bool {
	_, ok := c.keys[entity][value]
	return ok
}

// Len returns the number of published keys for the entity.
func (c *KeyCache) Len(entity string) int {
	return len(c.keys[entity])
}
