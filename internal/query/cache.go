package query

import "sync"

// stmtCache memoizes compiled statement text per spec shape. Safe for
// concurrent use: identical keys always produce identical text, so a
// racing double-compile is harmless.
type stmtCache struct {
	mu    sync.RWMutex
	stmts map[string]string
}

func newStmtCache() *stmtCache {
	return &stmtCache{stmts: make(map[string]string)}
}

func (c *stmtCache) get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	sql, ok := c.stmts[key]
	return sql, ok
}

func (c *stmtCache) put(key, sql string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stmts[key] = sql
}

// Len returns the number of memoized statements.
func (c *stmtCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.stmts)
}
