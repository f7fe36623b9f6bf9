package coordinator

// authCacheEntry memoizes the result of matching one username's credential
// entries against the current ActiveSet.
type authCacheEntry struct {
	authenticated bool
	matchingUIDs  []UID
}

// authCache is keyed by username only. Its validity is conditioned on both
// the ActiveSet and the CredentialStore being unchanged since population;
// either changing invalidates the entire cache, never just one entry.
type authCache struct {
	entries map[string]authCacheEntry
}

func newAuthCache() *authCache {
	return &authCache{entries: make(map[string]authCacheEntry)}
}

func (c *authCache) lookup(user string) (authCacheEntry, bool) {
	e, ok := c.entries[user]
	return e, ok
}

func (c *authCache) store(user string, e authCacheEntry) {
	c.entries[user] = e
}

// invalidate clears every memoized result. Called whenever the ActiveSet
// changes or the CredentialStore reloads.
func (c *authCache) invalidate() {
	clear(c.entries)
}
