package coordinator

import "github.com/dantte-lp/nfcauthd/internal/uidset"

// UID and ActiveSet are aliased from uidset so every package that deals in
// normalized transponder identifiers shares one representation, from the
// Listener that first produces a UID to the Coordinator that merges it.
type UID = uidset.UID

// ActiveSet is the deduplicated, translation-mapped union of every
// Listener's most recent snapshot. It is owned exclusively by the
// Coordinator and mutated only in response to listener updates.
type ActiveSet = uidset.Set

// NewActiveSet builds an ActiveSet from a slice of UIDs.
func NewActiveSet(uids ...UID) ActiveSet {
	return uidset.New(uids...)
}

// snapshotTable merges the most recent per-listener snapshots into a single
// ActiveSet, applying the translation table and deduplicating by
// construction (ActiveSet is a set).
type snapshotTable struct {
	byListener map[string]ActiveSet
}

func newSnapshotTable() *snapshotTable {
	return &snapshotTable{byListener: make(map[string]ActiveSet)}
}

// update replaces the cached snapshot for one listener and recomputes the
// merged ActiveSet under the given translation table.
func (t *snapshotTable) update(listenerName string, snapshot ActiveSet, table map[string]string) ActiveSet {
	t.byListener[listenerName] = snapshot
	return t.merge(table)
}

func (t *snapshotTable) merge(table map[string]string) ActiveSet {
	merged := make(ActiveSet)
	for _, snap := range t.byListener {
		for u := range snap {
			merged[uidset.Translate(u, table)] = struct{}{}
		}
	}
	return merged
}
