package ledger

import "sort"

// LockOrder returns the ids in the global lock-acquisition order: ascending and
// without duplicates. Every unit of work touching more than one account locks
// them in this order, so two operations over the same accounts cannot deadlock.
func LockOrder(ids ...string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
