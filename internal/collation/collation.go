// internal/collation/collation.go
package collation

import (
	"sort"
	"sync"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// File names are ordered with a numeric-aware comparator so that
// "file2" sorts before "file10". Local listings are sorted with it (S3
// listings keep the service's binary key order), and the tree orders its
// leaves by it.

var (
	mu   sync.Mutex
	coll = collate.New(language.Und, collate.Numeric)
)

// Compare returns -1, 0 or +1. Safe for concurrent use; the underlying
// collator is not, so calls are serialized.
func Compare(a, b string) int {
	mu.Lock()
	defer mu.Unlock()
	return coll.CompareString(a, b)
}

// Sort orders names in place.
func Sort(names []string) {
	mu.Lock()
	defer mu.Unlock()
	sort.SliceStable(names, func(i, j int) bool {
		return coll.CompareString(names[i], names[j]) < 0
	})
}
