package pagecache

import (
	"sync"

	"github.com/fruitsalade/mediabrowser/internal/metrics"
)

// FolderCounts remembers the last folder total observed for each path.
// Entries live for the life of the process.
type FolderCounts struct {
	mu     sync.RWMutex
	counts map[string]int
}

// NewFolderCounts creates an empty memo.
func NewFolderCounts() *FolderCounts {
	return &FolderCounts{counts: make(map[string]int)}
}

// Get returns the last observed folder total for path.
func (f *FolderCounts) Get(path string) (int, bool) {
	f.mu.RLock()
	n, ok := f.counts[path]
	f.mu.RUnlock()
	if ok {
		metrics.RecordFolderMemoRead()
	}
	return n, ok
}

// Set records the folder total for path.
func (f *FolderCounts) Set(path string, n int) {
	f.mu.Lock()
	f.counts[path] = n
	f.mu.Unlock()
}

// Len returns the number of remembered paths.
func (f *FolderCounts) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.counts)
}
