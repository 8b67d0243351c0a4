package memory

import (
	"fmt"
	"strconv"
	"time"

	"github.com/fruitsalade/mediabrowser/internal/backend"
)

var seedFolders = []string{
	"photos",
	"photos/2023",
	"photos/2024",
	"photos/2024/holiday",
	"documents",
	"documents/reports",
	"design",
}

var seedExts = []string{"jpg", "png", "webp", "gif", "pdf"}

// seed fills the tree with a deterministic demo data set.
func (b *Backend) seed(perFolder int) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	n := 0
	for _, folder := range append([]string{""}, seedFolders...) {
		b.mu.Lock()
		b.addFolderLocked(folder)
		b.mu.Unlock()

		for i := 0; i < perFolder; i++ {
			ext := seedExts[n%len(seedExts)]
			rec := backend.FileRecord{
				ID:        backend.Join(folder, fmt.Sprintf("image-%04d.%s", n, ext)),
				CreatedAt: base.Add(time.Duration(n) * 37 * time.Minute),
				Bytes:     int64(1000 + (n*7919)%999000),
				URL:       fmt.Sprintf("memory://files/%d", n),
			}
			if n%10 == 0 {
				rec.Context = map[string]string{"size": strconv.FormatInt(rec.Bytes*2, 10), "source": "seed"}
			}
			b.AddFile(rec)
			n++
		}
	}
}
