package invalidation

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// sceneVersions remembers the highest applied version per scene so
// redelivered or reordered announcements are skipped.
type sceneVersions struct {
	mu   sync.Mutex
	seen *lru.Cache[string, uint64]
}

func newSceneVersions(size int) *sceneVersions {
	if size <= 0 {
		size = 4096
	}
	c, _ := lru.New[string, uint64](size)
	return &sceneVersions{seen: c}
}

func (d *sceneVersions) newer(sceneID string, v uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if last, ok := d.seen.Get(sceneID); ok && v <= last {
		return false
	}
	return true
}

func (d *sceneVersions) mark(sceneID string, v uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen.Add(sceneID, v)
}
