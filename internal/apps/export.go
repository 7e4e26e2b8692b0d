package apps

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/p2p-industries/hyveos/pkg/fcid"
)

// exportCacheSize bounds the number of docker image IDs the export cache
// remembers before evicting the least recently used entry.
const exportCacheSize = 64

// exportCache maps a docker image ID to the Cid it was last exported as,
// so deploying the same unchanged image to multiple peers reuses that Cid
// instead of re-exporting it. The cache is in memory only: an image is
// exported again after its entry is evicted or the daemon restarts.
type exportCache struct {
	cache *lru.Cache[string, fcid.Cid]
}

func newExportCache() *exportCache {
	c, err := lru.New[string, fcid.Cid](exportCacheSize)
	if err != nil {
		// Only returns an error for a non-positive size, which
		// exportCacheSize never is.
		panic(err)
	}
	return &exportCache{cache: c}
}

func (e *exportCache) get(imageID string) (fcid.Cid, bool) {
	return e.cache.Get(imageID)
}

func (e *exportCache) put(imageID string, c fcid.Cid) {
	e.cache.Add(imageID, c)
}
