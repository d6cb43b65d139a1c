package attribution

import (
	"container/list"
	"crypto/sha256"
	"fmt"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	v1 "github.com/aevon-lab/flexevent/internal/api/v1"
)

const defaultPrivacyCacheSize = 1024

// privacyCache remembers privacy limit verdicts per source configuration. Sources
// registered from the same preset share one verdict.
type privacyCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	order    *list.List
	group    singleflight.Group // dedupes concurrent checks of one configuration
}

type verdict struct {
	key string
	err error
}

func newPrivacyCache(capacity int) *privacyCache {
	if capacity <= 0 {
		capacity = defaultPrivacyCacheSize
	}
	return &privacyCache{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// privacyKey covers everything the verdict depends on. The ledger is not part of it.
func privacyKey(src *v1.Source, flags Flags) string {
	h := sha256.New()
	for _, part := range []string{
		src.TriggerSpecs,
		strconv.Itoa(src.MaxReports),
		src.PrivacyParameters,
		src.SourceType,
		strconv.FormatFloat(flags.PrivacyEpsilon(), 'g', -1, 64),
		strconv.FormatUint(flags.MaxReportStates(), 10),
		strconv.FormatFloat(flags.MaxInformationGain(src.SourceType), 'g', -1, 64),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// check returns the cached verdict for key, running compute at most once per key
// across concurrent callers.
func (c *privacyCache) check(key string, compute func() error) error {
	if v, ok := c.get(key); ok {
		return v.err
	}
	v, _, _ := c.group.Do(key, func() (interface{}, error) {
		if cached, ok := c.get(key); ok {
			return cached.err, nil
		}
		err := compute()
		c.put(key, err)
		return err, nil
	})
	if v == nil {
		return nil
	}
	return v.(error)
}

func (c *privacyCache) get(key string) (verdict, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return verdict{}, false
	}
	c.order.MoveToFront(elem)
	return *elem.Value.(*verdict), true
}

func (c *privacyCache) put(key string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.order.MoveToFront(elem)
		elem.Value.(*verdict).err = err
		return
	}

	if c.order.Len() >= c.capacity {
		if oldest := c.order.Back(); oldest != nil {
			delete(c.entries, oldest.Value.(*verdict).key)
			c.order.Remove(oldest)
		}
	}
	c.entries[key] = c.order.PushFront(&verdict{key: key, err: err})
}

func (c *privacyCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
