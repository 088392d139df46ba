package localcache

import (
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/relyingparty/rpcache/internal/cachetree"
	"github.com/relyingparty/rpcache/internal/logging"
)

// Transport selects which of the two process-wide roots a Download call
// targets, and whether the fetch is recursive.
type Transport int

const (
	// TransportRsync is the file-sync transport: recursive, whole-subtree.
	TransportRsync Transport = iota
	// TransportHTTPS is the single-object HTTP transport: non-recursive.
	TransportHTTPS
)

func (t Transport) String() string {
	switch t {
	case TransportRsync:
		return "rsync"
	case TransportHTTPS:
		return "https"
	default:
		return fmt.Sprintf("Transport(%d)", int(t))
	}
}

// Cache bundles the two process-wide roots, the run's startup timestamp, and
// the fetcher collaborators. It is not internally synchronized: callers must
// serialize Prepare/Download/Cleanup/Teardown themselves, per the
// single-threaded contract restated on Prepare, Download and Cleanup below.
type Cache struct {
	dir string

	rsyncRoot *cachetree.Node
	httpsRoot *cachetree.Node

	startupTime time.Time
	runID       string

	subtree SubtreeFetcher
	object  ObjectFetcher

	log *logrus.Logger
}

// New constructs a Cache rooted at dir, using subtree/object as the
// collaborators consumed by Download. log receives operational-channel
// entries; a nil log discards them.
func New(dir string, subtree SubtreeFetcher, object ObjectFetcher, log *logrus.Logger) *Cache {
	if log == nil {
		log = logrus.New()
		log.SetOutput(io.Discard)
	}
	return &Cache{dir: dir, subtree: subtree, object: object, log: log}
}

// Prepare stamps startupTime, mints a fresh per-run correlation ID, and
// loads metadata.json on the first call in this Cache's lifetime (or after a
// prior Teardown). It is idempotent: calling it again while roots are
// already loaded only refreshes startupTime and runID, matching the
// original's cache_prepare contract. Callers must not call Prepare
// concurrently with Download/Cleanup/Teardown on the same Cache.
func (c *Cache) Prepare() {
	c.startupTime = time.Now()
	c.runID = uuid.NewString()

	if c.rsyncRoot == nil || c.httpsRoot == nil {
		warn := func(format string, args ...interface{}) {
			c.log.WithFields(logging.OperationalFields("metadata_load")).Warnf(format, args...)
		}
		c.rsyncRoot, c.httpsRoot = cachetree.Load(c.dir, warn)
	}

	c.log.WithFields(logging.RunFields(c.runID)).WithFields(logging.OperationalFields("prepare")).Info("cache prepared")
}

// Teardown frees both roots, including the roots themselves. A subsequent
// Prepare call reloads metadata.json from disk as if this were a fresh
// process — this Cache does not remember that it once held a tree in
// memory, matching the "a cache of a cache" durability posture of spec.md §1.
func (c *Cache) Teardown() {
	c.rsyncRoot = nil
	c.httpsRoot = nil
}

// StartupTime returns the timestamp captured by the most recent Prepare
// call, used by the freshness predicate.
func (c *Cache) StartupTime() time.Time { return c.startupTime }
