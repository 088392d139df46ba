package localcache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/relyingparty/rpcache/internal/cachetree"
	"github.com/relyingparty/rpcache/internal/logging"
	"github.com/relyingparty/rpcache/internal/pathbuilder"
)

// isFresh reports whether node's last direct attempt occurred during the
// current run: DIRECT is set and startupTime <= ts_attempt (non-strict,
// since a fetch performed exactly at startup is still within this run).
func (c *Cache) isFresh(node *cachetree.Node) bool {
	return node.Flags.Has(cachetree.Direct) && !node.TSAttempt.Before(c.startupTime)
}

// nodeDiskPath reconstructs node's on-disk path by ascending to the root and
// reversing, the same ancestor-walk pathbuilder.Builder was built for.
func (c *Cache) nodeDiskPath(node *cachetree.Node) (string, error) {
	var b pathbuilder.Builder
	for n := node; n != nil; n = n.Parent {
		if err := b.Append(n.Basename); err != nil {
			return "", err
		}
	}
	b.Reverse()
	rel, err := b.Compile()
	if err != nil {
		return "", err
	}
	return filepath.Join(c.dir, rel), nil
}

// removeDiskPath deletes whatever sits at node's on-disk path, file or
// directory tree, tolerating a path that's already gone.
func (c *Cache) removeDiskPath(node *cachetree.Node) error {
	path, err := c.nodeDiskPath(node)
	if err != nil {
		return err
	}
	return os.RemoveAll(path)
}

func (c *Cache) logOperational(action string, err error) {
	c.log.WithFields(logging.OperationalFields(action)).Warn(err.Error())
}

// Download walks or creates the tree along localPath's segments under the
// root selected by transport, detects file/directory mode flips, invokes the
// matching fetcher on a miss or staleness, and records the outcome on the
// resulting node. changed is only meaningful for TransportHTTPS.
//
// Download is not safe for concurrent use on the same Cache; callers must
// serialize calls to Prepare/Download/Cleanup/Teardown per spec.md §5.
func (c *Cache) Download(ctx context.Context, localPath string, transport Transport, uri string) (changed bool, err error) {
	segments := pathbuilder.SplitURIPath(localPath)

	var root *cachetree.Node
	recursive := transport == TransportRsync
	switch transport {
	case TransportRsync:
		root = c.rsyncRoot
	case TransportHTTPS:
		root = c.httpsRoot
	default:
		panic(fmt.Sprintf("localcache: unknown transport %v", transport))
	}

	current := root
	materializeFrom := -1

	for i, seg := range segments {
		if current.Flags.Has(cachetree.File) {
			if rmErr := c.removeDiskPath(current); rmErr != nil {
				c.logOperational("mode_flip_file_to_directory", rmErr)
			}
			current.Flags = 0
		}

		child, ok := current.Child(seg)
		if !ok {
			materializeFrom = i
			break
		}
		if recursive && c.isFresh(child) && child.Flags.Has(cachetree.Success) {
			return false, errorFromCode(child.Error)
		}
		current = child
	}

	var node *cachetree.Node
	if materializeFrom >= 0 {
		node = current
		for _, seg := range segments[materializeFrom:] {
			node = cachetree.AddChild(node, seg)
		}
	} else {
		node = current
		if c.isFresh(node) {
			return false, errorFromCode(node.Error)
		}
		if !recursive && !node.Flags.Has(cachetree.File) {
			if rmErr := c.removeDiskPath(node); rmErr != nil {
				c.logOperational("mode_flip_directory_to_file", rmErr)
			}
		}
	}

	var fetchErr error
	if recursive {
		fetchErr = c.subtree.FetchSubtree(ctx, uri)
	} else {
		changed, fetchErr = c.object.FetchObject(ctx, uri)
	}

	now := time.Now()
	node.TSAttempt = now
	node.Flags |= cachetree.Direct
	if fetchErr == nil {
		node.Error = 0
		node.Flags |= cachetree.Success
		if !recursive {
			node.Flags |= cachetree.File
		}
		node.TSSuccess = now
	} else {
		node.Error = codeFromError(fetchErr)
		node.Flags &^= cachetree.Success
	}

	cachetree.DropChildren(node)

	return changed, fetchErr
}
