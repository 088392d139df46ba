package localcache

import (
	"context"
	"os"
	"path/filepath"

	"github.com/relyingparty/rpcache/internal/cachetree"
)

// Cleanup performs the shutdown-time depth-first reconciliation against the
// filesystem for both roots, then serializes the surviving tree to
// metadata.json. Sibling processing order is unspecified (map iteration).
// Errors encountered while walking the disk (stat/opendir/remove) are logged
// and bypassed; the sweep is best-effort. Only a failure to write the final
// metadata document is returned to the caller.
//
// Cleanup is not safe for concurrent use on the same Cache; see Download.
func (c *Cache) Cleanup(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return nil
	}

	c.sweepNode(c.rsyncRoot)
	c.sweepNode(c.httpsRoot)

	if err := cachetree.Dump(c.dir, c.rsyncRoot, c.httpsRoot); err != nil {
		c.logOperational("metadata_dump", err)
		return err
	}
	return nil
}

// sweepNode reconciles one node against its on-disk path. Kept recursive,
// like node2json/json2node: sweep depth is bounded by URI path depth.
func (c *Cache) sweepNode(node *cachetree.Node) {
	path, err := c.nodeDiskPath(node)
	if err != nil {
		c.logOperational("cleanup_path", err)
		return
	}

	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			cachetree.DeleteNode(node, false)
			return
		}
		c.logOperational("cleanup_stat", err)
		return
	}

	if c.isFresh(node) && node.Error == 0 {
		return
	}

	switch {
	case info.IsDir():
		c.sweepDirectory(node, path)
	case info.Mode().IsRegular():
		if rmErr := os.Remove(path); rmErr != nil {
			c.logOperational("cleanup_remove_file", rmErr)
		}
		cachetree.DeleteNode(node, false)
	default:
		if rmErr := os.RemoveAll(path); rmErr != nil {
			c.logOperational("cleanup_remove_other", rmErr)
		}
		cachetree.DeleteNode(node, false)
	}
}

// sweepDirectory implements spec.md §4.5 step 5: mark on-disk-confirmed
// children FOUND and recurse, remove disk entries with no matching node,
// then drop any child that wasn't confirmed present, finally pruning node
// itself if it ends up empty and isn't a root.
func (c *Cache) sweepDirectory(node *cachetree.Node, path string) {
	entries, err := os.ReadDir(path)
	if err != nil {
		c.logOperational("cleanup_readdir", err)
		return
	}

	for _, entry := range entries {
		name := entry.Name()
		if name == "." || name == ".." {
			continue
		}
		if child, ok := node.Child(name); ok {
			child.Flags |= cachetree.Found
			c.sweepNode(child)
			continue
		}
		if rmErr := os.RemoveAll(filepath.Join(path, name)); rmErr != nil {
			c.logOperational("cleanup_remove_orphan", rmErr)
		}
	}

	for _, child := range node.Children {
		if child.Flags.Has(cachetree.Found) {
			child.Flags &^= cachetree.Found
			continue
		}
		cachetree.DeleteNode(child, false)
	}

	if len(node.Children) == 0 && !node.IsRoot() {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			c.logOperational("cleanup_remove_empty_dir", rmErr)
		}
		cachetree.DeleteNode(node, false)
	}
}
