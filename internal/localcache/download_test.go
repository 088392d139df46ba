package localcache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/relyingparty/rpcache/internal/cachetree"
)

type fakeSubtree struct {
	calls []string
	err   error
}

func (f *fakeSubtree) FetchSubtree(ctx context.Context, uri string) error {
	f.calls = append(f.calls, uri)
	return f.err
}

type fakeObject struct {
	calls   []string
	changed bool
	err     error
}

func (f *fakeObject) FetchObject(ctx context.Context, uri string) (bool, error) {
	f.calls = append(f.calls, uri)
	return f.changed, f.err
}

func newTestCache(t *testing.T, subtree SubtreeFetcher, object ObjectFetcher) *Cache {
	t.Helper()
	dir := t.TempDir()
	c := New(dir, subtree, object, nil)
	c.Prepare()
	return c
}

// Scenario 1: cold start, single HTTP fetch.
func TestDownloadColdStartHTTP(t *testing.T) {
	obj := &fakeObject{changed: true}
	c := newTestCache(t, nil, obj)

	changed, err := c.Download(context.Background(), "h/a/b.cer", TransportHTTPS, "https://h/a/b.cer")
	if err != nil {
		t.Fatalf("download error: %v", err)
	}
	if !changed {
		t.Fatalf("expected changed=true")
	}

	node := c.httpsRoot
	for _, seg := range []string{"h", "a", "b.cer"} {
		child, ok := node.Child(seg)
		if !ok {
			t.Fatalf("missing node for segment %q", seg)
		}
		node = child
	}
	if !node.Flags.Has(cachetree.Direct | cachetree.Success | cachetree.File) {
		t.Fatalf("expected DIRECT|SUCCESS|FILE, got %v", node.Flags)
	}
	if node.Error != 0 {
		t.Fatalf("expected error 0, got %d", node.Error)
	}
	if !node.TSSuccess.Equal(node.TSAttempt) {
		t.Fatalf("expected ts_success == ts_attempt")
	}

	// The fake fetcher writes nothing, so create the on-disk file by hand to
	// make the sweep's stat succeed.
	bPath, err := c.nodeDiskPath(node)
	if err != nil {
		t.Fatalf("path error: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(bPath), 0o755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}
	if err := os.WriteFile(bPath, []byte("cert"), 0o644); err != nil {
		t.Fatalf("write error: %v", err)
	}

	if err := c.Cleanup(context.Background()); err != nil {
		t.Fatalf("cleanup error: %v", err)
	}

	// Fresh process: reload from metadata.json.
	c2 := New(c.dir, nil, obj, nil)
	c2.Prepare()
	node2 := c2.httpsRoot
	for _, seg := range []string{"h", "a", "b.cer"} {
		child, ok := node2.Child(seg)
		if !ok {
			t.Fatalf("node did not survive reload at segment %q", seg)
		}
		node2 = child
	}
}

// Scenario 2: file-to-directory flip.
func TestDownloadFileToDirectoryFlip(t *testing.T) {
	obj := &fakeObject{}
	c := newTestCache(t, nil, obj)

	if _, err := c.Download(context.Background(), "x.cer", TransportHTTPS, "https://x.cer"); err != nil {
		t.Fatalf("first download error: %v", err)
	}
	leaf, ok := c.httpsRoot.Child("x.cer")
	if !ok || !leaf.Flags.Has(cachetree.File) {
		t.Fatalf("expected x.cer to be a FILE node after first fetch")
	}
	diskPath, err := c.nodeDiskPath(leaf)
	if err != nil {
		t.Fatalf("path error: %v", err)
	}
	// The fake fetcher writes nothing, so create the on-disk file by hand.
	if err := os.MkdirAll(filepath.Dir(diskPath), 0o755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}
	if err := os.WriteFile(diskPath, []byte("cert"), 0o644); err != nil {
		t.Fatalf("write error: %v", err)
	}
	if _, err := os.Stat(diskPath); err != nil {
		t.Fatalf("expected on-disk file to exist: %v", err)
	}

	if _, err := c.Download(context.Background(), "x.cer/y.cer", TransportHTTPS, "https://x.cer/y.cer"); err != nil {
		t.Fatalf("second download error: %v", err)
	}

	if _, err := os.Stat(diskPath); !os.IsNotExist(err) {
		t.Fatalf("expected on-disk file to be removed on mode flip, stat err=%v", err)
	}

	xNode, ok := c.httpsRoot.Child("x.cer")
	if !ok {
		t.Fatalf("expected x.cer node to survive as a directory shell")
	}
	if xNode.Flags != 0 {
		t.Fatalf("expected x.cer flags cleared, got %v", xNode.Flags)
	}
	yNode, ok := xNode.Child("y.cer")
	if !ok {
		t.Fatalf("expected y.cer child to be created")
	}
	if !yNode.Flags.Has(cachetree.Direct | cachetree.Success | cachetree.File) {
		t.Fatalf("expected y.cer to carry DIRECT|SUCCESS|FILE, got %v", yNode.Flags)
	}
}

// Scenario 3: file-sync ancestor coverage.
func TestDownloadRsyncAncestorCoverage(t *testing.T) {
	sub := &fakeSubtree{}
	c := newTestCache(t, sub, nil)

	if _, err := c.Download(context.Background(), "r/p", TransportRsync, "rsync://r/p/"); err != nil {
		t.Fatalf("first download error: %v", err)
	}
	if len(sub.calls) != 1 {
		t.Fatalf("expected exactly one fetch, got %d", len(sub.calls))
	}

	changed, err := c.Download(context.Background(), "r/p/q", TransportRsync, "rsync://r/p/q")
	if err != nil {
		t.Fatalf("second download error: %v", err)
	}
	if changed {
		t.Fatalf("rsync downloads never report changed")
	}
	if len(sub.calls) != 1 {
		t.Fatalf("expected ancestor coverage to skip the fetcher, got %d calls", len(sub.calls))
	}
}

func TestDownloadDirectoryToFileFlipRemovesDiskTree(t *testing.T) {
	obj := &fakeObject{}
	c := newTestCache(t, nil, obj)

	if _, err := c.Download(context.Background(), "a/b.cer", TransportHTTPS, "https://a/b.cer"); err != nil {
		t.Fatalf("seed download error: %v", err)
	}
	aNode, _ := c.httpsRoot.Child("a")
	dirPath, err := c.nodeDiskPath(aNode)
	if err != nil {
		t.Fatalf("path error: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(dirPath, "stray"), 0o755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}
	// Force "a" to look like a stale directory node (not FILE, not fresh).
	aNode.Flags = 0
	c.startupTime = c.startupTime.Add(1)

	if _, err := c.Download(context.Background(), "a", TransportHTTPS, "https://a"); err != nil {
		t.Fatalf("flip download error: %v", err)
	}
	// The fake fetcher writes nothing to disk; the coordinator's job is only
	// to remove the stale directory before invoking it, which leaves the
	// path absent rather than replaced.
	if _, err := os.Stat(dirPath); !os.IsNotExist(err) {
		t.Fatalf("expected stale directory to be removed, stat err=%v", err)
	}
	aNode, ok := c.httpsRoot.Child("a")
	if !ok {
		t.Fatalf("expected a node to survive the flip")
	}
	if !aNode.Flags.Has(cachetree.Direct | cachetree.Success | cachetree.File) {
		t.Fatalf("expected DIRECT|SUCCESS|FILE after the flip, got %v", aNode.Flags)
	}
	if _, ok := aNode.Child("b.cer"); ok {
		t.Fatalf("expected b.cer child to be dropped by the flip")
	}
}

func TestDownloadUnknownTransportPanics(t *testing.T) {
	c := newTestCache(t, nil, nil)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for unrecognized transport")
		}
	}()
	_, _ = c.Download(context.Background(), "a", Transport(99), "x://a")
}

func TestDownloadFetchErrorSurvivesForFreshnessReplay(t *testing.T) {
	sub := &fakeSubtree{err: NewFetchError(7, errors.New("boom"))}
	c := newTestCache(t, sub, nil)

	_, err := c.Download(context.Background(), "r/p", TransportRsync, "rsync://r/p")
	if err == nil {
		t.Fatalf("expected fetch error")
	}
	node, ok := c.rsyncRoot.Child("r")
	if !ok {
		t.Fatalf("missing r node")
	}
	pNode, ok := node.Child("p")
	if !ok {
		t.Fatalf("missing p node")
	}
	if pNode.Error != 7 {
		t.Fatalf("expected stored error code 7, got %d", pNode.Error)
	}
	if pNode.Flags.Has(cachetree.Success) {
		t.Fatalf("expected SUCCESS to be absent after a failed fetch")
	}

	replay, err := c.Download(context.Background(), "r/p", TransportRsync, "rsync://r/p")
	if err == nil {
		t.Fatalf("expected replayed error on a fresh but failed node")
	}
	if replay {
		t.Fatalf("rsync downloads never report changed")
	}
	if len(sub.calls) != 1 {
		t.Fatalf("expected the fetcher not to be re-invoked, got %d calls", len(sub.calls))
	}
}
