package cachetree

import (
	"os"
	"testing"
	"time"
)

func TestTimestampRoundTrip(t *testing.T) {
	original := time.Date(2024, 3, 1, 12, 30, 15, 0, time.Local)
	encoded := tt2json(original)
	decoded, err := json2tt(encoded)
	if err != nil {
		t.Fatalf("json2tt error: %v", err)
	}
	if !decoded.Equal(original) {
		t.Fatalf("round trip mismatch: got %v, want %v", decoded, original)
	}
}

func TestTimestampZeroIsEpoch(t *testing.T) {
	encoded := tt2json(time.Time{})
	decoded, err := json2tt(encoded)
	if err != nil {
		t.Fatalf("json2tt error: %v", err)
	}
	if !decoded.Equal(time.Unix(0, 0)) {
		t.Fatalf("expected epoch, got %v", decoded)
	}
}

func TestDumpLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	rsyncRoot := NewRoot(RootRsync)
	child := AddChild(rsyncRoot, "example.org")
	child.Flags = Direct | Success
	child.TSAttempt = time.Now().Truncate(time.Second)
	child.TSSuccess = child.TSAttempt

	httpsRoot := NewRoot(RootHTTPS)
	leaf := AddChild(httpsRoot, "h")
	leaf = AddChild(leaf, "a.cer")
	leaf.Flags = Direct | Success | File

	if err := Dump(dir, rsyncRoot, httpsRoot); err != nil {
		t.Fatalf("dump error: %v", err)
	}

	gotRsync, gotHTTPS := Load(dir, nil)

	gotChild, ok := gotRsync.Child("example.org")
	if !ok {
		t.Fatalf("expected rsync child to survive round trip")
	}
	if gotChild.Flags != (Direct | Success) {
		t.Fatalf("flags mismatch: got %v", gotChild.Flags)
	}
	if !gotChild.TSAttempt.Equal(child.TSAttempt) {
		t.Fatalf("ts_attempt mismatch: got %v want %v", gotChild.TSAttempt, child.TSAttempt)
	}

	h, ok := gotHTTPS.Child("h")
	if !ok {
		t.Fatalf("expected https child 'h' to survive round trip")
	}
	a, ok := h.Child("a.cer")
	if !ok || a.Flags&File == 0 {
		t.Fatalf("expected nested https leaf with File flag")
	}
}

func TestLoadMissingFileYieldsFreshRoots(t *testing.T) {
	dir := t.TempDir()
	rsyncRoot, httpsRoot := Load(dir, nil)
	if len(rsyncRoot.Children) != 0 || len(httpsRoot.Children) != 0 {
		t.Fatalf("expected empty fresh roots")
	}
	if rsyncRoot.Basename != string(RootRsync) || httpsRoot.Basename != string(RootHTTPS) {
		t.Fatalf("unexpected root basenames: %s %s", rsyncRoot.Basename, httpsRoot.Basename)
	}
}

func TestLoadMalformedNodeIsSkippedNotFatal(t *testing.T) {
	dir := t.TempDir()
	// "flags" is a string instead of an int on "bad"; only that child (a
	// child of the rsync root, and a sibling of "good") should be dropped — the
	// rest of the tree, including "good" and the https root, must survive.
	body := `[
		{"basename":"rsync","flags":0,"ts_success":"1970-01-01T00:00:00+0000","ts_attempt":"1970-01-01T00:00:00+0000","error":0,
		 "children":[
			{"basename":"bad","flags":"oops","ts_success":"1970-01-01T00:00:00+0000","ts_attempt":"1970-01-01T00:00:00+0000","error":0},
			{"basename":"good","flags":3,"ts_success":"1970-01-01T00:00:00+0000","ts_attempt":"1970-01-01T00:00:00+0000","error":0}
		 ]},
		{"basename":"https","flags":0,"ts_success":"1970-01-01T00:00:00+0000","ts_attempt":"1970-01-01T00:00:00+0000","error":0,
		 "children":[{"basename":"example.org","flags":3,"ts_success":"1970-01-01T00:00:00+0000","ts_attempt":"1970-01-01T00:00:00+0000","error":0}]}
	]`
	if err := os.WriteFile(dir+"/metadata.json", []byte(body), 0o644); err != nil {
		t.Fatalf("write metadata.json: %v", err)
	}

	var warnings []string
	rsyncRoot, httpsRoot := Load(dir, func(format string, args ...interface{}) {
		warnings = append(warnings, format)
	})

	if _, ok := rsyncRoot.Child("bad"); ok {
		t.Fatalf("expected malformed child to be dropped")
	}
	good, ok := rsyncRoot.Child("good")
	if !ok || good.Flags != (Direct|Success) {
		t.Fatalf("expected sibling of malformed child to survive intact, got %+v", good)
	}
	httpsChild, ok := httpsRoot.Child("example.org")
	if !ok || httpsChild.Flags != (Direct|Success) {
		t.Fatalf("expected the other root's subtree to survive untouched, got %+v", httpsChild)
	}
	if len(warnings) == 0 {
		t.Fatalf("expected at least one warning")
	}
}
