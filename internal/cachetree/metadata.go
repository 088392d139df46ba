package cachetree

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// timestampLayout matches the original's strptime/strftime format
// ("%Y-%m-%dT%H:%M:%S%z"): ISO-8601 with a numeric, non-colon timezone
// offset.
const timestampLayout = "2006-01-02T15:04:05-0700"

// tt2json renders t using timestampLayout in the local timezone. A zero
// time.Time (Node fields default to it) is rendered as the Unix epoch, the
// same "unset" sentinel the original's time_t 0 represents.
func tt2json(t time.Time) string {
	if t.IsZero() {
		t = time.Unix(0, 0)
	}
	return t.Local().Format(timestampLayout)
}

// json2tt is tt2json's inverse.
func json2tt(s string) (time.Time, error) {
	return time.Parse(timestampLayout, s)
}

// nodeJSON is the wire shape of one metadata.json array element. Children
// is kept as raw messages, not []nodeJSON: decoding each child
// independently means a type error on one child's field can't fail the
// unmarshal of its siblings or its parent (see json2node).
type nodeJSON struct {
	Basename  string            `json:"basename"`
	Flags     int               `json:"flags"`
	TSSuccess string            `json:"ts_success"`
	TSAttempt string            `json:"ts_attempt"`
	Error     int               `json:"error"`
	Children  []json.RawMessage `json:"children,omitempty"`
}

// node2json converts a Node subtree into its wire shape. Recursive: tree
// depth is bounded by URI path depth (a few dozen levels in practice), so
// this is not converted to the iterative style used by Walk/DeleteNode.
func node2json(n *Node) nodeJSON {
	out := nodeJSON{
		Basename:  n.Basename,
		Flags:     int(n.Flags),
		TSSuccess: tt2json(n.TSSuccess),
		TSAttempt: tt2json(n.TSAttempt),
		Error:     n.Error,
	}
	if len(n.Children) > 0 {
		out.Children = make([]json.RawMessage, 0, len(n.Children))
		for _, child := range n.Children {
			raw, err := json.Marshal(node2json(child))
			if err != nil {
				panic(fmt.Sprintf("cachetree: marshal child node: %v", err))
			}
			out.Children = append(out.Children, raw)
		}
	}
	return out
}

// warnFunc receives a human-readable warning for a node that was discarded
// during a defensive load. Callers typically wire this to a logger.
type warnFunc func(format string, args ...interface{})

// json2node parses one wire node under parent. A malformed field discards
// the node and its already-parsed subtree, returning (nil, false), and
// never aborts the caller's array-wide load.
func json2node(raw nodeJSON, parent *Node, warn warnFunc) (*Node, bool) {
	if raw.Basename == "" {
		warn("metadata.json node has an empty or missing 'basename'; skipping")
		return nil, false
	}

	tsSuccess, err := json2tt(raw.TSSuccess)
	if err != nil {
		warn("metadata.json node %q has an unparseable 'ts_success'; skipping", raw.Basename)
		return nil, false
	}
	tsAttempt, err := json2tt(raw.TSAttempt)
	if err != nil {
		warn("metadata.json node %q has an unparseable 'ts_attempt'; skipping", raw.Basename)
		return nil, false
	}

	node := &Node{
		Basename:  raw.Basename,
		Flags:     Flags(raw.Flags),
		TSSuccess: tsSuccess,
		TSAttempt: tsAttempt,
		Error:     raw.Error,
		Parent:    parent,
		Children:  make(map[string]*Node),
	}

	for _, rawChildBytes := range raw.Children {
		var rawChild nodeJSON
		if err := json.Unmarshal(rawChildBytes, &rawChild); err != nil {
			warn("metadata.json node %q has a child with a type error (%v); dropping the child only", raw.Basename, err)
			continue
		}
		child, ok := json2node(rawChild, node, warn)
		if !ok {
			warn("metadata.json node %q has a malformed child; dropping the child only", raw.Basename)
			continue
		}
		node.Children[child.Basename] = child
	}

	return node, true
}

// Dump writes the tree rooted at rsyncRoot and httpsRoot to
// <dir>/metadata.json as a compact JSON array, using a temp-file-then-rename
// write for atomicity.
func Dump(dir string, rsyncRoot, httpsRoot *Node) error {
	doc := []nodeJSON{node2json(rsyncRoot), node2json(httpsRoot)}

	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("cachetree: marshal metadata.json: %w", err)
	}

	target := filepath.Join(dir, "metadata.json")
	tmp, err := os.CreateTemp(dir, ".metadata-*.json")
	if err != nil {
		return fmt.Errorf("cachetree: create temp metadata file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("cachetree: write temp metadata file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("cachetree: close temp metadata file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("cachetree: rename temp metadata file: %w", err)
	}
	return nil
}

// Load reads <dir>/metadata.json and reconstructs the rsync/https roots.
// A missing file is not an error: it produces two fresh empty roots (the
// cache is "a cache of a cache"). Only a structurally invalid document (not
// a JSON array at all) is fatal and produces fresh roots; a type error
// confined to one node — at any depth — drops only that node and its
// subtree, reported via warn, leaving the rest of the tree intact. Unrecognized top-level nodes are dropped with a warning.
func Load(dir string, warn warnFunc) (rsyncRoot, httpsRoot *Node) {
	if warn == nil {
		warn = func(string, ...interface{}) {}
	}

	path := filepath.Join(dir, "metadata.json")
	body, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			warn("cannot read metadata.json: %v", err)
		}
		return NewRoot(RootRsync), NewRoot(RootHTTPS)
	}

	var rawTop []json.RawMessage
	if err := json.Unmarshal(body, &rawTop); err != nil {
		warn("metadata.json is not a valid JSON array: %v", err)
		return NewRoot(RootRsync), NewRoot(RootHTTPS)
	}

	for _, rawBytes := range rawTop {
		var raw nodeJSON
		if err := json.Unmarshal(rawBytes, &raw); err != nil {
			warn("metadata.json top-level node has a type error (%v); skipping", err)
			continue
		}
		node, ok := json2node(raw, nil, warn)
		if !ok {
			continue
		}
		switch strings.ToLower(node.Basename) {
		case string(RootRsync):
			if rsyncRoot == nil {
				rsyncRoot = node
			} else {
				warn("duplicate rsync root in metadata.json; ignoring the extra copy")
			}
		case string(RootHTTPS):
			if httpsRoot == nil {
				httpsRoot = node
			} else {
				warn("duplicate https root in metadata.json; ignoring the extra copy")
			}
		default:
			warn("ignoring unrecognized top-level metadata.json node %q", node.Basename)
		}
	}

	if rsyncRoot == nil {
		rsyncRoot = NewRoot(RootRsync)
	} else {
		rsyncRoot.Basename = string(RootRsync)
	}
	if httpsRoot == nil {
		httpsRoot = NewRoot(RootHTTPS)
	} else {
		httpsRoot.Basename = string(RootHTTPS)
	}
	return rsyncRoot, httpsRoot
}
