package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// ModuleID returns the stable graph id for a module.
func ModuleID(module string) string {
	return stableID(KindModule, module, module)
}

// NodeID returns the stable graph id for an extracted entity. The id is
// derived from the entity's logical identity (kind, owning module,
// qualified name) rather than its full contents, so re-indexing an edited
// entity keeps its id and shows up as a modification in diffs instead of
// a delete plus add. Call sites additionally key on their start line:
// each textual call expression is its own node.
func NodeID(module string, e RawEntity) string {
	qname := strings.TrimSpace(e.QualifiedName)
	if qname == "" {
		qname = module + "." + strings.TrimSpace(e.Name)
	}

	identity := qname
	if e.Kind == KindCallSite {
		identity = fmt.Sprintf("%s@%s:%d", qname, e.Location.File, e.Location.StartLine)
	}

	return stableID(e.Kind, module, identity)
}

func stableID(kind, module, identity string) string {
	fingerprint := strings.Join([]string{
		canonicalize(kind),
		canonicalize(module),
		canonicalize(identity),
	}, "|")

	sum := sha256.Sum256([]byte(fingerprint))
	short := hex.EncodeToString(sum[:8])
	return fmt.Sprintf("%s/%s:%s", kind, identity, short)
}

func canonicalize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "_"
	}
	return whitespaceRe.ReplaceAllString(s, " ")
}
