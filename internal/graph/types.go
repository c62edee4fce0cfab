package graph

// NodeKind identifies the kind of program entity a node represents.
type NodeKind string

const (
	NodeModule    NodeKind = "Module"
	NodeClass     NodeKind = "Class"
	NodeFunction  NodeKind = "Function"
	NodeVariable  NodeKind = "Variable"
	NodeParameter NodeKind = "Parameter"
	NodeType      NodeKind = "Type"
	NodeCallSite  NodeKind = "CallSite"
)

// EdgeKind identifies the relationship type between two nodes.
type EdgeKind string

const (
	EdgeDeclares     EdgeKind = "DECLARES"
	EdgeHasParameter EdgeKind = "HAS_PARAMETER"
	EdgeHasType      EdgeKind = "HAS_TYPE"
	EdgeReturnsType  EdgeKind = "RETURNS_TYPE"
	EdgeInherits     EdgeKind = "INHERITS"
	EdgeImports      EdgeKind = "IMPORTS"
	EdgeAssignsTo    EdgeKind = "ASSIGNS_TO"
	EdgeReadsFrom    EdgeKind = "READS_FROM"
	EdgeReferences   EdgeKind = "REFERENCES"
	EdgeHasCallSite  EdgeKind = "HAS_CALLSITE"
	EdgeResolvesTo   EdgeKind = "RESOLVES_TO"
	EdgeIsSubtypeOf  EdgeKind = "IS_SUBTYPE_OF"
	EdgeHasDecorator EdgeKind = "HAS_DECORATOR"
)

// ResolutionState is the outcome of call-site resolution. It is a sum
// type: a call site is exactly one of resolved, unresolved, or ambiguous,
// and an ambiguous site keeps its candidate set instead of guessing.
type ResolutionState string

const (
	ResolutionResolved   ResolutionState = "resolved"
	ResolutionUnresolved ResolutionState = "unresolved"
	ResolutionAmbiguous  ResolutionState = "ambiguous"
)

// Well-known node property names.
const (
	PropName          = "name"
	PropQualifiedName = "qualified_name"
	PropModule        = "module"
	PropFile          = "file"
	PropStartLine     = "start_line"
	PropEndLine       = "end_line"
	PropVisibility    = "visibility"
	PropType          = "type"
	PropReturnType    = "return_type"
	PropPosition      = "position"
	PropHasDefault    = "has_default"
	PropVariadic      = "variadic"
	PropDecorators    = "decorators"
	PropCallee        = "callee"
	PropArgCount      = "arg_count"
	PropResolution    = "resolution"
	PropCandidates    = "candidates"
	PropImports       = "imports"

	// PropUnresolvedRefs holds "EDGEKIND:target" entries for relationship
	// targets that did not exist when the node was built.
	PropUnresolvedRefs = "unresolved_refs"
)

// Location points at a region of a source file.
type Location struct {
	File      string `json:"file"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

// Node is a vertex of the property graph. Properties are an open map so
// the store adapter contract stays backend-agnostic; well-known keys are
// listed above. Changed is operational state, not a property: it never
// participates in snapshot diffs.
type Node struct {
	ID      string         `json:"id"`
	Kind    NodeKind       `json:"kind"`
	Props   map[string]any `json:"props"`
	Changed bool           `json:"changed"`
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	c := &Node{ID: n.ID, Kind: n.Kind, Changed: n.Changed}
	if n.Props != nil {
		c.Props = make(map[string]any, len(n.Props))
		for k, v := range n.Props {
			c.Props[k] = cloneValue(v)
		}
	}
	return c
}

// StringProp returns a string property, or "" when absent.
func (n *Node) StringProp(key string) string {
	if n.Props == nil {
		return ""
	}
	if s, ok := n.Props[key].(string); ok {
		return s
	}
	return ""
}

// IntProp returns an int property, or 0 when absent. JSON round-trips
// store numbers as float64, so both representations are accepted.
func (n *Node) IntProp(key string) int {
	if n.Props == nil {
		return 0
	}
	switch v := n.Props[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// BoolProp returns a bool property, or false when absent.
func (n *Node) BoolProp(key string) bool {
	if n.Props == nil {
		return false
	}
	b, _ := n.Props[key].(bool)
	return b
}

// StringsProp returns a string-slice property, or nil when absent.
func (n *Node) StringsProp(key string) []string {
	if n.Props == nil {
		return nil
	}
	switch v := n.Props[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Location reconstructs the node's source location from its properties.
func (n *Node) Location() Location {
	return Location{
		File:      n.StringProp(PropFile),
		StartLine: n.IntProp(PropStartLine),
		EndLine:   n.IntProp(PropEndLine),
	}
}

// EdgeKey is the identity of an edge. Edges carry no independent ID:
// (From, Kind, To) is the key everywhere, including diffs and storage.
type EdgeKey struct {
	From string   `json:"from"`
	Kind EdgeKind `json:"kind"`
	To   string   `json:"to"`
}

// Edge is a directed, typed relationship between two nodes.
type Edge struct {
	From  string         `json:"from"`
	Kind  EdgeKind       `json:"kind"`
	To    string         `json:"to"`
	Props map[string]any `json:"props,omitempty"`
}

// Key returns the edge's identity tuple.
func (e *Edge) Key() EdgeKey {
	return EdgeKey{From: e.From, Kind: e.Kind, To: e.To}
}

// Clone returns a deep copy of the edge.
func (e *Edge) Clone() *Edge {
	c := &Edge{From: e.From, Kind: e.Kind, To: e.To}
	if e.Props != nil {
		c.Props = make(map[string]any, len(e.Props))
		for k, v := range e.Props {
			c.Props[k] = cloneValue(v)
		}
	}
	return c
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case []string:
		out := make([]string, len(val))
		copy(out, val)
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
