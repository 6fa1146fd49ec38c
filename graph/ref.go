package graph

import (
	"regexp"
	"strconv"
	"strings"
)

// SegmentKind identifies how a path segment is applied to a value.
type SegmentKind int

const (
	// SegmentKey selects a field of a map result.
	SegmentKey SegmentKind = iota
	// SegmentIndex selects one element of an array result ("$N").
	SegmentIndex
	// SegmentFunc applies a named property function ("name(arg)").
	SegmentFunc
)

// Segment is one element of a reference's property path.
type Segment struct {
	Kind  SegmentKind
	Key   string // field name, or function name for SegmentFunc
	Index int
	Arg   string
}

func (s Segment) String() string {
	switch s.Kind {
	case SegmentIndex:
		return "$" + strconv.Itoa(s.Index)
	case SegmentFunc:
		return s.Key + "(" + s.Arg + ")"
	default:
		return s.Key
	}
}

// Ref is a parsed node input reference such as ":llm.choices.$0.message".
type Ref struct {
	NodeID string
	Path   []Segment
}

// HasPath reports whether the reference addresses a property of the source
// node's result rather than the whole result.
func (r Ref) HasPath() bool {
	return len(r.Path) > 0
}

// ArrayIndex returns the trailing positional marker, if the path ends with one.
func (r Ref) ArrayIndex() (int, bool) {
	if len(r.Path) == 0 {
		return 0, false
	}
	last := r.Path[len(r.Path)-1]
	if last.Kind != SegmentIndex {
		return 0, false
	}
	return last.Index, true
}

// PropertyPath returns the dotted property path without the node id.
func (r Ref) PropertyPath() string {
	parts := make([]string, len(r.Path))
	for i, seg := range r.Path {
		parts[i] = seg.String()
	}
	return strings.Join(parts, ".")
}

func (r Ref) String() string {
	if len(r.Path) == 0 {
		return ":" + r.NodeID
	}
	return ":" + r.NodeID + "." + r.PropertyPath()
}

// Resolve applies the reference's path to a source result.
func (r Ref) Resolve(result any) (any, bool) {
	return Evaluate(r.Path, result)
}

var funcSegment = regexp.MustCompile(`^([a-zA-Z]+)\(([^)]*)\)$`)

// ParseRef parses a reference string. The leading ':' is optional.
func ParseRef(s string) (Ref, error) {
	raw := s
	s = strings.TrimPrefix(s, ":")
	if s == "" {
		return Ref{}, &ParseError{Ref: raw, Reason: "empty reference"}
	}

	parts := strings.Split(s, ".")
	nodeID := parts[0]
	if nodeID == "" {
		return Ref{}, &ParseError{Ref: raw, Reason: "empty node id"}
	}
	if strings.ContainsAny(nodeID, "() \t\n") {
		return Ref{}, &ParseError{Ref: raw, Reason: "invalid node id " + strconv.Quote(nodeID)}
	}

	ref := Ref{NodeID: nodeID}
	for _, part := range parts[1:] {
		seg, reason := parseSegment(part)
		if reason != "" {
			return Ref{}, &ParseError{Ref: raw, Reason: reason}
		}
		ref.Path = append(ref.Path, seg)
	}
	return ref, nil
}

func parseSegment(part string) (Segment, string) {
	switch {
	case part == "":
		return Segment{}, "empty path segment"
	case strings.HasPrefix(part, "$"):
		idx, err := strconv.Atoi(part[1:])
		if err != nil || idx < 0 || strings.HasPrefix(part[1:], "+") {
			return Segment{}, "invalid array index " + strconv.Quote(part)
		}
		return Segment{Kind: SegmentIndex, Index: idx}, ""
	case strings.ContainsAny(part, "()"):
		m := funcSegment.FindStringSubmatch(part)
		if m == nil {
			return Segment{}, "malformed property function " + strconv.Quote(part)
		}
		return Segment{Kind: SegmentFunc, Key: m[1], Arg: m[2]}, ""
	default:
		return Segment{Kind: SegmentKey, Key: part}, ""
	}
}
