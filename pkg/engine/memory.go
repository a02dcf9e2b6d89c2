package engine

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// memoryEngineVersion is reported by Version().
const memoryEngineVersion = "memgraph-0.1.0"

// Node is a graph node stored by MemoryEngine.
type Node struct {
	ID         string         `json:"id"`
	Labels     []string       `json:"labels"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Edge is a directed relationship between two nodes.
type Edge struct {
	ID         string         `json:"id"`
	StartNode  string         `json:"start_node"`
	EndNode    string         `json:"end_node"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
}

// memorySnapshot is the engine-private snapshot payload. Callers treat it as
// opaque bytes; only MemoryEngine reads or writes this shape.
type memorySnapshot struct {
	Nodes  []*Node `json:"nodes"`
	Edges  []*Edge `json:"edges"`
	NextID int64   `json:"next_id"`
}

// MemoryEngine is a small in-memory graph engine implementing the Engine
// contract. It understands a deliberately tiny statement surface:
//
//	CREATE (n:Label {k: 'v', ...})
//	CREATE (a:L {..})-[:TYPE]->(b:M {..})
//	MERGE  (n:Label {k: 'v', ...})
//	MATCH  (n[:Label]) RETURN n
//	MATCH  (n[:Label]) RETURN count(n)
//	MATCH  (n[:Label]) DELETE n
//
// Anything else fails with an engine error. Full query-language semantics
// live in real engines behind the same interface; this implementation exists
// so the module and its CLI run self-contained.
type MemoryEngine struct {
	mu     sync.RWMutex
	nodes  map[string]*Node
	edges  map[string]*Edge
	nextID int64
}

// NewMemoryEngine creates an empty in-memory engine.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{
		nodes:  make(map[string]*Node),
		edges:  make(map[string]*Edge),
		nextID: 1,
	}
}

// MemoryFactory constructs MemoryEngine instances. It is the default factory
// used by the orchestrator when none is supplied.
type MemoryFactory struct{}

// Open returns a fresh empty engine.
func (MemoryFactory) Open() (Engine, error) {
	return NewMemoryEngine(), nil
}

// FromSnapshot restores an engine from snapshot bytes.
func (MemoryFactory) FromSnapshot(data []byte) (Engine, error) {
	var snap memorySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	eng := NewMemoryEngine()
	for _, n := range snap.Nodes {
		eng.nodes[n.ID] = n
	}
	for _, e := range snap.Edges {
		eng.edges[e.ID] = e
	}
	if snap.NextID > 0 {
		eng.nextID = snap.NextID
	}
	return eng, nil
}

// Execute runs a statement and returns its rows.
func (m *MemoryEngine) Execute(query string) ([]Row, error) {
	res, err := m.ExecuteRaw(query)
	if err != nil {
		return nil, err
	}
	rows := make([]Row, len(res.Rows))
	for i, r := range res.Rows {
		rows[i] = Row(r)
	}
	return rows, nil
}

// ExecuteRaw runs a statement and returns the tabular result.
func (m *MemoryEngine) ExecuteRaw(query string) (*RawResult, error) {
	stmt := strings.TrimSpace(query)
	if stmt == "" {
		return nil, fmt.Errorf("empty query")
	}

	first := strings.ToUpper(firstWord(stmt))
	switch first {
	case "CREATE":
		return m.execCreate(stmt, false)
	case "MERGE":
		return m.execCreate(stmt, true)
	case "MATCH":
		return m.execMatch(stmt)
	default:
		return nil, fmt.Errorf("unsupported statement: %s", first)
	}
}

// ExecuteWithLanguage runs a statement in the named language. Only "cypher"
// is understood.
func (m *MemoryEngine) ExecuteWithLanguage(query, language string) ([]Row, error) {
	if !strings.EqualFold(language, "cypher") {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, language)
	}
	return m.Execute(query)
}

// NodeCount returns the number of stored nodes.
func (m *MemoryEngine) NodeCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.nodes)
}

// EdgeCount returns the number of stored edges.
func (m *MemoryEngine) EdgeCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.edges)
}

// Schema describes the labels and relationship types in the graph.
func (m *MemoryEngine) Schema() (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	labels := make(map[string]int)
	for _, n := range m.nodes {
		for _, l := range n.Labels {
			labels[l]++
		}
	}
	relTypes := make(map[string]int)
	for _, e := range m.edges {
		relTypes[e.Type]++
	}
	return map[string]any{
		"labels":            labels,
		"relationshipTypes": relTypes,
		"nodeCount":         len(m.nodes),
		"edgeCount":         len(m.edges),
	}, nil
}

// ExportSnapshot serializes the full graph state.
func (m *MemoryEngine) ExportSnapshot() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := memorySnapshot{
		Nodes:  make([]*Node, 0, len(m.nodes)),
		Edges:  make([]*Edge, 0, len(m.edges)),
		NextID: m.nextID,
	}
	for _, n := range m.nodes {
		snap.Nodes = append(snap.Nodes, n)
	}
	for _, e := range m.edges {
		snap.Edges = append(snap.Edges, e)
	}
	return json.Marshal(&snap)
}

// Release drops all state.
func (m *MemoryEngine) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes = nil
	m.edges = nil
}

// Version reports the engine version string.
func (m *MemoryEngine) Version() string {
	return memoryEngineVersion
}

// ----------------------------------------------------------------------------
// Statement execution
// ----------------------------------------------------------------------------

// execCreate handles CREATE and MERGE statements.
func (m *MemoryEngine) execCreate(stmt string, merge bool) (*RawResult, error) {
	body := strings.TrimSpace(stmt[len(firstWord(stmt)):])

	// Relationship pattern: (a...)-[:TYPE]->(b...)
	if !merge && strings.Contains(body, ")-[") {
		return m.execCreateEdge(body)
	}

	labels, props, err := parseNodePattern(body)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if merge {
		if found := m.findNodeLocked(labels, props); found != nil {
			return &RawResult{Columns: []string{"id"}, Rows: [][]any{{found.ID}}}, nil
		}
	}
	node := m.createNodeLocked(labels, props)
	return &RawResult{Columns: []string{"id"}, Rows: [][]any{{node.ID}}}, nil
}

// execCreateEdge handles CREATE (a)-[:TYPE]->(b), creating both endpoint
// nodes and the connecting edge.
func (m *MemoryEngine) execCreateEdge(body string) (*RawResult, error) {
	left, rest, ok := strings.Cut(body, "-[")
	if !ok {
		return nil, fmt.Errorf("malformed relationship pattern")
	}
	relPart, right, ok := strings.Cut(rest, "]->")
	if !ok {
		return nil, fmt.Errorf("malformed relationship pattern: missing ]->")
	}
	relType := strings.TrimPrefix(strings.TrimSpace(relPart), ":")
	if relType == "" {
		return nil, fmt.Errorf("relationship type required")
	}

	leftLabels, leftProps, err := parseNodePattern(left)
	if err != nil {
		return nil, err
	}
	rightLabels, rightProps, err := parseNodePattern(right)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	src := m.createNodeLocked(leftLabels, leftProps)
	dst := m.createNodeLocked(rightLabels, rightProps)
	edge := &Edge{
		ID:        m.allocIDLocked("e"),
		StartNode: src.ID,
		EndNode:   dst.ID,
		Type:      relType,
	}
	m.edges[edge.ID] = edge
	return &RawResult{
		Columns: []string{"id"},
		Rows:    [][]any{{edge.ID}},
	}, nil
}

// execMatch handles MATCH (n[:Label]) RETURN n | RETURN count(n) | DELETE n.
func (m *MemoryEngine) execMatch(stmt string) (*RawResult, error) {
	body := strings.TrimSpace(stmt[len("MATCH"):])

	end := strings.Index(body, ")")
	if !strings.HasPrefix(body, "(") || end < 0 {
		return nil, fmt.Errorf("malformed match pattern")
	}
	labels, props, err := parseNodePattern(body[:end+1])
	if err != nil {
		return nil, err
	}
	tail := strings.TrimSpace(body[end+1:])
	upperTail := strings.ToUpper(tail)

	m.mu.Lock()
	defer m.mu.Unlock()

	matched := m.matchNodesLocked(labels, props)

	switch {
	case strings.HasPrefix(upperTail, "RETURN COUNT("):
		return &RawResult{
			Columns: []string{"count"},
			Rows:    [][]any{{len(matched)}},
		}, nil
	case strings.HasPrefix(upperTail, "RETURN"):
		rows := make([][]any, 0, len(matched))
		for _, n := range matched {
			rows = append(rows, []any{map[string]any{
				"id":         n.ID,
				"labels":     n.Labels,
				"properties": n.Properties,
			}})
		}
		return &RawResult{Columns: []string{"n"}, Rows: rows}, nil
	case strings.HasPrefix(upperTail, "DELETE"):
		for _, n := range matched {
			delete(m.nodes, n.ID)
			for id, e := range m.edges {
				if e.StartNode == n.ID || e.EndNode == n.ID {
					delete(m.edges, id)
				}
			}
		}
		return &RawResult{
			Columns: []string{"deleted"},
			Rows:    [][]any{{len(matched)}},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported match tail: %s", tail)
	}
}

func (m *MemoryEngine) createNodeLocked(labels []string, props map[string]any) *Node {
	node := &Node{
		ID:         m.allocIDLocked("n"),
		Labels:     labels,
		Properties: props,
	}
	m.nodes[node.ID] = node
	return node
}

func (m *MemoryEngine) allocIDLocked(prefix string) string {
	id := prefix + strconv.FormatInt(m.nextID, 10)
	m.nextID++
	return id
}

// matchNodesLocked returns nodes carrying all given labels and property
// values. Empty labels/props match everything.
func (m *MemoryEngine) matchNodesLocked(labels []string, props map[string]any) []*Node {
	var out []*Node
	for _, n := range m.nodes {
		if nodeMatches(n, labels, props) {
			out = append(out, n)
		}
	}
	return out
}

func (m *MemoryEngine) findNodeLocked(labels []string, props map[string]any) *Node {
	for _, n := range m.nodes {
		if nodeMatches(n, labels, props) {
			return n
		}
	}
	return nil
}

func nodeMatches(n *Node, labels []string, props map[string]any) bool {
	for _, want := range labels {
		found := false
		for _, l := range n.Labels {
			if strings.EqualFold(l, want) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for k, v := range props {
		if n.Properties[k] != v {
			return false
		}
	}
	return true
}

// ----------------------------------------------------------------------------
// Pattern parsing
// ----------------------------------------------------------------------------

// parseNodePattern parses "(var:Label1:Label2 {k: 'v', n: 1})" into labels
// and properties. Variable name and both segments are optional.
func parseNodePattern(pattern string) ([]string, map[string]any, error) {
	s := strings.TrimSpace(pattern)
	if !strings.HasPrefix(s, "(") || !strings.HasSuffix(s, ")") {
		return nil, nil, fmt.Errorf("malformed node pattern: %s", pattern)
	}
	s = strings.TrimSpace(s[1 : len(s)-1])

	var propsPart string
	if idx := strings.Index(s, "{"); idx >= 0 {
		if !strings.HasSuffix(s, "}") {
			return nil, nil, fmt.Errorf("malformed property map: %s", pattern)
		}
		propsPart = s[idx+1 : len(s)-1]
		s = strings.TrimSpace(s[:idx])
	}

	var labels []string
	parts := strings.Split(s, ":")
	// parts[0] is the variable name, ignored.
	for _, p := range parts[1:] {
		if p = strings.TrimSpace(p); p != "" {
			labels = append(labels, p)
		}
	}

	props, err := parseProps(propsPart)
	if err != nil {
		return nil, nil, err
	}
	return labels, props, nil
}

// parseProps parses "k: 'v', n: 1, flag: true" into a property map. Values
// may be single- or double-quoted strings, integers, floats, or booleans.
func parseProps(s string) (map[string]any, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	props := make(map[string]any)
	for _, pair := range splitTopLevel(s, ',') {
		key, val, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("malformed property: %s", pair)
		}
		key = strings.TrimSpace(key)
		v, err := parseValue(strings.TrimSpace(val))
		if err != nil {
			return nil, err
		}
		props[key] = v
	}
	return props, nil
}

func parseValue(s string) (any, error) {
	switch {
	case s == "":
		return nil, fmt.Errorf("empty property value")
	case len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0]:
		return s[1 : len(s)-1], nil
	case s == "true":
		return true, nil
	case s == "false":
		return false, nil
	case s == "null":
		return nil, nil
	}
	// All numerics are stored as float64, matching what a JSON snapshot
	// round trip restores, so property comparisons hold across reopen.
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, nil
	}
	return nil, fmt.Errorf("unsupported property value: %s", s)
}

// splitTopLevel splits on sep outside quoted strings.
func splitTopLevel(s string, sep byte) []string {
	var out []string
	var quote byte
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == sep:
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func firstWord(s string) string {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '(' {
			return s[:i]
		}
	}
	return s
}
