package registrar

import (
	"fmt"
	"sort"

	"github.com/rmacdonaldsmith/rosnode-go/pkg/rpc"
)

// NodeSet is a set of node names.
type NodeSet map[string]struct{}

// NewNodeSet builds a set from names.
func NewNodeSet(names ...string) NodeSet {
	s := make(NodeSet, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// Sorted returns the names in lexical order.
func (s NodeSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Graph is the bus topology: topic (or service) name to the nodes attached.
type Graph struct {
	Publishers  map[string]NodeSet
	Subscribers map[string]NodeSet
	Services    map[string]NodeSet
}

// ParseSystemState decodes a getSystemState payload, which is exactly three
// lists of [name, [node...]] entries.
func ParseSystemState(value any) (*Graph, error) {
	tables, ok := rpc.AsList(value)
	if !ok || len(tables) != 3 {
		return nil, fmt.Errorf("%w: system state must be a 3-element list, got %v", ErrProtocol, value)
	}

	parsed := make([]map[string]NodeSet, 3)
	for i, table := range tables {
		m, err := parseTable(table)
		if err != nil {
			return nil, err
		}
		parsed[i] = m
	}

	return &Graph{
		Publishers:  parsed[0],
		Subscribers: parsed[1],
		Services:    parsed[2],
	}, nil
}

func parseTable(table any) (map[string]NodeSet, error) {
	entries, ok := rpc.AsList(table)
	if !ok {
		return nil, fmt.Errorf("%w: system state table must be a list, got %v", ErrProtocol, table)
	}
	out := make(map[string]NodeSet, len(entries))
	for _, entry := range entries {
		pair, ok := rpc.AsList(entry)
		if !ok || len(pair) != 2 {
			return nil, fmt.Errorf("%w: bad system state entry %v", ErrProtocol, entry)
		}
		name, ok := rpc.AsString(pair[0])
		if !ok {
			return nil, fmt.Errorf("%w: bad system state name %v", ErrProtocol, pair[0])
		}
		nodes, ok := rpc.AsStringList(pair[1])
		if !ok {
			return nil, fmt.Errorf("%w: bad node list for %s: %v", ErrProtocol, name, pair[1])
		}
		out[name] = NewNodeSet(nodes...)
	}
	return out, nil
}
