package router

import (
	"sort"
	"strings"

	"github.com/avapigw/core/internal/config"
	"github.com/avapigw/core/internal/observability"
	"github.com/avapigw/core/internal/predicate"
)

// trieNode is one path segment of the radix trie (§4.1). Lookup prefers
// a literal child over the param child when both could match the same
// segment — a simplified, non-backtracking trie, which is sufficient
// because route authors do not mix a literal and a ":name" segment at
// the same trie position in practice.
type trieNode struct {
	literal map[string]*trieNode
	param   *trieNode

	// wildcard holds the candidates installed under a trailing "*"
	// segment at this node: it matches this node's remaining path,
	// however many segments deep.
	wildcard *routeSet
	// routes holds the candidates that terminate exactly at this node.
	routes *routeSet
}

// routeSet holds the candidates at one trie terminal, kept sorted by
// descending priority, stable on insertion order within a priority
// class (§4.1).
type routeSet struct {
	routes []*config.Route
}

func (s *routeSet) add(r *config.Route) {
	s.routes = append(s.routes, r)
	sort.SliceStable(s.routes, func(i, j int) bool {
		return s.routes[i].Priority > s.routes[j].Priority
	})
}

func newTrieNode() *trieNode {
	return &trieNode{literal: make(map[string]*trieNode)}
}

// splitPath splits a "/"-delimited path into its non-empty segments.
func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// insert adds route under one of its Paths patterns.
func (n *trieNode) insert(pattern string, route *config.Route) {
	segments := splitPath(pattern)
	cur := n

	for i, seg := range segments {
		last := i == len(segments)-1
		if last && seg == "*" {
			if cur.wildcard == nil {
				cur.wildcard = &routeSet{}
			}
			cur.wildcard.add(route)
			return
		}
		if strings.HasPrefix(seg, ":") && len(seg) > 1 {
			if cur.param == nil {
				cur.param = newTrieNode()
			}
			cur = cur.param
			continue
		}
		child, ok := cur.literal[seg]
		if !ok {
			child = newTrieNode()
			cur.literal[seg] = child
		}
		cur = child
	}

	if cur.routes == nil {
		cur.routes = &routeSet{}
	}
	cur.routes.add(route)
}

// collect walks segments from n, appending every candidate whose path
// pattern matches into out: exact/param matches at the terminal node,
// plus any wildcard candidates encountered along the way (§4.1).
func (n *trieNode) collect(segments []string, out *[]*config.Route) {
	cur := n
	for _, seg := range segments {
		if cur.wildcard != nil {
			*out = append(*out, cur.wildcard.routes...)
		}
		switch {
		case cur.literal[seg] != nil:
			cur = cur.literal[seg]
		case cur.param != nil:
			cur = cur.param
		default:
			return
		}
	}
	if cur.routes != nil {
		*out = append(*out, cur.routes.routes...)
	}
	if cur.wildcard != nil {
		*out = append(*out, cur.wildcard.routes...)
	}
}

// buildTrie inserts every path of every route into a fresh trie,
// compiling each route's filter_fun first; a route whose filter_fun
// fails to compile is skipped (logged), leaving the rest of the
// snapshot usable (§7 PredicateError).
func buildTrie(routes []*config.Route, filters *predicate.FilterEngine, logger observability.Logger) *trieNode {
	root := newTrieNode()
	for _, r := range routes {
		if r.FilterFun != "" && filters != nil {
			if err := filters.Compile(r.Name, r.FilterFun); err != nil {
				if logger != nil {
					logger.Error("skipping route with unparsable filter_fun",
						observability.String("route", r.Name),
						observability.Error(err))
				}
				continue
			}
		}
		for _, p := range r.Paths {
			root.insert(p, r)
		}
	}
	return root
}
