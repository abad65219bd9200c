// Package router dispatches requests against a radix trie of routes.
//
// Routes are inserted by path segment: literal segments, a single
// ":name" parameter segment, or a trailing "*" wildcard. Each trie
// terminal holds its candidates ordered by descending priority. Dispatch
// walks the trie for a request URI, then filters the candidates in
// order by method, host, remote_addr, vars predicates, and a CEL
// filter_fun, running the first one that matches.
//
// The trie is rebuilt from a config.RouteSnapshot only when its
// conf_version advances, and installed behind an atomic pointer so a
// concurrent Dispatch always sees either the old trie or the new one,
// never a partially built one.
//
// # Usage
//
//	rt := router.New(filterEngine, defaultHandler, metrics, logger)
//	rt.Rebuild(snapshot)
//	matched, err := rt.Dispatch(uri, router.DispatchOptions{Method: "GET"}, ctx)
package router
