package topics

import (
	"sort"
	"strings"
)

// Topic level syntax.
const (
	levelSeparator      = "/"
	singleLevelWildcard = "+"
	multiLevelWildcard  = "#"
)

// Handler is the callback signature for messages routed through a Trie.
//
// Handlers receive the concrete topic the message arrived on (wildcards
// expanded) and the raw payload.
type Handler func(topic string, payload []byte)

// node is a single level of the subscription trie. A node carries a handler
// only when some registered filter terminates at it; intermediate nodes
// exist purely to reach deeper filters.
type node struct {
	children   map[string]*node
	handler    Handler
	hasHandler bool
}

func newNode() *node {
	return &node{children: make(map[string]*node)}
}

// Trie maps MQTT topic filters to handlers and routes incoming topic names
// to the handler of the most specific matching filter.
//
// Lookup precedence at every level is exact match, then '#', then '+'.
// At most one handler is kept per exact filter string: inserting the same
// filter twice overwrites the previous handler.
//
// Trie is not safe for concurrent use; callers serialise access (the
// session client only touches its trie from its command loop).
type Trie struct {
	root *node
	size int
}

// NewTrie returns an empty subscription trie.
func NewTrie() *Trie {
	return &Trie{root: newNode()}
}

// Insert registers handler under filter, creating intermediate levels as
// needed. Inserting an already-registered filter replaces its handler.
func (t *Trie) Insert(filter string, handler Handler) {
	current := t.root
	for _, level := range strings.Split(filter, levelSeparator) {
		child, ok := current.children[level]
		if !ok {
			child = newNode()
			current.children[level] = child
		}
		current = child
	}
	if !current.hasHandler {
		t.size++
	}
	current.handler = handler
	current.hasHandler = true
}

// Remove deletes the handler registered under the exact filter string.
// Removing an unregistered filter is a no-op. Intermediate nodes are never
// pruned: they may be shared with sibling filters.
func (t *Trie) Remove(filter string) {
	levels := strings.Split(filter, levelSeparator)

	parent := t.root
	current := t.root
	last := ""
	for _, level := range levels {
		child, ok := current.children[level]
		if !ok {
			return
		}
		parent = current
		current = child
		last = level
	}

	if !current.hasHandler {
		return
	}
	current.handler = nil
	current.hasHandler = false
	t.size--

	// The terminal node itself can go if nothing deeper hangs off it.
	if len(current.children) == 0 {
		delete(parent.children, last)
	}
}

// Lookup returns the handler for the most specific filter matching topic.
//
// Descent is one segment at a time: an exact child is preferred, then a
// '#' child (which matches all remaining levels and ends the descent),
// then a '+' child. The second return value is false when no registered
// filter matches.
func (t *Trie) Lookup(topic string) (Handler, bool) {
	current := t.root
	for _, level := range strings.Split(topic, levelSeparator) {
		if child, ok := current.children[level]; ok {
			current = child
			continue
		}
		if child, ok := current.children[multiLevelWildcard]; ok && child.hasHandler {
			return child.handler, true
		}
		if child, ok := current.children[singleLevelWildcard]; ok {
			current = child
			continue
		}
		return nil, false
	}

	if current.hasHandler {
		return current.handler, true
	}
	// "a/#" also matches the parent "a" itself.
	if child, ok := current.children[multiLevelWildcard]; ok && child.hasHandler {
		return child.handler, true
	}
	return nil, false
}

// Filters returns every registered filter string in lexical order.
//
// The session client uses this to replay subscriptions after a reconnect.
func (t *Trie) Filters() []string {
	var out []string
	var walk func(n *node, prefix []string)
	walk = func(n *node, prefix []string) {
		if n.hasHandler {
			out = append(out, strings.Join(prefix, levelSeparator))
		}
		for level, child := range n.children {
			walk(child, append(prefix, level))
		}
	}
	walk(t.root, nil)
	sort.Strings(out)
	return out
}

// Len returns the number of registered filters.
func (t *Trie) Len() int {
	return t.size
}
