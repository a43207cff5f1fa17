// Package router resolves dot separated resource names to handlers.
//
// Patterns are registered on a mutable Builder during startup. Freeze turns a
// Builder into an immutable Tree that is safe for concurrent lookups without
// locking. Pattern tokens are literals, named placeholders ($id), anonymous
// placeholders (*) and a trailing full wildcard (>).
//
// Lookups prefer a literal token over a placeholder and a placeholder over a
// wildcard, depth first. A deeper branch that fails to match backtracks, so a
// wildcard registered higher up may still win.
package router

import (
	"sort"
	"strings"

	errspkg "github.com/drblury/resflow/internal/runtime/errors"
)

type node[H any] struct {
	nodes map[string]*node[H]
	param *node[H]
	wild  *node[H]

	hasHandler bool
	handler    H
	pattern    string
	captures   []capture
	group      groupTemplate
}

func (n *node[H]) literal(token string) *node[H] {
	if n.nodes == nil {
		n.nodes = make(map[string]*node[H])
	}
	c, ok := n.nodes[token]
	if !ok {
		c = &node[H]{}
		n.nodes[token] = c
	}
	return c
}

// child returns the child for token, creating it when missing.
func (n *node[H]) child(token string) *node[H] {
	switch {
	case token == tokenWildcard:
		if n.wild == nil {
			n.wild = &node[H]{}
		}
		return n.wild
	case isPlaceholder(token):
		if n.param == nil {
			n.param = &node[H]{}
		}
		return n.param
	default:
		return n.literal(token)
	}
}

// Builder collects pattern registrations. It is not safe for concurrent use.
type Builder[H any] struct {
	path       string
	pathTokens []string
	root       *node[H]

	parent *Builder[H]
	at     []string
}

// NewBuilder returns a Builder rooted at path. Every pattern added is
// prefixed with path. An invalid path is reported by the first Add or Freeze.
func NewBuilder[H any](path string) *Builder[H] {
	tokens, _ := splitTokens(path, false)
	return &Builder[H]{
		path:       path,
		pathTokens: tokens,
		root:       &node[H]{},
	}
}

// Path returns the builder path.
func (b *Builder[H]) Path() string {
	return b.path
}

func (b *Builder[H]) checkPath() error {
	_, err := splitTokens(b.path, false)
	return err
}

// Add registers handler for pattern. group is an optional template mixing
// literal text with ${name} references to placeholders; when empty the group
// is the full resource name.
func (b *Builder[H]) Add(pattern string, handler H, group string) error {
	if err := b.checkPath(); err != nil {
		return err
	}
	tokens, err := splitTokens(pattern, true)
	if err != nil {
		return err
	}
	return b.addTokens(tokens, handler, group)
}

func (b *Builder[H]) addTokens(tokens []string, handler H, group string) error {
	if b.parent != nil {
		return b.parent.addTokens(append(append([]string(nil), b.at...), tokens...), handler, group)
	}

	full := joinPattern(b.path, strings.Join(tokens, tokenSeparator))
	seen := make(map[string]bool)
	pathCaps, err := captures(full, b.pathTokens, seen)
	if err != nil {
		return err
	}
	caps, err := captures(full, tokens, seen)
	if err != nil {
		return err
	}
	tmpl, err := parseGroup(full, group)
	if err != nil {
		return err
	}
	if err := tmpl.check(full, append(pathCaps, caps...)); err != nil {
		return err
	}

	n := b.root
	for _, t := range tokens {
		n = n.child(t)
	}
	if n.hasHandler {
		return errspkg.NewConfigError(full, errspkg.ErrDuplicatePattern, "")
	}
	n.hasHandler = true
	n.handler = handler
	n.pattern = strings.Join(tokens, tokenSeparator)
	n.captures = caps
	n.group = tmpl
	return nil
}

// Mount grafts the patterns of sub at subpattern followed by the path of sub,
// so a sub-router at "y" mounted at "x" serves "x.y.<pattern>". Either part may
// be empty, not both. Patterns added to sub after mounting are forwarded to b.
// A builder can only be mounted once, and a failed mount leaves b unchanged.
func (b *Builder[H]) Mount(subpattern string, sub *Builder[H]) error {
	if sub == nil {
		return errspkg.NewConfigError(subpattern, errspkg.ErrMountConflict, "nil router")
	}
	if sub.parent != nil {
		return errspkg.NewConfigError(sub.path, errspkg.ErrAlreadyMounted, "")
	}
	for p := b; p != nil; p = p.parent {
		if p == sub {
			return errspkg.NewConfigError(sub.path, errspkg.ErrMountConflict, "router mounted onto itself")
		}
	}
	if err := sub.checkPath(); err != nil {
		return err
	}
	mountPath := joinPattern(subpattern, sub.path)
	if mountPath == "" {
		return errspkg.NewConfigError("", errspkg.ErrMountConflict, "mount path required")
	}
	return b.mount(mountPath, sub)
}

// mount grafts sub at mountPath, relative to the path of b.
func (b *Builder[H]) mount(mountPath string, sub *Builder[H]) error {
	if err := b.checkPath(); err != nil {
		return err
	}
	tokens, err := splitTokens(mountPath, false)
	if err != nil {
		return err
	}
	if b.parent != nil {
		return b.parent.mount(joinPattern(strings.Join(b.at, tokenSeparator), mountPath), sub)
	}

	full := joinPattern(b.path, mountPath)
	seen := make(map[string]bool)
	pathCaps, err := captures(full, b.pathTokens, seen)
	if err != nil {
		return err
	}
	mountCaps, err := captures(full, tokens, seen)
	if err != nil {
		return err
	}

	g := grafting{offset: len(tokens), prefix: mountCaps, pattern: mountPath, extra: pathCaps}
	dst := b.root
	for _, t := range tokens {
		dst = dst.peek(t)
	}
	g.dry = true
	if err := graft(g, dst, sub.root); err != nil {
		return err
	}

	dst = b.root
	for _, t := range tokens {
		dst = dst.child(t)
	}
	g.dry = false
	if err := graft(g, dst, sub.root); err != nil {
		return err
	}
	sub.parent = b
	sub.at = tokens
	return nil
}

// peek returns the existing child for token, or nil. n may be nil.
func (n *node[H]) peek(token string) *node[H] {
	switch {
	case n == nil:
		return nil
	case token == tokenWildcard:
		return n.wild
	case isPlaceholder(token):
		return n.param
	default:
		return n.nodes[token]
	}
}

// grafting merges a source trie into a destination node. Capture indices of
// the source are shifted by offset and the prefix captures are prepended.
// extra lists captures known above the destination that group templates may
// also refer to. A dry run only reports conflicts: dst may be nil and nothing
// is created or written.
type grafting struct {
	offset  int
	prefix  []capture
	pattern string
	extra   []capture
	dry     bool
}

func graft[H any](g grafting, dst, src *node[H]) error {
	if src.hasHandler {
		full := joinPattern(g.pattern, src.pattern)
		if dst != nil && dst.hasHandler {
			return errspkg.NewConfigError(full, errspkg.ErrDuplicatePattern, "")
		}
		caps := make([]capture, 0, len(g.prefix)+len(src.captures))
		caps = append(caps, g.prefix...)
		seen := make(map[string]bool, len(caps)+len(g.extra))
		for _, c := range g.extra {
			seen[c.name] = true
		}
		for _, c := range g.prefix {
			seen[c.name] = true
		}
		for _, c := range src.captures {
			if seen[c.name] {
				return errspkg.NewConfigError(full, errspkg.ErrDuplicatePlaceholder, c.name)
			}
			seen[c.name] = true
			caps = append(caps, capture{name: c.name, idx: c.idx + g.offset})
		}
		if err := src.group.check(full, append(append([]capture(nil), g.extra...), caps...)); err != nil {
			return err
		}
		if !g.dry {
			dst.hasHandler = true
			dst.handler = src.handler
			dst.pattern = full
			dst.captures = caps
			dst.group = src.group
		}
	}

	next := func(token string, create func() *node[H]) *node[H] {
		if g.dry {
			return dst.peek(token)
		}
		return create()
	}
	for token, c := range src.nodes {
		if err := graft(g, next(token, func() *node[H] { return dst.literal(token) }), c); err != nil {
			return err
		}
	}
	if src.param != nil {
		if err := graft(g, next(tokenAnonymous, func() *node[H] { return dst.child(tokenAnonymous) }), src.param); err != nil {
			return err
		}
	}
	if src.wild != nil {
		if err := graft(g, next(tokenWildcard, func() *node[H] { return dst.child(tokenWildcard) }), src.wild); err != nil {
			return err
		}
	}
	return nil
}

// Freeze copies the registrations into an immutable Tree. A mounted builder
// cannot be frozen; freeze the root builder instead.
func (b *Builder[H]) Freeze() (*Tree[H], error) {
	if b.parent != nil {
		return nil, errspkg.NewConfigError(b.path, errspkg.ErrAlreadyMounted, "freeze the root router")
	}
	if err := b.checkPath(); err != nil {
		return nil, err
	}
	pathCaps, err := captures(b.path, b.pathTokens, make(map[string]bool))
	if err != nil {
		return nil, err
	}
	root := &node[H]{}
	dst := root
	for _, t := range b.pathTokens {
		dst = dst.child(t)
	}
	g := grafting{offset: len(b.pathTokens), prefix: pathCaps, pattern: b.path}
	if err := graft(g, dst, b.root); err != nil {
		return nil, err
	}
	return &Tree[H]{root: root, path: b.path}, nil
}

// Match is the result of resolving a resource name.
type Match[H any] struct {
	Handler H
	Params  map[string]string
	Group   string
	Pattern string
}

// Tree is an immutable pattern trie.
type Tree[H any] struct {
	root *node[H]
	path string
}

// Path returns the path of the builder the tree was frozen from.
func (t *Tree[H]) Path() string {
	return t.path
}

// Resolve finds the handler registered for the resource name.
func (t *Tree[H]) Resolve(name string) (Match[H], bool) {
	if name == "" {
		return Match[H]{}, false
	}
	tokens := strings.Split(name, tokenSeparator)
	for _, tok := range tokens {
		if tok == "" {
			return Match[H]{}, false
		}
	}
	n := match(t.root, tokens, 0)
	if n == nil {
		return Match[H]{}, false
	}

	var params map[string]string
	if len(n.captures) > 0 {
		params = make(map[string]string, len(n.captures))
		for _, c := range n.captures {
			params[c.name] = tokens[c.idx]
		}
	}
	return Match[H]{
		Handler: n.handler,
		Params:  params,
		Group:   n.group.render(name, params),
		Pattern: n.pattern,
	}, true
}

func match[H any](n *node[H], tokens []string, i int) *node[H] {
	if i == len(tokens) {
		if n.hasHandler {
			return n
		}
		return nil
	}
	if c, ok := n.nodes[tokens[i]]; ok {
		if l := match(c, tokens, i+1); l != nil {
			return l
		}
	}
	if n.param != nil {
		if l := match(n.param, tokens, i+1); l != nil {
			return l
		}
	}
	if n.wild != nil && n.wild.hasHandler {
		return n.wild
	}
	return nil
}

// Contains reports whether any registered handler satisfies pred.
func (t *Tree[H]) Contains(pred func(H) bool) bool {
	return contains(t.root, pred)
}

func contains[H any](n *node[H], pred func(H) bool) bool {
	if n.hasHandler && pred(n.handler) {
		return true
	}
	for _, c := range n.nodes {
		if contains(c, pred) {
			return true
		}
	}
	if n.param != nil && contains(n.param, pred) {
		return true
	}
	return n.wild != nil && contains(n.wild, pred)
}

// Patterns returns every registered pattern in sorted order.
func (t *Tree[H]) Patterns() []string {
	var out []string
	t.Each(func(pattern string, _ H) {
		out = append(out, pattern)
	})
	return out
}

// Each calls fn for every registration in pattern order.
func (t *Tree[H]) Each(fn func(pattern string, handler H)) {
	var leaves []*node[H]
	collect(t.root, &leaves)
	sort.Slice(leaves, func(i, j int) bool { return leaves[i].pattern < leaves[j].pattern })
	for _, n := range leaves {
		fn(n.pattern, n.handler)
	}
}

func collect[H any](n *node[H], out *[]*node[H]) {
	if n.hasHandler {
		*out = append(*out, n)
	}
	for _, c := range n.nodes {
		collect(c, out)
	}
	if n.param != nil {
		collect(n.param, out)
	}
	if n.wild != nil {
		collect(n.wild, out)
	}
}
