package router

import (
	"strings"

	errspkg "github.com/drblury/resflow/internal/runtime/errors"
)

const (
	tokenSeparator  = "."
	tokenWildcard   = ">"
	tokenAnonymous  = "*"
	placeholderSign = '$'
)

// capture maps a placeholder name to the index of the resource name token
// holding its value.
type capture struct {
	name string
	idx  int
}

// splitTokens parses a pattern into validated tokens. An empty pattern yields
// no tokens. When allowWildcard is false a '>' token is rejected.
func splitTokens(pattern string, allowWildcard bool) ([]string, error) {
	if pattern == "" {
		return nil, nil
	}
	tokens := strings.Split(pattern, tokenSeparator)
	for i, t := range tokens {
		switch {
		case t == "":
			return nil, errspkg.NewConfigError(pattern, errspkg.ErrInvalidPattern, "empty token")
		case t == tokenWildcard:
			if !allowWildcard {
				return nil, errspkg.NewConfigError(pattern, errspkg.ErrMountConflict, "full wildcard not allowed in a path")
			}
			if i != len(tokens)-1 {
				return nil, errspkg.NewConfigError(pattern, errspkg.ErrInvalidPattern, "'>' must be the last token")
			}
		case t == tokenAnonymous:
		case t[0] == placeholderSign:
			if len(t) == 1 {
				return nil, errspkg.NewConfigError(pattern, errspkg.ErrInvalidPattern, "placeholder without name")
			}
			if strings.ContainsAny(t[1:], "$*>{}") {
				return nil, errspkg.NewConfigError(pattern, errspkg.ErrInvalidPattern, "invalid placeholder name "+t)
			}
		default:
			if strings.ContainsAny(t, "$*>") {
				return nil, errspkg.NewConfigError(pattern, errspkg.ErrInvalidPattern, "invalid token "+t)
			}
		}
	}
	return tokens, nil
}

func isPlaceholder(token string) bool {
	return token == tokenAnonymous || token[0] == placeholderSign
}

// captures returns the named placeholders of tokens, failing on duplicate
// names. seen carries names already claimed by a prefix and is updated.
func captures(pattern string, tokens []string, seen map[string]bool) ([]capture, error) {
	var caps []capture
	for i, t := range tokens {
		if t[0] != placeholderSign {
			continue
		}
		name := t[1:]
		if seen[name] {
			return nil, errspkg.NewConfigError(pattern, errspkg.ErrDuplicatePlaceholder, name)
		}
		seen[name] = true
		caps = append(caps, capture{name: name, idx: i})
	}
	return caps, nil
}

func joinPattern(parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(tokenSeparator)
		}
		b.WriteString(p)
	}
	return b.String()
}

// groupPart is either a literal fragment or a ${name} reference.
type groupPart struct {
	literal string
	param   string
}

// groupTemplate renders the group id of a match. A nil template means the
// full resource name.
type groupTemplate []groupPart

func parseGroup(pattern, group string) (groupTemplate, error) {
	if group == "" {
		return nil, nil
	}
	var (
		tmpl groupTemplate
		lit  strings.Builder
	)
	for i := 0; i < len(group); i++ {
		c := group[i]
		if c != placeholderSign || i+1 >= len(group) || group[i+1] != '{' {
			lit.WriteByte(c)
			continue
		}
		end := strings.IndexByte(group[i+2:], '}')
		if end < 0 {
			return nil, errspkg.NewConfigError(pattern, errspkg.ErrInvalidGroup, "unterminated ${ in "+group)
		}
		name := group[i+2 : i+2+end]
		if name == "" {
			return nil, errspkg.NewConfigError(pattern, errspkg.ErrInvalidGroup, "empty reference in "+group)
		}
		if lit.Len() > 0 {
			tmpl = append(tmpl, groupPart{literal: lit.String()})
			lit.Reset()
		}
		tmpl = append(tmpl, groupPart{param: name})
		i += end + 2
	}
	if lit.Len() > 0 {
		tmpl = append(tmpl, groupPart{literal: lit.String()})
	}
	return tmpl, nil
}

// check verifies that every reference names a captured placeholder.
func (g groupTemplate) check(pattern string, caps []capture) error {
	for _, p := range g {
		if p.param == "" {
			continue
		}
		found := false
		for _, c := range caps {
			if c.name == p.param {
				found = true
				break
			}
		}
		if !found {
			return errspkg.NewConfigError(pattern, errspkg.ErrInvalidGroup, "unknown placeholder ${"+p.param+"}")
		}
	}
	return nil
}

func (g groupTemplate) render(name string, params map[string]string) string {
	if g == nil {
		return name
	}
	var b strings.Builder
	for _, p := range g {
		if p.param != "" {
			b.WriteString(params[p.param])
		} else {
			b.WriteString(p.literal)
		}
	}
	return b.String()
}
