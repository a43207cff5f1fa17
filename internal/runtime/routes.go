package runtime

import (
	errspkg "github.com/drblury/resflow/internal/runtime/errors"
	"github.com/drblury/resflow/internal/runtime/router"
)

// Router registers resource handlers under a path. A Router created with
// NewRouter can be mounted onto a Service or onto another Router.
type Router struct {
	b *router.Builder[*Handler]
}

// NewRouter returns a Router whose patterns are all rooted at path.
func NewRouter(path string) *Router {
	return &Router{b: router.NewBuilder[*Handler](path)}
}

// Path returns the router path.
func (r *Router) Path() string {
	return r.b.Path()
}

// Handle registers a handler built from opts for pattern.
func (r *Router) Handle(pattern string, opts ...HandlerOption) error {
	h := &Handler{}
	h.Option(opts...)
	return r.AddHandler(pattern, h)
}

// AddHandler registers h for pattern. A handler without request handlers
// can still be used with Service.With to send events.
func (r *Router) AddHandler(pattern string, h *Handler) error {
	if h == nil {
		return errspkg.NewConfigError(pattern, errspkg.ErrHandlerRequired, "")
	}
	return r.b.Add(pattern, h, h.Group)
}

// Mount grafts sub at subpattern joined with the path of sub.
func (r *Router) Mount(subpattern string, sub *Router) error {
	if sub == nil {
		return errspkg.NewConfigError(subpattern, errspkg.ErrMountConflict, "nil router")
	}
	return r.b.Mount(subpattern, sub.b)
}
