package runtime

// Capability is the set of request kinds a handler serves. It is declared by
// the handler, never inferred.
type Capability uint8

const (
	CapAccess Capability = 1 << iota
	CapGet
	CapCall
	CapAuth
)

// Has reports whether all of the flags in f are set.
func (c Capability) Has(f Capability) bool {
	return c&f == f
}

func (c Capability) String() string {
	if c == 0 {
		return "none"
	}
	var out string
	for _, f := range []struct {
		cap  Capability
		name string
	}{{CapAccess, "access"}, {CapGet, "get"}, {CapCall, "call"}, {CapAuth, "auth"}} {
		if c.Has(f.cap) {
			if out != "" {
				out += "|"
			}
			out += f.name
		}
	}
	return out
}

// ResourceType tells whether a resource is a model or a collection.
type ResourceType uint8

const (
	TypeUnset ResourceType = iota
	TypeModel
	TypeCollection
)

func (t ResourceType) String() string {
	switch t {
	case TypeModel:
		return "model"
	case TypeCollection:
		return "collection"
	default:
		return "unset"
	}
}

type (
	AccessHandler func(r *AccessRequest)
	GetHandler    func(r *GetRequest)
	CallHandler   func(r *CallRequest)
	AuthHandler   func(r *AuthRequest)

	// ApplyChangeHandler updates the resource with changes and returns the
	// values the changed keys had before. Keys missing from the returned map
	// are treated as unchanged; an empty map suppresses the event.
	ApplyChangeHandler func(r Resource, changes map[string]any) (map[string]any, error)
	// ApplyAddHandler inserts value at idx.
	ApplyAddHandler func(r Resource, value any, idx int) error
	// ApplyRemoveHandler removes and returns the value at idx.
	ApplyRemoveHandler func(r Resource, idx int) (any, error)
	// ApplyCreateHandler stores a newly created resource.
	ApplyCreateHandler func(r Resource, data any) error
	// ApplyDeleteHandler deletes the resource and returns its last value.
	ApplyDeleteHandler func(r Resource) (any, error)
)

// Handler holds the request handlers and apply hooks of a resource pattern.
// A method named "*" in Call or Auth serves every method without its own
// entry.
type Handler struct {
	Type   ResourceType
	Access AccessHandler
	Get    GetHandler
	Call   map[string]CallHandler
	Auth   map[string]AuthHandler

	ApplyChange ApplyChangeHandler
	ApplyAdd    ApplyAddHandler
	ApplyRemove ApplyRemoveHandler
	ApplyCreate ApplyCreateHandler
	ApplyDelete ApplyDeleteHandler

	// Group is a group template. Empty means one group per resource name.
	Group string
}

// Capabilities returns the request kinds h serves.
func (h *Handler) Capabilities() Capability {
	if h == nil {
		return 0
	}
	var c Capability
	if h.Access != nil {
		c |= CapAccess
	}
	if h.Get != nil {
		c |= CapGet
	}
	if len(h.Call) > 0 {
		c |= CapCall
	}
	if len(h.Auth) > 0 {
		c |= CapAuth
	}
	return c
}

// Option applies opts to h.
func (h *Handler) Option(opts ...HandlerOption) {
	for _, opt := range opts {
		opt(h)
	}
}

func (h *Handler) callHandler(method string) CallHandler {
	if f, ok := h.Call[method]; ok {
		return f
	}
	return h.Call["*"]
}

func (h *Handler) authHandler(method string) AuthHandler {
	if f, ok := h.Auth[method]; ok {
		return f
	}
	return h.Auth["*"]
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// Access sets the access handler.
func Access(f AccessHandler) HandlerOption {
	return func(h *Handler) { h.Access = f }
}

// GetModel sets a get handler serving a model.
func GetModel(f GetHandler) HandlerOption {
	return func(h *Handler) {
		h.Type = TypeModel
		h.Get = f
	}
}

// GetCollection sets a get handler serving a collection.
func GetCollection(f GetHandler) HandlerOption {
	return func(h *Handler) {
		h.Type = TypeCollection
		h.Get = f
	}
}

// GetResource sets a get handler without declaring the resource type.
func GetResource(f GetHandler) HandlerOption {
	return func(h *Handler) { h.Get = f }
}

// Call sets the handler for a call method.
func Call(method string, f CallHandler) HandlerOption {
	return func(h *Handler) {
		if h.Call == nil {
			h.Call = make(map[string]CallHandler)
		}
		h.Call[method] = f
	}
}

// Auth sets the handler for an auth method.
func Auth(method string, f AuthHandler) HandlerOption {
	return func(h *Handler) {
		if h.Auth == nil {
			h.Auth = make(map[string]AuthHandler)
		}
		h.Auth[method] = f
	}
}

func ApplyChange(f ApplyChangeHandler) HandlerOption {
	return func(h *Handler) { h.ApplyChange = f }
}

func ApplyAdd(f ApplyAddHandler) HandlerOption {
	return func(h *Handler) { h.ApplyAdd = f }
}

func ApplyRemove(f ApplyRemoveHandler) HandlerOption {
	return func(h *Handler) { h.ApplyRemove = f }
}

func ApplyCreate(f ApplyCreateHandler) HandlerOption {
	return func(h *Handler) { h.ApplyCreate = f }
}

func ApplyDelete(f ApplyDeleteHandler) HandlerOption {
	return func(h *Handler) { h.ApplyDelete = f }
}

// Group sets the group template, for example "${shelf}" to serialize all
// requests for books on one shelf.
func Group(template string) HandlerOption {
	return func(h *Handler) { h.Group = template }
}

// Model declares the resource a model.
func Model(h *Handler) { h.Type = TypeModel }

// Collection declares the resource a collection.
func Collection(h *Handler) { h.Type = TypeCollection }

// AccessGranted grants full get and call access.
func AccessGranted(r *AccessRequest) { r.AccessGranted() }

// AccessDenied denies all access.
func AccessDenied(r *AccessRequest) { r.AccessDenied() }
