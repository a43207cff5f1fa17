package resflow

import (
	"context"

	runtimepkg "github.com/drblury/resflow/internal/runtime"
	configpkg "github.com/drblury/resflow/internal/runtime/config"
	errspkg "github.com/drblury/resflow/internal/runtime/errors"
	idspkg "github.com/drblury/resflow/internal/runtime/ids"
	jsoncodec "github.com/drblury/resflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/resflow/internal/runtime/logging"
	"github.com/drblury/resflow/transport"
	// Registers the nats and memory transports for ListenAndServe.
	_ "github.com/drblury/resflow/transport/transports"
)

type (
	Config              = configpkg.Config
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies
	Router              = runtimepkg.Router

	Handler       = runtimepkg.Handler
	HandlerOption = runtimepkg.HandlerOption
	Capability    = runtimepkg.Capability
	ResourceType  = runtimepkg.ResourceType

	AccessHandler      = runtimepkg.AccessHandler
	GetHandler         = runtimepkg.GetHandler
	CallHandler        = runtimepkg.CallHandler
	AuthHandler        = runtimepkg.AuthHandler
	ApplyChangeHandler = runtimepkg.ApplyChangeHandler
	ApplyAddHandler    = runtimepkg.ApplyAddHandler
	ApplyRemoveHandler = runtimepkg.ApplyRemoveHandler
	ApplyCreateHandler = runtimepkg.ApplyCreateHandler
	ApplyDeleteHandler = runtimepkg.ApplyDeleteHandler

	Resource      = runtimepkg.Resource
	AccessRequest = runtimepkg.AccessRequest
	GetRequest    = runtimepkg.GetRequest
	CallRequest   = runtimepkg.CallRequest
	AuthRequest   = runtimepkg.AuthRequest
	QueryRequest  = runtimepkg.QueryRequest

	Ref       = runtimepkg.Ref
	SoftRef   = runtimepkg.SoftRef
	DataValue = runtimepkg.DataValue

	// Request lifecycle hooks
	RequestContext = runtimepkg.RequestContext
	RequestHooks   = runtimepkg.RequestHooks

	// Metrics and status
	ServiceMetrics     = runtimepkg.ServiceMetrics
	RequestKindMetrics = runtimepkg.RequestKindMetrics
	MetricsSnapshot    = runtimepkg.MetricsSnapshot
	PatternInfo        = runtimepkg.PatternInfo
	StatusStats        = runtimepkg.StatusStats
	ProcessUsage       = runtimepkg.ProcessUsage

	LogFields                 = loggingpkg.LogFields
	ServiceLogger             = loggingpkg.ServiceLogger
	EntryLoggerAdapter[T any] = loggingpkg.EntryLoggerAdapter[T]

	Error                 = errspkg.Error
	ConfigError           = errspkg.ConfigError
	ConfigValidationError = errspkg.ConfigValidationError

	// Transport types
	Conn                  = transport.Conn
	Msg                   = transport.Msg
	Subscription          = transport.Subscription
	TransportBuilder      = transport.Builder
	TransportConfig       = transport.Config
	TransportRegistry     = transport.Registry
	TransportCapabilities = transport.Capabilities
)

// Capabilities and resource types.
const (
	CapAccess = runtimepkg.CapAccess
	CapGet    = runtimepkg.CapGet
	CapCall   = runtimepkg.CapCall
	CapAuth   = runtimepkg.CapAuth

	TypeUnset      = runtimepkg.TypeUnset
	TypeModel      = runtimepkg.TypeModel
	TypeCollection = runtimepkg.TypeCollection
)

// Reserved error codes.
const (
	CodeNotFound       = errspkg.CodeNotFound
	CodeMethodNotFound = errspkg.CodeMethodNotFound
	CodeInvalidParams  = errspkg.CodeInvalidParams
	CodeInvalidQuery   = errspkg.CodeInvalidQuery
	CodeInternalError  = errspkg.CodeInternalError
	CodeAccessDenied   = errspkg.CodeAccessDenied
	CodeTimeout        = errspkg.CodeTimeout
)

var (
	NewService     = runtimepkg.NewService
	NewRouter      = runtimepkg.NewRouter
	ValidateConfig = configpkg.ValidateConfig

	// Handler options
	Access        = runtimepkg.Access
	GetModel      = runtimepkg.GetModel
	GetCollection = runtimepkg.GetCollection
	GetResource   = runtimepkg.GetResource
	Call          = runtimepkg.Call
	Auth          = runtimepkg.Auth
	ApplyChange   = runtimepkg.ApplyChange
	ApplyAdd      = runtimepkg.ApplyAdd
	ApplyRemove   = runtimepkg.ApplyRemove
	ApplyCreate   = runtimepkg.ApplyCreate
	ApplyDelete   = runtimepkg.ApplyDelete
	Group         = runtimepkg.Group
	Model         = runtimepkg.Model
	Collection    = runtimepkg.Collection
	AccessGranted = runtimepkg.AccessGranted
	AccessDenied  = runtimepkg.AccessDenied

	NewDataValue     = runtimepkg.NewDataValue
	DeleteAction     = runtimepkg.DeleteAction
	GroupFromContext = runtimepkg.GroupFromContext

	// Request lifecycle hooks
	LoggingHooks  = runtimepkg.LoggingHooks
	AlertingHooks = runtimepkg.AlertingHooks

	NewServiceMetrics = runtimepkg.NewServiceMetrics

	// Transport registry
	DefaultTransportRegistry = transport.DefaultRegistry
	RegisterTransport        = transport.Register
	BuildTransport           = transport.Build
	GetCapabilities          = transport.GetCapabilities

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode
	NewEncoder    = jsoncodec.NewEncoder
	NewDecoder    = jsoncodec.NewDecoder

	// Protocol errors
	ErrNotFound       = errspkg.ErrNotFound
	ErrMethodNotFound = errspkg.ErrMethodNotFound
	ErrInvalidParams  = errspkg.ErrInvalidParams
	ErrInvalidQuery   = errspkg.ErrInvalidQuery
	ErrInternalError  = errspkg.ErrInternalError
	ErrAccessDenied   = errspkg.ErrAccessDenied
	ErrTimeout        = errspkg.ErrTimeout
	InternalError     = errspkg.InternalError
	ToError           = errspkg.ToError

	ErrServiceRequired      = errspkg.ErrServiceRequired
	ErrHandlerRequired      = errspkg.ErrHandlerRequired
	ErrConfigRequired       = errspkg.ErrConfigRequired
	ErrLoggerRequired       = errspkg.ErrLoggerRequired
	ErrConnRequired         = errspkg.ErrConnRequired
	ErrAlreadyServing       = errspkg.ErrAlreadyServing
	ErrNotServing           = errspkg.ErrNotServing
	ErrInvalidPattern       = errspkg.ErrInvalidPattern
	ErrDuplicatePattern     = errspkg.ErrDuplicatePattern
	ErrDuplicatePlaceholder = errspkg.ErrDuplicatePlaceholder
	ErrInvalidGroup         = errspkg.ErrInvalidGroup
	ErrMountConflict        = errspkg.ErrMountConflict
	ErrAlreadyMounted       = errspkg.ErrAlreadyMounted
	ErrInvalidEvent         = errspkg.ErrInvalidEvent
	ErrValueInGetHandler    = errspkg.ErrValueInGetHandler
	ErrValueTypeMismatch    = errspkg.ErrValueTypeMismatch

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NewNopServiceLogger       = loggingpkg.NewNopServiceLogger

	// NewID returns a monotonic ULID, as used for request correlation ids.
	NewID = idspkg.New
)

// ValueAs returns the value of rid from s asserted to T. ctx should be the
// context of the calling resource, when there is one.
func ValueAs[T any](ctx context.Context, s *Service, rid string) (T, error) {
	return runtimepkg.ValueAs[T](ctx, s, rid)
}

func NewEntryServiceLogger[T EntryLoggerAdapter[T]](entry T) ServiceLogger {
	return loggingpkg.NewEntryServiceLogger(entry)
}
