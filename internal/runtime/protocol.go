package runtime

import (
	"encoding/json"
	"fmt"
	"strings"

	errspkg "github.com/drblury/resflow/internal/runtime/errors"
	"github.com/drblury/resflow/internal/runtime/jsoncodec"
)

// Request and event subject prefixes.
const (
	subjectAccess = "access"
	subjectGet    = "get"
	subjectCall   = "call"
	subjectAuth   = "auth"
	subjectEvent  = "event"
	subjectConn   = "conn"

	subjectSystemReset      = "system.reset"
	subjectSystemTokenReset = "system.tokenReset"
)

// Reserved event names. They cannot be sent with Resource.Event.
const (
	eventChange      = "change"
	eventAdd         = "add"
	eventRemove      = "remove"
	eventReaccess    = "reaccess"
	eventCreate      = "create"
	eventDelete      = "delete"
	eventQuery       = "query"
	eventPatch       = "patch"
	eventUnsubscribe = "unsubscribe"
	eventToken       = "token"
)

var reservedEvents = map[string]bool{
	eventChange:      true,
	eventAdd:         true,
	eventRemove:      true,
	eventReaccess:    true,
	eventCreate:      true,
	eventDelete:      true,
	eventQuery:       true,
	eventPatch:       true,
	eventUnsubscribe: true,
}

// requestDTO is the payload of access, get, call and auth requests.
type requestDTO struct {
	CID        string              `json:"cid"`
	Params     json.RawMessage     `json:"params"`
	Token      json.RawMessage     `json:"token"`
	Header     map[string][]string `json:"header"`
	Host       string              `json:"host"`
	RemoteAddr string              `json:"remoteAddr"`
	URI        string              `json:"uri"`
	Query      string              `json:"query"`
	IsHTTP     bool                `json:"isHttp"`
}

type successResponse struct {
	Result any `json:"result"`
}

type resourceResponse struct {
	Resource Ref `json:"resource"`
}

type errorResponse struct {
	Error *errspkg.Error `json:"error"`
}

type accessResult struct {
	Get  bool   `json:"get,omitempty"`
	Call string `json:"call,omitempty"`
}

type modelResult struct {
	Model json.RawMessage `json:"model"`
	Query string          `json:"query,omitempty"`
}

type collectionResult struct {
	Collection json.RawMessage `json:"collection"`
	Query      string          `json:"query,omitempty"`
}

type queryEventsResult struct {
	Events []queryEventEntry `json:"events"`
}

type queryEventEntry struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type changeEventDTO struct {
	Values map[string]json.RawMessage `json:"values"`
}

type addEventDTO struct {
	Value json.RawMessage `json:"value"`
	Idx   int             `json:"idx"`
}

type removeEventDTO struct {
	Idx int `json:"idx"`
}

type queryEventDTO struct {
	Subject string `json:"subject"`
}

type queryRequestDTO struct {
	Query string `json:"query"`
}

type resetEventDTO struct {
	Resources []string `json:"resources,omitempty"`
	Access    []string `json:"access,omitempty"`
}

type tokenResetEventDTO struct {
	TIDs    []string `json:"tids"`
	Subject string   `json:"subject"`
}

type tokenEventDTO struct {
	Token any    `json:"token"`
	TID   string `json:"tid,omitempty"`
}

// Ref is a reference to another resource, encoded as {"rid":"..."}.
type Ref string

// IsValid reports whether r is a well formed resource id.
func (r Ref) IsValid() bool {
	return validRID(string(r))
}

func (r Ref) MarshalJSON() ([]byte, error) {
	return jsoncodec.Marshal(struct {
		RID string `json:"rid"`
	}{string(r)})
}

func (r *Ref) UnmarshalJSON(data []byte) error {
	var v struct {
		RID string `json:"rid"`
	}
	if err := jsoncodec.Unmarshal(data, &v); err != nil {
		return err
	}
	*r = Ref(v.RID)
	return nil
}

// SoftRef is a reference the gateway does not follow automatically.
type SoftRef string

// IsValid reports whether r is a well formed resource id.
func (r SoftRef) IsValid() bool {
	return validRID(string(r))
}

func (r SoftRef) MarshalJSON() ([]byte, error) {
	return jsoncodec.Marshal(struct {
		RID  string `json:"rid"`
		Soft bool   `json:"soft"`
	}{string(r), true})
}

// DataValue wraps a JSON object or array so it is sent as a plain value
// instead of being mistaken for a resource.
type DataValue struct {
	Data any `json:"data"`
}

// NewDataValue returns v wrapped in a DataValue.
func NewDataValue(v any) DataValue {
	return DataValue{Data: v}
}

type deleteAction struct {
	Action string `json:"action"`
}

// DeleteAction is used as a change event value to delete a model property.
var DeleteAction = deleteAction{Action: "delete"}

// validRID reports whether rid is a non-empty sequence of non-empty tokens
// without wildcards, whitespace or query marks.
func validRID(rid string) bool {
	if rid == "" || strings.ContainsAny(rid, " \t\r\n*>?") {
		return false
	}
	for _, tok := range strings.Split(rid, ".") {
		if tok == "" {
			return false
		}
	}
	return true
}

// encodeValue encodes a model, collection or property value.
func encodeValue(v any) (json.RawMessage, error) {
	data, err := jsoncodec.MarshalValue(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return data, nil
}

func encodeValues(values map[string]any) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(values))
	for k, v := range values {
		data, err := encodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", k, err)
		}
		out[k] = data
	}
	return out, nil
}

// parseRequestSubject splits a request subject into its kind, resource name
// and, for call and auth requests, the method.
func parseRequestSubject(subject string) (kind requestKind, rid, method string, ok bool) {
	prefix, rest, found := strings.Cut(subject, ".")
	if !found || rest == "" {
		return 0, "", "", false
	}
	switch prefix {
	case subjectAccess:
		return kindAccess, rest, "", true
	case subjectGet:
		return kindGet, rest, "", true
	case subjectCall, subjectAuth:
		idx := strings.LastIndexByte(rest, '.')
		if idx <= 0 || idx == len(rest)-1 {
			return 0, "", "", false
		}
		kind = kindCall
		if prefix == subjectAuth {
			kind = kindAuth
		}
		return kind, rest[:idx], rest[idx+1:], true
	default:
		return 0, "", "", false
	}
}

func eventSubject(rid, event string) string {
	return subjectEvent + "." + rid + "." + event
}
