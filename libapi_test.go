package resflow

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/drblury/resflow/transport/memory"
)

func TestNewServiceExport(t *testing.T) {
	svc, err := NewService(&Config{Name: "library", Transport: "memory"}, NewNopServiceLogger(), ServiceDependencies{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if svc.Path() != "library" {
		t.Fatalf("expected service path library, got %q", svc.Path())
	}
}

func TestNewServiceExportPropagatesConfigErrors(t *testing.T) {
	_, err := NewService(&Config{Transport: "memory"}, NewNopServiceLogger(), ServiceDependencies{})
	var cfgErr ConfigValidationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected config validation error, got %v", err)
	}
}

func TestHandlerOptionExports(t *testing.T) {
	h := &Handler{}
	h.Option(
		Access(AccessGranted),
		GetModel(func(r *GetRequest) { r.Model(nil) }),
		Call("set", func(r *CallRequest) { r.OK(nil) }),
		Group("books"),
	)
	if h.Type != TypeModel {
		t.Fatalf("expected model type, got %v", h.Type)
	}
	if got := h.Capabilities(); got != CapAccess|CapGet|CapCall {
		t.Fatalf("unexpected capabilities %v", got)
	}
	if h.Group != "books" {
		t.Fatalf("expected group to be set, got %q", h.Group)
	}
}

func TestValueAsExport(t *testing.T) {
	svc, err := NewService(&Config{Name: "library", Transport: "memory"}, NewNopServiceLogger(), ServiceDependencies{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.Handle("book.$id", GetModel(func(r *GetRequest) {
		r.Model(map[string]any{"id": r.PathParam("id")})
	})); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx, memory.New()) }()
	defer func() {
		cancel()
		<-done
	}()

	select {
	case <-svc.Ready():
	case <-time.After(time.Second):
		t.Fatal("service not ready")
	}

	v, err := ValueAs[map[string]any](context.Background(), svc, "library.book.1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v["id"] != "1" {
		t.Fatalf("unexpected value %v", v)
	}

	if _, err := ValueAs[string](context.Background(), svc, "library.book.1"); !errors.Is(err, ErrValueTypeMismatch) {
		t.Fatalf("expected type mismatch, got %v", err)
	}
}

func TestLoggerExports(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogServiceLogger(slog.New(slog.NewJSONHandler(&buf, nil)))
	logger.With(LogFields{"service": "library"}).Info("Serving", nil)
	if !strings.Contains(buf.String(), `"service":"library"`) {
		t.Fatalf("expected service field in %s", buf.String())
	}

	var keys []string
	NewEntryServiceLogger(&stubEntry{keys: &keys}).Info("Request started", LogFields{"rid": "library.book.1"})
	if len(keys) != 1 || keys[0] != "rid" {
		t.Fatalf("expected the rid field on the entry, got %v", keys)
	}
}

func TestEncodingExports(t *testing.T) {
	model := map[string]any{"title": "Emma", "shelf": Ref("library.shelf.2")}
	data, err := Marshal(model)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(data) != `{"shelf":{"rid":"library.shelf.2"},"title":"Emma"}` {
		t.Fatalf("unexpected model encoding %s", data)
	}

	var buf bytes.Buffer
	if err := Encode(&buf, model); err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	var decoded struct {
		Shelf Ref    `json:"shelf"`
		Title string `json:"title"`
	}
	if err := Decode(&buf, &decoded); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.Shelf != "library.shelf.2" || decoded.Title != "Emma" {
		t.Fatalf("unexpected decode %+v", decoded)
	}
}

func TestRefEncoding(t *testing.T) {
	data, err := Marshal(Ref("library.book.1"))
	if err != nil {
		t.Fatalf("marshal ref failed: %v", err)
	}
	if string(data) != `{"rid":"library.book.1"}` {
		t.Fatalf("unexpected ref encoding %s", data)
	}
	data, err = Marshal(SoftRef("library.book.1"))
	if err != nil {
		t.Fatalf("marshal soft ref failed: %v", err)
	}
	if string(data) != `{"rid":"library.book.1","soft":true}` {
		t.Fatalf("unexpected soft ref encoding %s", data)
	}
}

func TestTransportsRegistered(t *testing.T) {
	for _, name := range []string{"nats", "memory"} {
		if !DefaultTransportRegistry.Has(name) {
			t.Fatalf("expected %s transport to be registered", name)
		}
	}
	if !GetCapabilities("memory").InProcess {
		t.Fatal("expected memory transport to be in-process")
	}
}

func TestErrorCodeConstants(t *testing.T) {
	if ErrNotFound.Code != CodeNotFound {
		t.Fatalf("expected not found code, got %q", ErrNotFound.Code)
	}
	if !errors.Is(&Error{Code: CodeAccessDenied, Message: "nope"}, ErrAccessDenied) {
		t.Fatal("expected errors with equal codes to match")
	}
}

// stubEntry records the field keys applied before a line is logged.
type stubEntry struct {
	keys *[]string
}

func (s *stubEntry) Error(...any) {}
func (s *stubEntry) Info(...any)  {}
func (s *stubEntry) Debug(...any) {}
func (s *stubEntry) Trace(...any) {}

func (s *stubEntry) WithError(error) *stubEntry { return s }

func (s *stubEntry) WithField(key string, _ any) *stubEntry {
	*s.keys = append(*s.keys, key)
	return s
}
