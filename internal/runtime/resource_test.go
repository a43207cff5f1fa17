package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/resflow/internal/runtime/errors"
)

type book struct {
	Title  string `json:"title"`
	Author string `json:"author"`
}

// withResource runs fn inside the group of rid and waits for it.
func withResource(t *testing.T, s *Service, rid string, fn func(r Resource)) {
	t.Helper()
	done := make(chan struct{})
	require.NoError(t, s.With(rid, func(r Resource) {
		defer close(done)
		fn(r)
	}))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("callback for %s not run", rid)
	}
}

func TestValue(t *testing.T) {
	s := newTestService(t)
	_, err := s.Value("test.book")
	require.ErrorIs(t, err, errspkg.ErrNotServing)

	require.NoError(t, s.Handle("book", GetModel(func(r *GetRequest) {
		assert.True(t, r.ForValue())
		r.Model(&book{Title: "Dune", Author: "Frank Herbert"})
	})))
	require.NoError(t, s.Handle("missing", GetModel(func(r *GetRequest) { r.NotFound() })))
	require.NoError(t, s.Handle("writeonly", Call("set", func(r *CallRequest) { r.OK(nil) })))
	serve(t, s)

	v, err := s.Value("test.book")
	require.NoError(t, err)
	assert.Equal(t, &book{Title: "Dune", Author: "Frank Herbert"}, v)

	_, err = s.Value("test.missing")
	require.ErrorIs(t, err, errspkg.ErrNotFound)
	_, err = s.Value("test.writeonly")
	require.ErrorIs(t, err, errspkg.ErrNotFound)
	_, err = s.Value("test.unknown")
	require.ErrorIs(t, err, errspkg.ErrNotFound)
}

func TestValueAs(t *testing.T) {
	s := newTestService(t)
	require.NoError(t, s.Handle("book", GetModel(func(r *GetRequest) {
		r.Model(&book{Title: "Emma"})
	})))
	serve(t, s)

	b, err := ValueAs[*book](context.Background(), s, "test.book")
	require.NoError(t, err)
	assert.Equal(t, "Emma", b.Title)

	_, err = ValueAs[string](context.Background(), s, "test.book")
	require.ErrorIs(t, err, errspkg.ErrValueTypeMismatch)
}

func TestValueSameGroupRunsInline(t *testing.T) {
	s := newTestService(t)
	require.NoError(t, s.Handle("book.$id",
		Group("books"),
		GetModel(func(r *GetRequest) {
			r.Model(&book{Title: "Book " + r.PathParam("id")})
		}),
		Call("copy", func(r *CallRequest) {
			// test.book.2 shares the group this handler holds.
			v, err := r.Service().ValueContext(r.Context(), "test.book.2")
			if err != nil {
				r.Error(err)
				return
			}
			self := r.RequireValue().(*book)
			r.OK([]string{self.Title, v.(*book).Title})
		}),
	))
	h := serve(t, s)

	reply := h.request("call.test.book.1.copy", nil)
	require.Nil(t, reply.Error)
	assert.JSONEq(t, `["Book 1","Book 2"]`, string(reply.Result))
}

func TestValueAcrossGroups(t *testing.T) {
	s := newTestService(t)
	require.NoError(t, s.Handle("author.$id", GetModel(func(r *GetRequest) {
		r.Model(map[string]string{"name": "Author " + r.PathParam("id")})
	})))
	require.NoError(t, s.Handle("book.$id", GetModel(func(r *GetRequest) {
		author, err := r.Service().ValueContext(r.Context(), "test.author.7")
		if err != nil {
			r.Error(err)
			return
		}
		r.Model(map[string]any{"author": author})
	})))
	h := serve(t, s)

	reply := h.request("get.test.book.1", nil)
	require.Nil(t, reply.Error)
	assert.JSONEq(t, `{"model":{"author":{"name":"Author 7"}}}`, string(reply.Result))
}

func TestValueWaitsOnHeldGroupChain(t *testing.T) {
	s := newTestService(t)
	// a -> b -> a: the inner lookup of a runs inline since the outer a task
	// is blocked waiting for b.
	require.NoError(t, s.Handle("a", GetModel(func(r *GetRequest) { r.Model("a") }), Call("chain", func(r *CallRequest) {
		v, err := r.Service().ValueContext(r.Context(), "test.b")
		if err != nil {
			r.Error(err)
			return
		}
		r.OK(v)
	})))
	require.NoError(t, s.Handle("b", GetModel(func(r *GetRequest) {
		v, err := r.Service().ValueContext(r.Context(), "test.a")
		if err != nil {
			r.Error(err)
			return
		}
		r.Model("b+" + v.(string))
	})))
	h := serve(t, s)

	reply := h.request("call.test.a.chain", nil)
	require.Nil(t, reply.Error)
	assert.JSONEq(t, `"b+a"`, string(reply.Result))
}

func TestValueInOwnGetHandler(t *testing.T) {
	s := newTestService(t)
	errc := make(chan error, 1)
	require.NoError(t, s.Handle("loop", GetModel(func(r *GetRequest) {
		_, err := r.Value()
		errc <- err
		r.Model(1)
	})))
	serve(t, s)

	v, err := s.Value("test.loop")
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	require.ErrorIs(t, <-errc, errspkg.ErrValueInGetHandler)
}

func TestValueContextCancelled(t *testing.T) {
	s := newTestService(t)
	release := make(chan struct{})
	require.NoError(t, s.Handle("slow", GetModel(func(r *GetRequest) {
		<-release
		r.Model(1)
	})))
	serve(t, s)
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.ValueContext(ctx, "test.slow")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestChangeEvent(t *testing.T) {
	s := newTestService(t)
	stored := &book{Title: "Old", Author: "Someone"}
	require.NoError(t, s.Handle("book",
		GetModel(func(r *GetRequest) { r.Model(stored) }),
		ApplyChange(func(r Resource, changes map[string]any) (map[string]any, error) {
			old := map[string]any{}
			if v, ok := changes["title"].(string); ok && v != stored.Title {
				old["title"] = stored.Title
				stored.Title = v
			}
			if v, ok := changes["author"].(string); ok && v != stored.Author {
				old["author"] = stored.Author
				stored.Author = v
			}
			return old, nil
		}),
	))
	require.NoError(t, s.Handle("plain", GetModel(func(r *GetRequest) { r.Model(1) })))
	require.NoError(t, s.Handle("list", GetCollection(func(r *GetRequest) { r.Collection([]int{}) })))
	h := serve(t, s)

	withResource(t, s, "test.book", func(r Resource) {
		// Only the title actually changes.
		assert.NoError(t, r.ChangeEvent(map[string]any{"title": "New", "author": "Someone"}))
		// Nothing changes, so nothing is sent.
		assert.NoError(t, r.ChangeEvent(map[string]any{"title": "New"}))
		assert.NoError(t, r.ChangeEvent(nil))
	})
	withResource(t, s, "test.plain", func(r Resource) {
		assert.NoError(t, r.ChangeEvent(map[string]any{"gone": DeleteAction, "ref": Ref("test.book")}))
	})
	withResource(t, s, "test.list", func(r Resource) {
		assert.ErrorIs(t, r.ChangeEvent(map[string]any{"a": 1}), errspkg.ErrInvalidEvent)
	})

	msgs := h.published("event.test.book.change")
	require.Len(t, msgs, 1)
	assert.JSONEq(t, `{"values":{"title":"New"}}`, string(msgs[0].Data))
	assert.Equal(t, "New", stored.Title)

	msg := h.waitPublished("event.test.plain.change")
	assert.JSONEq(t, `{"values":{"gone":{"action":"delete"},"ref":{"rid":"test.book"}}}`, string(msg.Data))
}

func TestCollectionEvents(t *testing.T) {
	s := newTestService(t)
	items := []string{"a", "b"}
	require.NoError(t, s.Handle("list",
		GetCollection(func(r *GetRequest) { r.Collection(items) }),
		ApplyAdd(func(r Resource, value any, idx int) error {
			items = append(items[:idx], append([]string{value.(string)}, items[idx:]...)...)
			return nil
		}),
		ApplyRemove(func(r Resource, idx int) (any, error) {
			v := items[idx]
			items = append(items[:idx], items[idx+1:]...)
			return v, nil
		}),
	))
	require.NoError(t, s.Handle("model", GetModel(func(r *GetRequest) { r.Model(1) })))
	h := serve(t, s)

	withResource(t, s, "test.list", func(r Resource) {
		assert.NoError(t, r.AddEvent("c", 1))
		assert.NoError(t, r.RemoveEvent(0))
		assert.ErrorIs(t, r.AddEvent("x", -1), errspkg.ErrInvalidEvent)
		assert.ErrorIs(t, r.RemoveEvent(-1), errspkg.ErrInvalidEvent)
	})
	withResource(t, s, "test.model", func(r Resource) {
		assert.ErrorIs(t, r.AddEvent("x", 0), errspkg.ErrInvalidEvent)
		assert.ErrorIs(t, r.RemoveEvent(0), errspkg.ErrInvalidEvent)
	})

	assert.Equal(t, []string{"c", "b"}, items)
	assert.JSONEq(t, `{"value":"c","idx":1}`, string(h.waitPublished("event.test.list.add").Data))
	assert.JSONEq(t, `{"idx":0}`, string(h.waitPublished("event.test.list.remove").Data))
}

func TestCustomAndLifecycleEvents(t *testing.T) {
	s := newTestService(t)
	var created, deleted bool
	require.NoError(t, s.Handle("item.$id",
		GetModel(func(r *GetRequest) { r.Model(1) }),
		ApplyCreate(func(r Resource, data any) error {
			created = true
			return nil
		}),
		ApplyDelete(func(r Resource) (any, error) {
			deleted = true
			return 1, nil
		}),
	))
	h := serve(t, s)

	withResource(t, s, "test.item.1", func(r Resource) {
		assert.NoError(t, r.Event("ping", nil))
		assert.NoError(t, r.Event("moved", map[string]int{"to": 3}))
		assert.ErrorIs(t, r.Event("change", nil), errspkg.ErrInvalidEvent)
		assert.ErrorIs(t, r.Event("query", nil), errspkg.ErrInvalidEvent)
		assert.ErrorIs(t, r.Event("bad.name", nil), errspkg.ErrInvalidEvent)
		assert.ErrorIs(t, r.Event("", nil), errspkg.ErrInvalidEvent)

		assert.NoError(t, r.ReaccessEvent())
		assert.NoError(t, r.CreateEvent(map[string]int{"id": 1}))
		assert.NoError(t, r.DeleteEvent())
	})

	assert.JSONEq(t, `{}`, string(h.waitPublished("event.test.item.1.ping").Data))
	assert.JSONEq(t, `{"to":3}`, string(h.waitPublished("event.test.item.1.moved").Data))
	assert.Empty(t, h.waitPublished("event.test.item.1.reaccess").Data)
	h.waitPublished("event.test.item.1.create")
	h.waitPublished("event.test.item.1.delete")
	assert.True(t, created)
	assert.True(t, deleted)
	assert.Empty(t, h.published("event.test.item.1.change"))

	events := s.Metrics().GetSnapshot().Events
	assert.Equal(t, uint64(2), events["custom"])
	assert.Equal(t, uint64(1), events["reaccess"])
}

func TestApplyHookErrorSuppressesEvent(t *testing.T) {
	s := newTestService(t)
	require.NoError(t, s.Handle("book",
		GetModel(func(r *GetRequest) { r.Model(1) }),
		ApplyChange(func(r Resource, changes map[string]any) (map[string]any, error) {
			return nil, errspkg.ErrAccessDenied
		}),
	))
	h := serve(t, s)

	withResource(t, s, "test.book", func(r Resource) {
		assert.ErrorIs(t, r.ChangeEvent(map[string]any{"title": "x"}), errspkg.ErrAccessDenied)
	})
	assert.Empty(t, h.published("event.test.book.change"))
}

func TestResourceAccessors(t *testing.T) {
	s := newTestService(t)
	require.NoError(t, s.Handle("shelf.$shelf.book.$id", Group("${shelf}"), GetModel(func(r *GetRequest) { r.Model(1) })))
	serve(t, s)

	withResource(t, s, "test.shelf.s1.book.b2", func(r Resource) {
		assert.Equal(t, "test.shelf.s1.book.b2", r.ResourceName())
		assert.Equal(t, TypeModel, r.ResourceType())
		assert.Equal(t, map[string]string{"shelf": "s1", "id": "b2"}, r.PathParams())
		assert.Equal(t, "s1", r.Group())
		assert.Equal(t, "test.shelf.$shelf.book.$id", r.Pattern())
		assert.Same(t, s, r.Service())

		group, ok := GroupFromContext(r.Context())
		assert.True(t, ok)
		assert.Equal(t, "s1", group)
	})

	_, ok := GroupFromContext(context.Background())
	assert.False(t, ok)
}
