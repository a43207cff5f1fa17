package ids

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("no entropy") }

func TestNewIsOrderedWithinProcess(t *testing.T) {
	prev := New()
	for i := 0; i < 200; i++ {
		id := New()
		require.Len(t, id, 26)
		require.Greater(t, id, prev)
		prev = id
	}
}

func TestNewUniqueAcrossGoroutines(t *testing.T) {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]struct{})
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id := New()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 400)
}

func TestGeneratorSameMillisecond(t *testing.T) {
	g := NewGenerator(bytes.NewReader(bytes.Repeat([]byte{0x5a}, 1024)))
	at := time.UnixMilli(1_700_000_000_000)

	a, err := g.At(at)
	require.NoError(t, err)
	b, err := g.At(at)
	require.NoError(t, err)
	assert.Less(t, a, b)
	assert.Equal(t, a[:10], b[:10], "timestamp part is shared")
}

func TestGeneratorEntropyFailure(t *testing.T) {
	_, err := NewGenerator(failingReader{}).At(time.Now())
	assert.Error(t, err)
}

func TestTime(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_123)
	got, err := Time(NewAt(at))
	require.NoError(t, err)
	assert.True(t, got.Equal(at))

	_, err = Time("not-a-ulid")
	assert.Error(t, err)
}

func TestInbox(t *testing.T) {
	a, b := Inbox(), Inbox()
	assert.True(t, strings.HasPrefix(a, InboxPrefix))
	assert.NotEqual(t, a, b)
	_, err := Time(strings.TrimPrefix(a, InboxPrefix))
	assert.NoError(t, err)
}
