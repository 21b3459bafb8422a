package presence

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterLookup(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Lookup("alice@example.com")
	assert.False(t, ok)

	r.Register("alice@example.com", "h1")
	h, ok := r.Lookup("alice@example.com")
	require.True(t, ok)
	assert.Equal(t, "h1", h)
	assert.Equal(t, 1, r.Len())
}

func TestLastConnectWins(t *testing.T) {
	r := NewRegistry()
	r.Register("alice@example.com", "old")
	r.Register("alice@example.com", "new")

	h, ok := r.Lookup("alice@example.com")
	require.True(t, ok)
	assert.Equal(t, "new", h)

	// the replaced handle no longer owns an entry
	_, removed := r.Unregister("old")
	assert.False(t, removed)
	assert.Equal(t, []string{"alice@example.com"}, r.Snapshot())

	identity, removed := r.Unregister("new")
	assert.True(t, removed)
	assert.Equal(t, "alice@example.com", identity)
	assert.Empty(t, r.Snapshot())
}

func TestUnregisterUnknownHandle(t *testing.T) {
	r := NewRegistry()
	r.Register("bob@example.com", "h2")
	_, removed := r.Unregister("nope")
	assert.False(t, removed)
	assert.Equal(t, 1, r.Len())
}

func TestSnapshotIsSorted(t *testing.T) {
	r := NewRegistry()
	r.Register("carol@example.com", "h3")
	r.Register("alice@example.com", "h1")
	r.Register("bob@example.com", "h2")
	assert.Equal(t, []string{"alice@example.com", "bob@example.com", "carol@example.com"}, r.Snapshot())
}

// Random register/unregister sequences checked against a simple model.
func TestSnapshotMatchesModel(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	identities := []string{"a", "b", "c", "d"}
	handles := []string{"h0", "h1", "h2", "h3", "h4", "h5"}

	for round := 0; round < 200; round++ {
		r := NewRegistry()
		model := map[string]string{}
		for step := 0; step < 30; step++ {
			if rng.Intn(2) == 0 {
				id := identities[rng.Intn(len(identities))]
				h := handles[rng.Intn(len(handles))]
				// a handle belongs to one connection, and a connection has one identity
				if owner, taken := ownerOf(model, h); taken && owner != id {
					continue
				}
				r.Register(id, h)
				model[id] = h
			} else {
				h := handles[rng.Intn(len(handles))]
				_, removed := r.Unregister(h)
				owner, had := ownerOf(model, h)
				assert.Equal(t, had, removed)
				if had {
					delete(model, owner)
				}
			}
		}
		want := make([]string, 0, len(model))
		for id := range model {
			want = append(want, id)
		}
		sort.Strings(want)
		assert.Equal(t, want, r.Snapshot(), fmt.Sprintf("round %d", round))
	}
}

func ownerOf(model map[string]string, handle string) (string, bool) {
	for id, h := range model {
		if h == handle {
			return id, true
		}
	}
	return "", false
}

func TestConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("user%d@example.com", i)
			h := fmt.Sprintf("h%d", i)
			r.Register(id, h)
			_ = r.Snapshot()
			r.Lookup(id)
			if i%2 == 0 {
				r.Unregister(h)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 25, r.Len())
}

func TestIdentityOf(t *testing.T) {
	r := NewRegistry()
	r.Register("alice@example.com", "h1")

	id, ok := r.IdentityOf("h1")
	assert.True(t, ok)
	assert.Equal(t, "alice@example.com", id)

	r.Register("alice@example.com", "h2")
	_, ok = r.IdentityOf("h1")
	assert.False(t, ok)
}
