package registry_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dundas/teleportation/internal/domain"
	"github.com/dundas/teleportation/internal/registry"
)

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := registry.New(nil)
	r.Register(domain.Session{ID: "s1", Cwd: "/tmp"})

	sess, ok := r.Lookup("s1")
	require.True(t, ok)
	assert.Equal(t, "/tmp", sess.Cwd)
	assert.False(t, sess.RegisteredAt.IsZero())
}

func TestRegistry_LookupMissWithoutRecoverer(t *testing.T) {
	r := registry.New(nil)
	_, ok := r.Lookup("unknown")
	assert.False(t, ok)
}

func TestRegistry_LookupMissRecoversFromRelay(t *testing.T) {
	recovered := domain.Session{ID: "s1", Cwd: "/recovered"}
	r := registry.New(func(id string) (domain.Session, bool) {
		if id == "s1" {
			return recovered, true
		}
		return domain.Session{}, false
	})

	sess, ok := r.Lookup("s1")
	require.True(t, ok)
	assert.Equal(t, "/recovered", sess.Cwd)

	// Recovered sessions are re-inserted, so a second lookup doesn't need
	// the recoverer again.
	again, ok := r.Lookup("s1")
	require.True(t, ok)
	assert.Equal(t, "/recovered", again.Cwd)
}

func TestRegistry_LookupMissRecovererAlsoMisses(t *testing.T) {
	r := registry.New(func(id string) (domain.Session, bool) {
		return domain.Session{}, false
	})
	_, ok := r.Lookup("unknown")
	assert.False(t, ok)
}

func TestRegistry_Deregister(t *testing.T) {
	r := registry.New(nil)
	r.Register(domain.Session{ID: "s1"})
	r.Deregister("s1")

	_, ok := r.Lookup("s1")
	assert.False(t, ok)
}

func TestRegistry_UpdatePreservesRegisteredAt(t *testing.T) {
	r := registry.New(nil)
	r.Register(domain.Session{ID: "s1"})
	original, _ := r.Lookup("s1")

	r.Update("s1", func(s *domain.Session) {
		s.Cwd = "/new/path"
	})

	updated, ok := r.Lookup("s1")
	require.True(t, ok)
	assert.Equal(t, "/new/path", updated.Cwd)
	assert.Equal(t, original.RegisteredAt, updated.RegisteredAt)
}

func TestRegistry_UpdateOnUnknownIDActsLikeRegister(t *testing.T) {
	r := registry.New(nil)
	r.Update("new-session", func(s *domain.Session) {
		s.Cwd = "/fresh"
	})

	sess, ok := r.Lookup("new-session")
	require.True(t, ok)
	assert.Equal(t, "/fresh", sess.Cwd)
}

func TestRegistry_IterateVisitsAllSessions(t *testing.T) {
	r := registry.New(nil)
	r.Register(domain.Session{ID: "s1"})
	r.Register(domain.Session{ID: "s2"})

	seen := map[string]bool{}
	r.Iterate(func(s domain.Session) {
		seen[s.ID] = true
	})
	assert.Len(t, seen, 2)
	assert.True(t, seen["s1"])
	assert.True(t, seen["s2"])
}

func TestRegistry_LenAndLastActivity(t *testing.T) {
	r := registry.New(nil)
	assert.Equal(t, 0, r.Len())
	before := r.LastActivity()

	time.Sleep(time.Millisecond)
	r.Register(domain.Session{ID: "s1"})

	assert.Equal(t, 1, r.Len())
	assert.True(t, r.LastActivity().After(before))
}
