package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeOwner struct{ sigchld int }

func (f *fakeOwner) OnSigchld(exitCode int) { f.sigchld = exitCode }

func TestInsertLookupRemove(t *testing.T) {
	reg := New()
	owner := &fakeOwner{}

	_, ok := reg.Lookup(123)
	require.False(t, ok)

	reg.Insert(123, owner)
	got, ok := reg.Lookup(123)
	require.True(t, ok)
	require.Same(t, owner, got)
	require.Equal(t, 1, reg.Len())

	reg.Remove(123)
	_, ok = reg.Lookup(123)
	require.False(t, ok)
	require.Equal(t, 0, reg.Len())
}

func TestRegistryConcurrentAccess(t *testing.T) {
	reg := New()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			owner := &fakeOwner{}
			reg.Insert(i, owner)
			reg.Lookup(i)
			reg.Remove(i)
		}()
	}
	wg.Wait()
	require.Equal(t, 0, reg.Len())
}
