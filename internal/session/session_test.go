package session

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventhub/internal/model"
)

func TestStorePersistsAcrossOpen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state", "session.yaml")

	s, err := Open(path)
	require.NoError(t, err)
	_, ok := s.Current()
	assert.False(t, ok)

	user := model.User{ID: "u1", Name: "John Doe", Email: "john@example.com"}
	require.NoError(t, s.Set(user))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	reopened, err := Open(path)
	require.NoError(t, err)
	got, ok := reopened.Current()
	require.True(t, ok)
	assert.Equal(t, user, got)

	require.NoError(t, reopened.Clear())
	_, ok = reopened.Current()
	assert.False(t, ok)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Clearing twice is fine.
	require.NoError(t, reopened.Clear())
}

func TestStoreRejectsUserWithoutID(t *testing.T) {
	t.Parallel()

	s := NewMemory()
	require.ErrorIs(t, s.Set(model.User{Name: "nobody"}), ErrInvalidUser)
	_, ok := s.Current()
	assert.False(t, ok)
}

func TestOpenRejectsCorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "session.yaml")
	require.NoError(t, os.WriteFile(path, []byte("user: [not, a, map"), 0o600))

	_, err := Open(path)
	require.Error(t, err)
}

func TestMemoryStoreConcurrentAccess(t *testing.T) {
	t.Parallel()

	s := NewMemory()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Set(model.User{ID: "u"})
			s.Current()
		}()
	}
	wg.Wait()

	got, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, "u", got.ID)
}
