package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFile_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")

	s, err := OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(KeyPlayerToken, "tok-1"))
	require.NoError(t, s.Set(KeyGameID, "g1"))

	reopened, err := OpenFile(path)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", reopened.Get(KeyPlayerToken))
	assert.Equal(t, "g1", reopened.Get(KeyGameID))
}

func TestFile_ClearRemovesEverything(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")

	s, err := OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(KeyPlayerToken, "tok"))
	require.NoError(t, s.Clear())

	reopened, err := OpenFile(path)
	require.NoError(t, err)
	assert.Empty(t, reopened.Get(KeyPlayerToken))
}

func TestFile_MissingFileIsEmptyStore(t *testing.T) {
	s, err := OpenFile(filepath.Join(t.TempDir(), "nothing", "yet.json"))
	require.NoError(t, err)
	assert.Empty(t, s.Get(KeyGameID))
}

func TestFile_DeleteSingleKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	s, err := OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(KeyRoomCode, "ABC"))
	require.NoError(t, s.Set(KeyPlayerName, "Alice"))
	require.NoError(t, s.Delete(KeyRoomCode))

	assert.Empty(t, s.Get(KeyRoomCode))
	assert.Equal(t, "Alice", s.Get(KeyPlayerName))
}

func TestVolatile_ClearedIndependently(t *testing.T) {
	v := NewVolatile()
	require.NoError(t, v.Set(KeyScreen, "game"))
	require.NoError(t, v.Set(KeySelectedEnigme, "3"))

	require.NoError(t, v.Clear())
	assert.Empty(t, v.Get(KeyScreen))
	assert.Empty(t, v.Get(KeySelectedEnigme))
}
