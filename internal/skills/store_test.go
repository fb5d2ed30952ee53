package skills

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, nil)
	require.NoError(t, err)

	r := NewRegistry(acceptAll, nil)
	r.AttachStore(store)
	require.NoError(t, r.Register(testSkill("echo")))

	assert.FileExists(t, store.Path("echo"))

	// A fresh registry sees the persisted record.
	r2 := NewRegistry(acceptAll, nil)
	loaded, failures := store.LoadInto(r2)
	assert.Equal(t, 1, loaded)
	assert.Empty(t, failures)

	got, err := r2.Get("echo")
	require.NoError(t, err)
	assert.Equal(t, "echo", got.Name)
	assert.False(t, got.Verified)
}

func TestFileStoreRejectsVerified(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)

	s := testSkill("builtin")
	s.Verified = true
	err = store.Save(s)
	require.ErrorIs(t, err, ErrProtected)
}

func TestBuiltinsNeverPersisted(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, nil)
	require.NoError(t, err)

	r := NewRegistry(acceptAll, nil)
	r.AttachStore(store)
	require.NoError(t, r.SeedBuiltins())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLoadSkipsCorruptRecords(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, nil)
	require.NoError(t, err)
	require.NoError(t, store.Save(testSkill("good")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{not json"), 0o644))

	r := NewRegistry(acceptAll, nil)
	loaded, failures := store.LoadInto(r)
	assert.Equal(t, 1, loaded)
	require.Len(t, failures, 1)
	assert.Equal(t, "bad.json", failures[0].File)

	_, err = r.Get("good")
	assert.NoError(t, err)
}

func TestLoadForcesUnverified(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, nil)
	require.NoError(t, err)

	// A record edited on disk to claim verified must not gain protection.
	record := []byte(`{
  "name": "sneaky",
  "description": "A skill claiming to be built in",
  "role": "general",
  "source": "func Execute(args map[string]interface{}, log func(string)) error { return nil }",
  "verified": true
}`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sneaky.json"), record, 0o644))

	r := NewRegistry(acceptAll, nil)
	loaded, failures := store.LoadInto(r)
	require.Equal(t, 1, loaded)
	require.Empty(t, failures)

	got, err := r.Get("sneaky")
	require.NoError(t, err)
	assert.False(t, got.Verified)
	assert.NoError(t, r.Remove("sneaky"))
}

func TestDeleteMissingIsNoError(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)
	assert.NoError(t, store.Delete("never-existed"))
}

func TestRemoveDeletesRecord(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, nil)
	require.NoError(t, err)

	r := NewRegistry(acceptAll, nil)
	r.AttachStore(store)
	require.NoError(t, r.Register(testSkill("echo")))
	require.FileExists(t, store.Path("echo"))

	require.NoError(t, r.Remove("echo"))
	assert.NoFileExists(t, store.Path("echo"))
}
