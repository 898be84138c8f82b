package fs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFS(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "subdir")
	lfs := LocalFS{}
	require.NoError(t, lfs.MkdirAll(dir, 0o755))

	path := filepath.Join(dir, "test.txt")
	f, err := lfs.Create(path)
	require.NoError(t, err)
	_, err = f.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, f.Sync())
	require.NoError(t, f.Close())

	renamed := filepath.Join(dir, "renamed.txt")
	require.NoError(t, lfs.Rename(path, renamed))

	data, err := ReadFile(lfs, renamed)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	require.NoError(t, lfs.Remove(renamed))
	_, err = ReadFile(lfs, renamed)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWriteAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "CURRENT")

	require.NoError(t, WriteAtomic(Default, path, []byte("1")))
	require.NoError(t, WriteAtomic(Default, path, []byte("22")))

	data, err := ReadFile(Default, path)
	require.NoError(t, err)
	assert.Equal(t, "22", string(data))

	entries, err := Default.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary file left behind")
}

func TestWriteAtomic_FailureKeepsOldContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "CURRENT")
	require.NoError(t, WriteAtomic(Default, path, []byte("old")))

	for name, fault := range map[string]Fault{
		"write":  {FailOnWrite: true},
		"sync":   {FailOnSync: true},
		"close":  {FailOnClose: true},
		"rename": {FailOnRename: true},
	} {
		t.Run(name, func(t *testing.T) {
			ffs := NewFaultyFS(nil)
			ffs.AddRule("CURRENT", fault)

			require.ErrorIs(t, WriteAtomic(ffs, path, []byte("new")), ErrInjected)

			data, err := ReadFile(Default, path)
			require.NoError(t, err)
			assert.Equal(t, "old", string(data))

			_, err = os.Stat(path + TempSuffix)
			assert.ErrorIs(t, err, os.ErrNotExist)
		})
	}
}

func TestFaultyFS_WriteLimit(t *testing.T) {
	ffs := NewFaultyFS(nil)
	ffs.AddRule("faulty", Fault{FailAfterBytes: 5})

	f, err := ffs.Create(filepath.Join(t.TempDir(), "faulty.txt"))
	require.NoError(t, err)
	defer f.Close()

	n, err := f.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = f.Write([]byte("!"))
	require.ErrorIs(t, err, ErrInjected)
	assert.Equal(t, 0, n)
}

func TestFaultyFS_CustomError(t *testing.T) {
	boom := os.ErrDeadlineExceeded
	ffs := NewFaultyFS(LocalFS{})
	ffs.AddRule("sync", Fault{FailOnSync: true, Err: boom})

	f, err := ffs.Create(filepath.Join(t.TempDir(), "sync.txt"))
	require.NoError(t, err)
	require.ErrorIs(t, f.Sync(), boom)
	require.NoError(t, f.Close())

	ffs.ClearRules()
	f, err = ffs.Create(filepath.Join(t.TempDir(), "sync.txt"))
	require.NoError(t, err)
	require.NoError(t, f.Sync())
	require.NoError(t, f.Close())
}
