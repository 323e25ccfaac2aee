package tables

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hswatch/internal/engine"
	"github.com/roach88/hswatch/internal/ir"
)

var _ engine.TableSource[ir.AppMonEntry] = (*StaticSource[ir.AppMonEntry])(nil)
var _ engine.TableSource[ir.AppMonEntry] = (*FileSource[ir.AppMonEntry])(nil)

func TestStaticSource_ChangedOnce(t *testing.T) {
	src := NewStaticSource([]ir.AppMonEntry{{Name: "SCH", CycleLimit: 2}})

	rows, changed, err := src.Acquire()
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Len(t, rows, 1)

	_, changed, err = src.Acquire()
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestStaticSource_FailThenSet(t *testing.T) {
	src := NewStaticSource[ir.MessageAction](nil)
	src.Fail("operator")

	_, _, err := src.Acquire()
	assert.ErrorIs(t, err, engine.ErrTableUnavailable)

	src.Set([]ir.MessageAction{{Enabled: true}})
	rows, changed, err := src.Acquire()
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Len(t, rows, 1)
}

const appmonDoc = "kind: appmon\nentries:\n  - {name: SCH, cycle_limit: 3, action: none}\n"

func writeTable(t *testing.T, path, doc string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
}

func TestFileSource_LoadAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName(KindAppMon))
	writeTable(t, path, appmonDoc)

	src := NewFileSource[ir.AppMonEntry](mustSchema(t), KindAppMon, path, slogt.New(t))
	rows, changed, err := src.Acquire()
	require.NoError(t, err)
	assert.True(t, changed)
	require.Len(t, rows, 1)
	assert.Equal(t, "SCH", rows[0].Name)

	writeTable(t, path, "kind: appmon\nentries: nope\n")
	require.Error(t, src.Reload())
	_, _, err = src.Acquire()
	assert.ErrorIs(t, err, engine.ErrTableUnavailable)

	writeTable(t, path, appmonDoc)
	require.NoError(t, src.Reload())
	_, changed, err = src.Acquire()
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestFileSource_IdenticalRewriteIsUnchanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName(KindAppMon))
	writeTable(t, path, appmonDoc)

	src := NewFileSource[ir.AppMonEntry](mustSchema(t), KindAppMon, path, slogt.New(t))
	_, changed, err := src.Acquire()
	require.NoError(t, err)
	require.True(t, changed)
	digest := src.Digest()
	require.Len(t, digest, 64)

	writeTable(t, path, appmonDoc)
	require.NoError(t, src.Reload())
	_, changed, err = src.Acquire()
	require.NoError(t, err)
	assert.False(t, changed, "same contents")
	assert.Equal(t, digest, src.Digest())

	writeTable(t, path, appmonDoc+"  - {name: SPARE, cycle_limit: 0, action: none}\n")
	require.NoError(t, src.Reload())
	_, changed, err = src.Acquire()
	require.NoError(t, err)
	assert.True(t, changed)
	assert.NotEqual(t, digest, src.Digest())
}

func TestFileSource_MissingFileStartsUnavailable(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName(KindAppMon))
	src := NewFileSource[ir.AppMonEntry](mustSchema(t), KindAppMon, path, slogt.New(t))

	_, _, err := src.Acquire()
	assert.ErrorIs(t, err, engine.ErrTableUnavailable)
}

func TestFileSource_WatchPicksUpChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName(KindAppMon))
	writeTable(t, path, appmonDoc)

	src := NewFileSource[ir.AppMonEntry](mustSchema(t), KindAppMon, path, slogt.New(t))
	_, _, err := src.Acquire()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Watch(ctx, 10*time.Millisecond) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Unrelated files in the directory are ignored.
	writeTable(t, filepath.Join(dir, "notes.txt"), "hello")

	require.Eventually(t, func() bool {
		writeTable(t, path, "kind: appmon\nentries:\n  - {name: SCH, cycle_limit: 9, action: none}\n")
		rows, changed, err := src.Acquire()
		return err == nil && changed && len(rows) == 1 && rows[0].CycleLimit == 9
	}, 5*time.Second, 50*time.Millisecond)
}
