package tables

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hswatch/internal/ir"
)

func TestParse_DecodesRows(t *testing.T) {
	s := mustSchema(t)

	rows, err := Parse[ir.MessageAction](s, KindMsgAct, []byte(
		"kind: msgact\nentries:\n  - {enabled: true, quiet: true, cooldown: 4, payload: \"0x18ab\"}\n"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, ir.MessageAction{
		Enabled:  true,
		Quiet:    true,
		Cooldown: 4,
		Payload:  ir.Payload{0x18, 0xab},
	}, rows[0])
}

func TestParse_EmptyEntriesIsNonNil(t *testing.T) {
	rows, err := Parse[ir.AppMonEntry](mustSchema(t), KindAppMon, []byte("kind: appmon\nentries: []\n"))
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
}

func TestParse_NormalizesNames(t *testing.T) {
	s := mustSchema(t)
	decomposed := "CAFE\u0301"
	composed := "CAF\u00c9"

	rows, err := Parse[ir.EventRule](s, KindEventMon, []byte(
		"kind: eventmon\nentries:\n  - {app_name: \""+decomposed+"\", event_id: 1, action: none}\n"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, composed, rows[0].AppName)

	apps, err := Parse[ir.AppMonEntry](s, KindAppMon, []byte(
		"kind: appmon\nentries:\n  - {name: \""+decomposed+"\", cycle_limit: 1, action: none}\n"))
	require.NoError(t, err)
	assert.Equal(t, composed, apps[0].Name)
}

func TestLoadFile_SetsPathOnValidationError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "appmon.yaml")
	require.NoError(t, os.WriteFile(path, []byte("kind: appmon\nentries: 3\n"), 0o600))

	_, err := LoadFile[ir.AppMonEntry](mustSchema(t), KindAppMon, path)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, path, verr.Path)
}

func TestLoadFile_MissingFile(t *testing.T) {
	_, err := LoadFile[ir.AppMonEntry](mustSchema(t), KindAppMon, filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadDir_Valid(t *testing.T) {
	set, err := LoadDir(mustSchema(t), filepath.Join("testdata", "valid"))
	require.NoError(t, err)

	require.Len(t, set.MsgAct, 3)
	assert.Equal(t, ir.Payload{0x18, 0xab, 0x00, 0x01}, set.MsgAct[0].Payload)
	assert.True(t, set.MsgAct[1].Quiet)

	require.Len(t, set.AppMon, 3)
	assert.Equal(t, ir.ProcessorReset(), set.AppMon[0].Action)
	assert.Equal(t, ir.SendMessage(0), set.AppMon[1].Action)
	assert.False(t, set.AppMon[2].Enabled())

	require.Len(t, set.EventMon, 2)
	assert.Equal(t, uint16(42), set.EventMon[0].EventID)

	require.Len(t, set.ExecCounter, 2)
	assert.Equal(t, ir.KindAppMain, set.ExecCounter[0].Kind)
	assert.Equal(t, ir.KindNone, set.ExecCounter[1].Kind)
}

func TestLoadDir_ExecCounterOptional(t *testing.T) {
	dir := t.TempDir()
	for _, k := range []Kind{KindMsgAct, KindAppMon, KindEventMon} {
		data, err := os.ReadFile(filepath.Join("testdata", "valid", FileName(k)))
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, FileName(k)), data, 0o600))
	}

	set, err := LoadDir(mustSchema(t), dir)
	require.NoError(t, err)
	assert.Nil(t, set.ExecCounter)
}

func TestLoadDir_DanglingMessageSlot(t *testing.T) {
	_, err := LoadDir(mustSchema(t), filepath.Join("testdata", "dangling"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "message:7")
}

func TestLoadDir_JoinsFileErrors(t *testing.T) {
	_, err := LoadDir(mustSchema(t), t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "msgact")
	assert.Contains(t, err.Error(), "appmon")
	assert.Contains(t, err.Error(), "eventmon")
}
