package template

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const opStopJSON = `{
  "snd": {"msid": "OP_STOP", "mtyp": "TYPE_CONF_OPERATE", "init": "INIT_BY_USER", "tmpl": "", "prms": {}},
  "rcv": {"msid": "OP_STOP", "mtyp": "TYPE_CONF_OPERATE", "init": "INIT_BY_USER", "tmpl": "", "prms": {}}
}`

func TestRegistryLoadsKnownMIDFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "OP_STOP.json"), []byte(opStopJSON), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "NOT_A_MID.json"), []byte(opStopJSON), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("ignore me"), 0o644))

	reg := NewRegistry(dir)
	require.NoError(t, reg.Load())
	assert.Equal(t, 1, reg.Len())

	tmpl, ok := reg.Get("OP_STOP")
	require.True(t, ok)
	assert.Equal(t, "OP_STOP", tmpl.Snd.MSID)

	_, ok = reg.Get("NOT_A_MID")
	assert.False(t, ok)
}

func TestRegistryReloadReplacesContents(t *testing.T) {
	dir := t.TempDir()
	reg := NewRegistry(dir)
	require.NoError(t, reg.Load())
	assert.Equal(t, 0, reg.Len())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "OP_STOP.json"), []byte(opStopJSON), 0o644))
	require.NoError(t, reg.Load())
	assert.Equal(t, 1, reg.Len())
}
