package monitoring

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenWriter(t *testing.T) {
	for _, target := range []string{"", "none", "OFF"} {
		w, closeFn, err := OpenWriter(target)
		require.NoError(t, err)
		assert.Nil(t, w, target)
		assert.NoError(t, closeFn())
	}

	w, _, err := OpenWriter("stderr")
	require.NoError(t, err)
	assert.Equal(t, os.Stderr, w)

	_, _, err = OpenWriter(filepath.Join(t.TempDir(), "missing", "x.log"))
	assert.Error(t, err)
}

func TestOpenWriters_SharedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.log")
	lw, closeFn, err := OpenWriters(path, path, "none")
	require.NoError(t, err)
	assert.Same(t, lw.Ops.(*os.File), lw.Diag.(*os.File))
	assert.Nil(t, lw.Trace)

	l := New("scan", lw)
	l.Opsf("warning: one")
	l.Diagf("two")
	l.Tracef("three")
	require.NoError(t, closeFn())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, "warning: one")
	assert.Contains(t, out, "two")
	assert.False(t, strings.Contains(out, "three"))
}
