package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skeinhq/skein/internal/execcontext"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	orig, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(orig) })
	return dir
}

func TestNewRecorder_CreatesDirectory(t *testing.T) {
	chdirTemp(t)

	rec, err := NewRecorder("my workflow", "20260101T000000Z")
	require.NoError(t, err)

	assert.DirExists(t, rec.Dir())
	assert.Contains(t, rec.Dir(), "my_workflow")
}

func TestRecordStep_WritesFile(t *testing.T) {
	chdirTemp(t)

	rec, err := NewRecorder("wf", "ts")
	require.NoError(t, err)

	err = rec.RecordStep(0, "say_hello", "hi there", []execcontext.Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(rec.Dir(), "0000_say_hello.json"))
}

func TestLoad_OrdersByIndex(t *testing.T) {
	chdirTemp(t)

	rec, err := NewRecorder("wf", "ts")
	require.NoError(t, err)
	require.NoError(t, rec.RecordStep(1, "second", "b", nil))
	require.NoError(t, rec.RecordStep(0, "first", "a", nil))

	sess, err := Load(rec.Dir())
	require.NoError(t, err)
	require.Len(t, sess.Records, 2)
	assert.Equal(t, "first", sess.Records[0].Name)
	assert.Equal(t, "second", sess.Records[1].Name)
}

func TestLoad_MissingDirectory(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestSession_RecordFor(t *testing.T) {
	chdirTemp(t)

	rec, err := NewRecorder("wf", "ts")
	require.NoError(t, err)
	require.NoError(t, rec.RecordStep(0, "step_a", "result-a", nil))

	sess, err := Load(rec.Dir())
	require.NoError(t, err)

	found, ok := sess.RecordFor("step_a")
	assert.True(t, ok)
	assert.Equal(t, "result-a", found.Result)

	_, ok = sess.RecordFor("missing")
	assert.False(t, ok)
}

func TestCheckSequence_Match(t *testing.T) {
	err := CheckSequence([]string{"a", "b"}, []string{"a", "b"})
	assert.NoError(t, err)
}

func TestCheckSequence_Mismatch(t *testing.T) {
	err := CheckSequence([]string{"a", "b"}, []string{"a", "c"})
	require.Error(t, err)

	var mismatch *ReplayMismatch
	require.ErrorAs(t, err, &mismatch)
	assert.NotEmpty(t, mismatch.Diff)
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "my_workflow", sanitize("my workflow"))
	assert.Equal(t, "a_b_c", sanitize("a/b\\c"))
}
