package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeFilesUnmarshalList(t *testing.T) {
	var bundle CodeBundle
	err := json.Unmarshal([]byte(`{"files":[{"fileName":"src/App.tsx","code":"export {}"}]}`), &bundle)
	require.NoError(t, err)
	require.Len(t, bundle.Files, 1)
	assert.Equal(t, "src/App.tsx", bundle.Files[0].FileName)
}

func TestCodeFilesUnmarshalObject(t *testing.T) {
	var bundle CodeBundle
	err := json.Unmarshal([]byte(`{"files":{"src/b.tsx":"b","src/a.tsx":"a"}}`), &bundle)
	require.NoError(t, err)
	require.Len(t, bundle.Files, 2)
	// Object form is sorted by name so commits are deterministic.
	assert.Equal(t, "src/a.tsx", bundle.Files[0].FileName)
	assert.Equal(t, "b", bundle.Files[1].Code)
}

func TestCodeFilesUnmarshalRejectsScalar(t *testing.T) {
	var bundle CodeBundle
	assert.Error(t, json.Unmarshal([]byte(`{"files":"nope"}`), &bundle))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeUIPlan, m)

	m, err = ParseMode("CODE")
	require.NoError(t, err)
	assert.Equal(t, ModeCode, m)

	_, err = ParseMode("pdf")
	assert.Error(t, err)
}

func TestRunCloneDetachesErrors(t *testing.T) {
	r := Run{AccumulatedErrors: []string{"a"}}
	c := r.Clone()
	c.AccumulatedErrors[0] = "b"
	assert.Equal(t, "a", r.AccumulatedErrors[0])
}

func TestStageTerminal(t *testing.T) {
	assert.True(t, StageSuccess.Terminal())
	assert.True(t, StageFailed.Terminal())
	assert.False(t, StageGenerate.Terminal())
}
