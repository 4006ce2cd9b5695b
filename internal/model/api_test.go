package model

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestUpdateMetadataValidate(t *testing.T) {
	assert.NoError(t, UpdateMetadataRequest{}.Validate())
	assert.NoError(t, UpdateMetadataRequest{Notes: strPtr("fine")}.Validate())

	long := strings.Repeat("x", MaxNotesLen+1)
	assert.Error(t, UpdateMetadataRequest{Notes: &long}.Validate())

	tooMany := make([]string, MaxTagCount+1)
	for i := range tooMany {
		tooMany[i] = "t"
	}
	assert.Error(t, UpdateMetadataRequest{Tags: &tooMany}.Validate())

	empty := []string{""}
	assert.Error(t, UpdateMetadataRequest{Tags: &empty}.Validate())

	longTag := []string{strings.Repeat("x", MaxTagLen+1)}
	assert.Error(t, UpdateMetadataRequest{Tags: &longTag}.Validate())

	clearAll := []string{}
	assert.NoError(t, UpdateMetadataRequest{Tags: &clearAll}.Validate())
}

func TestExecutionQueryNormalize(t *testing.T) {
	q := ExecutionQuery{Limit: 0, Offset: -5}
	q.Normalize(200)
	assert.Equal(t, 200, q.Limit)
	assert.Zero(t, q.Offset)

	q = ExecutionQuery{Limit: 5000, Offset: 10}
	q.Normalize(200)
	assert.Equal(t, 200, q.Limit)
	assert.Equal(t, 10, q.Offset)

	q = ExecutionQuery{Limit: 50}
	q.Normalize(200)
	assert.Equal(t, 50, q.Limit)
}

func TestExecutionQueryValidate(t *testing.T) {
	require.NoError(t, ExecutionQuery{}.Validate())
	require.NoError(t, ExecutionQuery{Status: StatusOpen}.Validate())
	require.NoError(t, ExecutionQuery{Status: StatusCompleted}.Validate())
	require.Error(t, ExecutionQuery{Status: "archived"}.Validate())

	from := time.Now()
	to := from.Add(-time.Hour)
	require.Error(t, ExecutionQuery{From: &from, To: &to}.Validate())

	to = from.Add(time.Hour)
	require.NoError(t, ExecutionQuery{From: &from, To: &to}.Validate())
}
