package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/person-facts/internal/model"
)

func TestLoadInteractions_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "interactions.yaml")
	data := `
- id: i1
  person_id: p1
  source_type: imessage
  timestamp: 2026-05-01T09:00:00Z
  title: "→ weekend plans"
  snippet: "Heading to the lake on Saturday"
- id: i2
  person_id: p1
  source_type: calendar
  timestamp: 2026-05-03T14:00:00Z
  title: "Coffee with Alex"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	interactions, err := loadInteractions(path)
	require.NoError(t, err)
	require.Len(t, interactions, 2)
	assert.Equal(t, "i1", interactions[0].ID)
	assert.Equal(t, model.SourceIMessage, interactions[0].SourceType)
	assert.Equal(t, model.SourceCalendar, interactions[1].SourceType)
	assert.Equal(t, 2026, interactions[0].Timestamp.Year())
}

func TestLoadInteractions_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "interactions.json")
	data := `[{"id":"i1","person_id":"p1","source_type":"slack","timestamp":"2026-05-01T09:00:00Z","title":"standup notes"}]`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	interactions, err := loadInteractions(path)
	require.NoError(t, err)
	require.Len(t, interactions, 1)
	assert.Equal(t, model.SourceSlack, interactions[0].SourceType)
}

func TestLoadInteractions_Missing(t *testing.T) {
	_, err := loadInteractions(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadInteractions_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("[]"), 0o600))

	_, err := loadInteractions(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no interactions")
}
