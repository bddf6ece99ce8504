package database

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationNamesAreEmbedded(t *testing.T) {
	names, err := migrationNames()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "001_scoring.sql", names[0])
}

func TestUpSection(t *testing.T) {
	content := "-- +migrate Up\nCREATE TABLE a (id INT);\n-- +migrate Down\nDROP TABLE a;\n"
	up := UpSection(content)
	assert.Contains(t, up, "CREATE TABLE a")
	assert.NotContains(t, up, "DROP TABLE")

	assert.Equal(t, "SELECT 1;", UpSection("SELECT 1;"))
}

func TestScoringMigrationEnforcesSolveUniqueness(t *testing.T) {
	content, err := migrationFS.ReadFile("migrations/001_scoring.sql")
	require.NoError(t, err)
	up := UpSection(string(content))

	assert.True(t, strings.Contains(up, "ON solves (team_id, challenge_id) WHERE correct"))
	assert.True(t, strings.Contains(up, "ON solves (solved_by, challenge_id) WHERE correct"))
	assert.True(t, strings.Contains(up, "penalty <= GREATEST(points, 0)"))
}
