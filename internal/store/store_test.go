package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robomonkey/robomonkey/internal/rmerr"
)

func TestSanitizeSchemaName(t *testing.T) {
	tests := []struct {
		name string
		repo string
		want string
	}{
		{"plain", "myrepo", "rm_myrepo"},
		{"uppercase", "MyRepo", "rm_myrepo"},
		{"hyphens", "my-cool-repo", "rm_my_cool_repo"},
		{"slashes", "org/repo", "rm_org_repo"},
		{"dots", "repo.v2", "rm_repo_v2"},
		{"leading digit", "2fast", "rm_r2fast"},
		{"punctuation runs", "a--b..c", "rm_a_b_c"},
		{"trailing junk", "repo!!", "rm_repo"},
		{"empty", "", "rm_repo"},
		{"only junk", "---", "rm_repo"},
		{"reserved control", "control", "rm_control_repo"},
		{"unicode stripped", "répo", "rm_r_po"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeSchemaName("rm_", tt.repo)
			assert.Equal(t, tt.want, got)
			assert.True(t, validSchemaName(got), "result must be a valid schema name")
		})
	}
}

func TestSanitizeSchemaNameDeterministic(t *testing.T) {
	a := SanitizeSchemaName("rm_", "Widgets/Core-v1")
	b := SanitizeSchemaName("rm_", "Widgets/Core-v1")
	assert.Equal(t, a, b)
}

func TestValidSchemaName(t *testing.T) {
	assert.True(t, validSchemaName("rm_repo"))
	assert.True(t, validSchemaName("a1_b2"))
	assert.False(t, validSchemaName("1repo"))
	assert.False(t, validSchemaName("Repo"))
	assert.False(t, validSchemaName("repo; DROP SCHEMA public"))
	assert.False(t, validSchemaName(""))
	assert.False(t, validSchemaName("repo name"))
}

func TestRegisterActionIdempotentSameNameAndRoot(t *testing.T) {
	// A repeat registration must never reach the drop path: the indexed
	// data survives.
	action, err := resolveRegisterAction(true, "rm_myrepo",
		"myrepo", "/src/myrepo", "myrepo", "/src/myrepo", false)
	require.NoError(t, err)
	assert.Equal(t, registerReuse, action)
}

func TestRegisterActionConflictsOnRootMismatch(t *testing.T) {
	_, err := resolveRegisterAction(true, "rm_myrepo",
		"myrepo", "/src/old", "myrepo", "/src/new", false)
	require.Error(t, err)
	assert.Equal(t, rmerr.KindSchemaConflict, rmerr.KindOf(err))
}

func TestRegisterActionConflictsOnNameCollision(t *testing.T) {
	// Two repo names that sanitize to the same schema.
	_, err := resolveRegisterAction(true, "rm_my_repo",
		"my-repo", "/src/a", "my.repo", "/src/a", false)
	require.Error(t, err)
	assert.Equal(t, rmerr.KindSchemaConflict, rmerr.KindOf(err))
}

func TestRegisterActionForceReplaces(t *testing.T) {
	action, err := resolveRegisterAction(true, "rm_myrepo",
		"myrepo", "/src/myrepo", "myrepo", "/src/myrepo", true)
	require.NoError(t, err)
	assert.Equal(t, registerReplace, action)

	action, err = resolveRegisterAction(true, "rm_myrepo",
		"myrepo", "/src/old", "myrepo", "/src/new", true)
	require.NoError(t, err)
	assert.Equal(t, registerReplace, action)
}

func TestRegisterActionFreshRepo(t *testing.T) {
	action, err := resolveRegisterAction(false, "rm_myrepo", "", "", "myrepo", "/src/myrepo", false)
	require.NoError(t, err)
	assert.Equal(t, registerCreate, action)
}

func TestRetryDelaySchedule(t *testing.T) {
	assert.Equal(t, 60*time.Second, RetryDelay(1))
	assert.Equal(t, 120*time.Second, RetryDelay(2))
	assert.Equal(t, 240*time.Second, RetryDelay(3))
	assert.Equal(t, 480*time.Second, RetryDelay(4))
	assert.Equal(t, 60*time.Second, RetryDelay(0))
}
