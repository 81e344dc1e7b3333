package audit

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLogger_AppendsNDJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "trail.ndjson")
	logger, err := NewFileLogger(path)
	require.NoError(t, err)
	defer logger.Close()

	ctx := context.Background()
	require.NoError(t, logger.Append(ctx, &Record{
		CompanyID: 1, ActorUserID: 2, Action: ActionRoleCreate, Resource: ResourceRole, ResourceID: "10",
	}))
	require.NoError(t, logger.Append(ctx, &Record{
		CompanyID: 1, ActorUserID: 2, Action: ActionRoleUpdate, Resource: ResourceRole, ResourceID: "10",
	}))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"role.create"`)
	assert.Contains(t, lines[1], `"role.update"`)
}
