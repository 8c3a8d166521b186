package directory_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pilab-dev/oauthdirac/domain"
	"github.com/pilab-dev/oauthdirac/internal/directory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const usersYAML = `users:
  - name: jdoe
    email: jane@example.org
    dns:
      - /O=Grid/CN=Jane Doe
    groups:
      - biomed_user
    external_ids:
      demoIdP:
        - ext-1
  - name: rroe
    dns:
      - /O=Grid/CN=Richard Roe
`

func writeUsers(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "users.yaml")
	require.NoError(t, os.WriteFile(path, []byte(usersYAML), 0o600))
	return path
}

func TestFileDirectory_Find(t *testing.T) {
	d, err := directory.NewFileDirectory(writeUsers(t))
	require.NoError(t, err)
	ctx := context.Background()

	u, err := d.FindByExternalID(ctx, "demoIdP", "ext-1")
	require.NoError(t, err)
	assert.Equal(t, "jdoe", u.Name)
	assert.Equal(t, "jane@example.org", u.Email)

	u, err = d.FindByDN(ctx, "/O=Grid/CN=Richard Roe")
	require.NoError(t, err)
	assert.Equal(t, "rroe", u.Name)

	_, err = d.FindByExternalID(ctx, "otherIdP", "ext-1")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
	_, err = d.FindByName(ctx, "nobody")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestFileDirectory_ReturnsCopies(t *testing.T) {
	d, err := directory.NewFileDirectory(writeUsers(t))
	require.NoError(t, err)
	ctx := context.Background()

	u, err := d.FindByName(ctx, "jdoe")
	require.NoError(t, err)
	u.Groups[0] = "changed"
	u.ExternalIDs["demoIdP"][0] = "changed"

	again, err := d.FindByName(ctx, "jdoe")
	require.NoError(t, err)
	assert.Equal(t, []string{"biomed_user"}, again.Groups)
	assert.Equal(t, []string{"ext-1"}, again.ExternalIDs["demoIdP"])
}

func TestFileDirectory_MergeUserPersists(t *testing.T) {
	path := writeUsers(t)
	d, err := directory.NewFileDirectory(path)
	require.NoError(t, err)
	ctx := context.Background()

	err = d.MergeUser(ctx, "rroe", domain.UserChanges{
		DNs:        []string{"/O=Grid/CN=Richard Roe 2"},
		Groups:     []string{"dteam_user"},
		Provider:   "demoIdP",
		ExternalID: "ext-9",
	})
	require.NoError(t, err)

	reloaded, err := directory.NewFileDirectory(path)
	require.NoError(t, err)
	u, err := reloaded.FindByExternalID(ctx, "demoIdP", "ext-9")
	require.NoError(t, err)
	assert.Equal(t, "rroe", u.Name)
	assert.Equal(t, []string{"/O=Grid/CN=Richard Roe", "/O=Grid/CN=Richard Roe 2"}, u.DNs)
	assert.Equal(t, []string{"dteam_user"}, u.Groups)

	assert.ErrorIs(t, d.MergeUser(ctx, "nobody", domain.UserChanges{}), domain.ErrUserNotFound)
}

func TestFileDirectory_MissingFile(t *testing.T) {
	d, err := directory.NewFileDirectory(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	_, err = d.FindByName(context.Background(), "jdoe")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestFileDirectory_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.yaml")
	require.NoError(t, os.WriteFile(path, []byte("users: [:"), 0o600))
	_, err := directory.NewFileDirectory(path)
	assert.Error(t, err)
}
