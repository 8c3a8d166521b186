package directory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/pilab-dev/oauthdirac/domain"
	"github.com/pilab-dev/oauthdirac/internal/directory"
	mock_directory "github.com/pilab-dev/oauthdirac/internal/directory/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var ldapCfg = directory.LDAPConfig{
	ServerURL:    "ldap://ldap.example.org",
	BindDN:       "cn=reader,dc=example,dc=org",
	BindPassword: "secret",
	UserBaseDN:   "ou=people,dc=example,dc=org",
}

var userAttrs = []string{"uid", "mail", "gridCertificateSubject", "memberOf", "gridExternalId"}

func newLDAPDirectory(t *testing.T, client directory.LDAPClient) *directory.LDAPDirectory {
	t.Helper()
	d, err := directory.NewLDAPDirectory(ldapCfg, func() directory.LDAPClient { return client })
	require.NoError(t, err)
	return d
}

func TestLDAPDirectory_FindByExternalID(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mock_directory.NewMockLDAPClient(ctrl)

	entry := ldap.NewEntry("uid=jdoe,ou=people,dc=example,dc=org", map[string][]string{
		"uid":                    {"jdoe"},
		"mail":                   {"jane@example.org"},
		"gridCertificateSubject": {"/O=Grid/CN=Jane Doe"},
		"memberOf":               {"cn=biomed_user,ou=groups,dc=example,dc=org", "dteam_user"},
		"gridExternalId":         {"demoIdP:ext-1", "garbage"},
	})

	gomock.InOrder(
		client.EXPECT().Connect(ldapCfg.ServerURL, false, false).Return(nil),
		client.EXPECT().Bind(ldapCfg.BindDN, ldapCfg.BindPassword).Return(nil),
		client.EXPECT().SearchUser(ldapCfg.UserBaseDN, "(gridExternalId=demoIdP:ext-1)", userAttrs).Return(entry, nil),
		client.EXPECT().Close(),
	)

	u, err := newLDAPDirectory(t, client).FindByExternalID(context.Background(), "demoIdP", "ext-1")
	require.NoError(t, err)
	assert.Equal(t, "jdoe", u.Name)
	assert.Equal(t, "jane@example.org", u.Email)
	assert.Equal(t, []string{"/O=Grid/CN=Jane Doe"}, u.DNs)
	assert.Equal(t, []string{"biomed_user", "dteam_user"}, u.Groups)
	assert.Equal(t, map[string][]string{"demoIdP": {"ext-1"}}, u.ExternalIDs)
}

func TestLDAPDirectory_EscapesFilter(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mock_directory.NewMockLDAPClient(ctrl)

	client.EXPECT().Connect(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	client.EXPECT().Bind(gomock.Any(), gomock.Any()).Return(nil)
	client.EXPECT().SearchUser(ldapCfg.UserBaseDN, `(gridCertificateSubject=/O=Grid/CN=\28evil\29\2a)`, userAttrs).
		Return(nil, domain.ErrUserNotFound)
	client.EXPECT().Close()

	_, err := newLDAPDirectory(t, client).FindByDN(context.Background(), "/O=Grid/CN=(evil)*")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestLDAPDirectory_ConnectionFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mock_directory.NewMockLDAPClient(ctrl)
	client.EXPECT().Connect(gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("refused"))

	_, err := newLDAPDirectory(t, client).FindByName(context.Background(), "jdoe")
	assert.ErrorContains(t, err, "refused")
}

func TestLDAPDirectory_ReadOnly(t *testing.T) {
	d := newLDAPDirectory(t, nil)
	assert.ErrorIs(t, d.MergeUser(context.Background(), "jdoe", domain.UserChanges{}), domain.ErrDirectoryReadOnly)

	_, err := directory.NewLDAPDirectory(directory.LDAPConfig{}, nil)
	assert.Error(t, err)
}
