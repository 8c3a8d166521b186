package directory

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/pilab-dev/oauthdirac/domain"
	"github.com/rs/zerolog/log"
)

// LDAPConfig describes where users live in the directory and which
// attributes carry their grid identity.
type LDAPConfig struct {
	ServerURL     string `mapstructure:"server_url"`
	BindDN        string `mapstructure:"bind_dn"`
	BindPassword  string `mapstructure:"bind_password"`
	UserBaseDN    string `mapstructure:"user_base_dn"`
	StartTLS      bool   `mapstructure:"start_tls"`
	SkipTLSVerify bool   `mapstructure:"skip_tls_verify"`

	AttributeName       string `mapstructure:"attribute_name"`
	AttributeEmail      string `mapstructure:"attribute_email"`
	AttributeDN         string `mapstructure:"attribute_dn"`
	AttributeGroups     string `mapstructure:"attribute_groups"`
	AttributeExternalID string `mapstructure:"attribute_external_id"`
}

func (c *LDAPConfig) setDefaults() {
	if c.AttributeName == "" {
		c.AttributeName = "uid"
	}
	if c.AttributeEmail == "" {
		c.AttributeEmail = "mail"
	}
	if c.AttributeDN == "" {
		c.AttributeDN = "gridCertificateSubject"
	}
	if c.AttributeGroups == "" {
		c.AttributeGroups = "memberOf"
	}
	if c.AttributeExternalID == "" {
		c.AttributeExternalID = "gridExternalId"
	}
}

// LDAPClient is the part of an LDAP connection the directory needs.
//
//go:generate go run go.uber.org/mock/mockgen -source=$GOFILE -destination=mock/mock_ldap_client.go -package=mock_$GOPACKAGE LDAPClient
type LDAPClient interface {
	Connect(url string, startTLS bool, skipTLSVerify bool) error
	Bind(username, password string) error
	SearchUser(baseDN, filter string, attributes []string) (*ldap.Entry, error)
	Close()
}

// LDAPDirectory looks users up in LDAP. It is read-only: merges are left to
// the directory administrators.
type LDAPDirectory struct {
	cfg       LDAPConfig
	newClient func() LDAPClient
}

var _ domain.UserDirectory = (*LDAPDirectory)(nil)

// NewLDAPDirectory creates the directory. A nil newClient dials real servers.
func NewLDAPDirectory(cfg LDAPConfig, newClient func() LDAPClient) (*LDAPDirectory, error) {
	if cfg.ServerURL == "" || cfg.UserBaseDN == "" {
		return nil, errors.New("ldap directory needs server_url and user_base_dn")
	}
	cfg.setDefaults()
	if newClient == nil {
		newClient = NewRealLDAPClient
	}
	return &LDAPDirectory{cfg: cfg, newClient: newClient}, nil
}

// External IDs are stored as "provider:sub".
func (d *LDAPDirectory) FindByExternalID(ctx context.Context, provider, externalID string) (*domain.LocalUser, error) {
	return d.search(ctx, d.cfg.AttributeExternalID, provider+":"+externalID)
}

func (d *LDAPDirectory) FindByDN(ctx context.Context, dn string) (*domain.LocalUser, error) {
	return d.search(ctx, d.cfg.AttributeDN, dn)
}

func (d *LDAPDirectory) FindByName(ctx context.Context, name string) (*domain.LocalUser, error) {
	return d.search(ctx, d.cfg.AttributeName, name)
}

func (d *LDAPDirectory) MergeUser(context.Context, string, domain.UserChanges) error {
	return domain.ErrDirectoryReadOnly
}

func (d *LDAPDirectory) search(_ context.Context, attr, value string) (*domain.LocalUser, error) {
	client := d.newClient()
	if err := client.Connect(d.cfg.ServerURL, d.cfg.StartTLS, d.cfg.SkipTLSVerify); err != nil {
		return nil, fmt.Errorf("ldap connection failed: %w", err)
	}
	defer client.Close()

	if err := client.Bind(d.cfg.BindDN, d.cfg.BindPassword); err != nil {
		return nil, fmt.Errorf("ldap bind failed: %w", err)
	}

	filter := fmt.Sprintf("(%s=%s)", attr, ldap.EscapeFilter(value))
	entry, err := client.SearchUser(d.cfg.UserBaseDN, filter, []string{
		d.cfg.AttributeName, d.cfg.AttributeEmail, d.cfg.AttributeDN,
		d.cfg.AttributeGroups, d.cfg.AttributeExternalID,
	})
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrUserNotFound
		}
		log.Error().Err(err).Str("filter", filter).Msg("LDAP user search failed")
		return nil, err
	}
	return d.toUser(entry), nil
}

func (d *LDAPDirectory) toUser(entry *ldap.Entry) *domain.LocalUser {
	u := &domain.LocalUser{
		Name:  entry.GetAttributeValue(d.cfg.AttributeName),
		Email: entry.GetAttributeValue(d.cfg.AttributeEmail),
		DNs:   entry.GetAttributeValues(d.cfg.AttributeDN),
	}
	for _, g := range entry.GetAttributeValues(d.cfg.AttributeGroups) {
		u.Groups = domain.Union(u.Groups, []string{groupName(g)})
	}
	for _, v := range entry.GetAttributeValues(d.cfg.AttributeExternalID) {
		provider, sub, ok := strings.Cut(v, ":")
		if !ok {
			continue
		}
		if u.ExternalIDs == nil {
			u.ExternalIDs = make(map[string][]string)
		}
		u.ExternalIDs[provider] = domain.Union(u.ExternalIDs[provider], []string{sub})
	}
	return u
}

// groupName turns "cn=biomed_user,ou=groups,dc=example" into "biomed_user".
func groupName(v string) string {
	first, _, _ := strings.Cut(v, ",")
	if _, name, ok := strings.Cut(first, "="); ok {
		return name
	}
	return v
}

// RealLDAPClient is an LDAPClient backed by go-ldap.
type RealLDAPClient struct {
	conn *ldap.Conn
}

func NewRealLDAPClient() LDAPClient {
	return &RealLDAPClient{}
}

func (r *RealLDAPClient) Connect(url string, startTLS bool, skipTLSVerify bool) error {
	var err error
	tlsCfg := &tls.Config{InsecureSkipVerify: skipTLSVerify} //nolint:gosec

	r.conn, err = ldap.DialURL(url)
	if err != nil {
		return fmt.Errorf("ldap connection to %s failed: %w", url, err)
	}

	if startTLS && r.conn != nil && !r.conn.IsClosing() {
		if errTLS := r.conn.StartTLS(tlsCfg); errTLS != nil {
			r.conn.Close()
			r.conn = nil
			return fmt.Errorf("ldap starttls for %s failed: %w", url, errTLS)
		}
	}
	return nil
}

// Bind with an empty DN is an anonymous bind.
func (r *RealLDAPClient) Bind(username, password string) error {
	if r.conn == nil {
		return fmt.Errorf("ldap connection not established for bind")
	}
	if username == "" {
		return r.conn.UnauthenticatedBind("")
	}
	return r.conn.Bind(username, password)
}

func (r *RealLDAPClient) SearchUser(baseDN, filter string, attributes []string) (*ldap.Entry, error) {
	if r.conn == nil {
		return nil, fmt.Errorf("ldap connection not established for search")
	}

	searchRequest := ldap.NewSearchRequest(
		baseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0,
		0,
		false,
		filter,
		attributes,
		nil,
	)

	sr, err := r.conn.Search(searchRequest)
	if err != nil {
		return nil, fmt.Errorf("ldap search failed (filter: %s): %w", filter, err)
	}

	if len(sr.Entries) == 0 {
		return nil, domain.ErrUserNotFound
	}
	if len(sr.Entries) > 1 {
		return nil, fmt.Errorf("ldap search returned %d entries for filter '%s', expected 1", len(sr.Entries), filter)
	}

	return sr.Entries[0], nil
}

func (r *RealLDAPClient) Close() {
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
}

var _ LDAPClient = (*RealLDAPClient)(nil)
