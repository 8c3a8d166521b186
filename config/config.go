package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pilab-dev/oauthdirac/domain"
	"github.com/pilab-dev/oauthdirac/internal/directory"
	"github.com/pilab-dev/oauthdirac/internal/notify"
	"github.com/pilab-dev/oauthdirac/internal/proxyprovider"
	"github.com/pilab-dev/oauthdirac/internal/server"
	"github.com/pilab-dev/oauthdirac/internal/sessionmanager"
	"github.com/spf13/viper"
)

// StorageType selects the session store backend.
type StorageType string

const (
	StorageTypeMemory  StorageType = "memory"
	StorageTypeMongoDB StorageType = "mongodb"
	StorageTypeBolt    StorageType = "bbolt"
)

// DirectoryType selects where local users are looked up.
type DirectoryType string

const (
	DirectoryTypeFile DirectoryType = "file"
	DirectoryTypeLDAP DirectoryType = "ldap"
)

// Config holds all configuration of the bridge server.
type Config struct {
	Server         server.Config          `mapstructure:"server"`
	Log            LogConfig              `mapstructure:"log"`
	Tracing        TracingConfig          `mapstructure:"tracing"`
	Storage        StorageConfig          `mapstructure:"storage"`
	Redis          RedisConfig            `mapstructure:"redis"`
	Directory      DirectoryConfig        `mapstructure:"directory"`
	SMTP           notify.SMTPConfig      `mapstructure:"smtp"`
	Providers      []ProviderConfig       `mapstructure:"providers"`
	ProxyProviders []proxyprovider.Config `mapstructure:"proxy_providers"`
	Proxy          ProxyConfig            `mapstructure:"proxy"`
	Manager        sessionmanager.Config  `mapstructure:"manager"`
	// TrustedHosts are certificate DNs allowed to act for any user.
	TrustedHosts []string `mapstructure:"trusted_hosts"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

type StorageConfig struct {
	Backend  StorageType `mapstructure:"backend"`
	MongoURI string      `mapstructure:"mongo_uri"`
	MongoDB  string      `mapstructure:"mongo_db"`
	BoltPath string      `mapstructure:"bolt_path"`
}

// RedisConfig configures the shared proxy cache. An empty Addr keeps proxies
// in process memory. EncryptionKey is a base64 encoded 32 byte key; when set,
// proxies are stored sealed.
type RedisConfig struct {
	Addr          string `mapstructure:"addr"`
	Password      string `mapstructure:"password"`
	DB            int    `mapstructure:"db"`
	Prefix        string `mapstructure:"prefix"`
	EncryptionKey string `mapstructure:"encryption_key"`
}

type DirectoryConfig struct {
	Type DirectoryType        `mapstructure:"type"`
	Path string               `mapstructure:"path"`
	LDAP directory.LDAPConfig `mapstructure:"ldap"`
}

type ProxyConfig struct {
	FreshnessThreshold time.Duration `mapstructure:"freshness_threshold"`
}

// ProviderConfig describes one identity provider.
type ProviderConfig struct {
	Name          string              `mapstructure:"name"`
	Kind          string              `mapstructure:"kind"`
	ClientID      string              `mapstructure:"client_id"`
	ClientSecret  string              `mapstructure:"client_secret"`
	RedirectURI   string              `mapstructure:"redirect_uri"`
	Scopes        []string            `mapstructure:"scopes"`
	Prompt        string              `mapstructure:"prompt"`
	Issuer        string              `mapstructure:"issuer"`
	AuthURL       string              `mapstructure:"authorization_endpoint"`
	TokenURL      string              `mapstructure:"token_endpoint"`
	UserInfoURL   string              `mapstructure:"userinfo_endpoint"`
	RevocationURL string              `mapstructure:"revocation_endpoint"`
	JWKSURI       string              `mapstructure:"jwks_uri"`
	ProxyProvider string              `mapstructure:"proxy_provider"`
	VOMSClaim     string              `mapstructure:"voms_claim"`
	VOMSPattern   string              `mapstructure:"voms_pattern"`
	VOMSGroups    map[string][]string `mapstructure:"voms_groups"`
	DefaultGroups []string            `mapstructure:"default_groups"`
	DNClaim       string              `mapstructure:"dn_claim"`
	LoginURL      string              `mapstructure:"login_url"`
}

// ToDomain converts the provider configuration.
func (p ProviderConfig) ToDomain() *domain.IdentityProvider {
	return &domain.IdentityProvider{
		Name:         p.Name,
		Kind:         domain.ProviderKind(p.Kind),
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		RedirectURI:  p.RedirectURI,
		Scopes:       p.Scopes,
		Prompt:       p.Prompt,
		Endpoints: domain.ProviderEndpoints{
			Issuer:                p.Issuer,
			AuthorizationEndpoint: p.AuthURL,
			TokenEndpoint:         p.TokenURL,
			UserInfoEndpoint:      p.UserInfoURL,
			RevocationEndpoint:    p.RevocationURL,
			JWKSURI:               p.JWKSURI,
		},
		ProxyProvider: p.ProxyProvider,
		VOMSClaim:     p.VOMSClaim,
		VOMSPattern:   p.VOMSPattern,
		VOMSGroups:    p.VOMSGroups,
		DefaultGroups: p.DefaultGroups,
		DNClaim:       p.DNClaim,
		LoginURL:      p.LoginURL,
	}
}

// IdentityProviders converts all configured providers.
func (c *Config) IdentityProviders() []*domain.IdentityProvider {
	out := make([]*domain.IdentityProvider, 0, len(c.Providers))
	for _, p := range c.Providers {
		out = append(out, p.ToDomain())
	}
	return out
}

// Validate checks the settings that cannot be defaulted.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Backend {
	case StorageTypeMemory:
	case StorageTypeMongoDB:
		if c.Storage.MongoURI == "" {
			errs = append(errs, errors.New("storage.mongo_uri is required for the mongodb backend"))
		}
	case StorageTypeBolt:
		if c.Storage.BoltPath == "" {
			errs = append(errs, errors.New("storage.bolt_path is required for the bbolt backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.Storage.Backend))
	}

	switch c.Directory.Type {
	case DirectoryTypeFile:
		if c.Directory.Path == "" {
			errs = append(errs, errors.New("directory.path is required for the file directory"))
		}
	case DirectoryTypeLDAP:
		if c.Directory.LDAP.ServerURL == "" {
			errs = append(errs, errors.New("directory.ldap.server_url is required for the ldap directory"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown directory type %q", c.Directory.Type))
	}

	seen := map[string]bool{}
	for i, p := range c.Providers {
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("providers[%d] has no name", i))
			continue
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Errorf("provider %q is configured twice", p.Name))
		}
		seen[p.Name] = true
	}
	for _, pp := range c.ProxyProviders {
		for _, idp := range pp.IdProviders {
			if !seen[idp] {
				errs = append(errs, fmt.Errorf("proxy provider %q refers to unknown provider %q", pp.Name, idp))
			}
		}
	}

	return errors.Join(errs...)
}

// LoadConfig reads configuration from file, environment variables and
// defaults. An explicit path must exist; otherwise oauthdirac.yaml is looked
// up in the usual places and may be absent.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("oauthdirac")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/oauthdirac/")
		v.AddConfigPath("$HOME/.oauthdirac")
	}

	// OAUTHDIRAC_SERVER_ADDR, OAUTHDIRAC_STORAGE_MONGO_URI, ...
	v.SetEnvPrefix("OAUTHDIRAC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	mgr := sessionmanager.DefaultConfig()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.service_name", "oauthdirac")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "oauthdirac")

	v.SetDefault("storage.backend", string(StorageTypeMemory))
	v.SetDefault("storage.mongo_uri", "")
	v.SetDefault("storage.mongo_db", "oauthdirac")
	v.SetDefault("storage.bolt_path", "oauthdirac.db")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "oauthdirac")
	v.SetDefault("redis.encryption_key", "")

	v.SetDefault("directory.type", string(DirectoryTypeFile))
	v.SetDefault("directory.path", "users.yaml")

	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 25)

	v.SetDefault("proxy.freshness_threshold", proxyprovider.DefaultFreshnessThreshold.String())

	v.SetDefault("manager.link_lifetime", mgr.LinkLifetime.String())
	v.SetDefault("manager.zombie_threshold", mgr.ZombieThreshold.String())
	v.SetDefault("manager.sweep_interval", mgr.SweepInterval.String())
	v.SetDefault("manager.refresh_interval", mgr.RefreshInterval.String())
	v.SetDefault("manager.profile_ttl", mgr.ProfileTTL.String())
	v.SetDefault("manager.auto_merge", false)

	v.SetDefault("trusted_hosts", []string{})
}
