package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/pilab-dev/oauthdirac/config"
	"github.com/pilab-dev/oauthdirac/internal/proxyprovider"
	"github.com/pilab-dev/oauthdirac/log"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Storage:   config.StorageConfig{Backend: config.StorageTypeMemory},
		Directory: config.DirectoryConfig{Type: config.DirectoryTypeFile, Path: filepath.Join(t.TempDir(), "users.yaml")},
		Providers: []config.ProviderConfig{{
			Name:        "checkin",
			ClientID:    "dirac",
			RedirectURI: "https://bridge.example.org/auth/redirect",
			AuthURL:     "https://aai.example.org/authorize",
			TokenURL:    "https://aai.example.org/token",
		}},
	}
}

func TestBuild_ServesAPI(t *testing.T) {
	cfg := testConfig(t)
	app, err := build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { app.close(context.Background()) })

	srv := httptest.NewServer(app.httpServer(cfg, log.NewZerologAdapterTo(io.Discard, zerolog.Disabled, false)).Handler)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/v1/flows", "application/json", strings.NewReader(`{"provider":"checkin"}`))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Contains(t, string(body), `"status":"needToAuth"`)

	resp, err = http.Post(srv.URL+"/api/v1/flows", "application/json", strings.NewReader(`{"provider":"nowhere"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "oauthdirac_sessions_created_total")
}

func TestBuild_Backends(t *testing.T) {
	t.Run("bbolt store", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Storage = config.StorageConfig{Backend: config.StorageTypeBolt, BoltPath: filepath.Join(t.TempDir(), "sessions.db")}
		app, err := build(context.Background(), cfg)
		require.NoError(t, err)
		app.close(context.Background())
	})

	t.Run("redis proxy cache", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := testConfig(t)
		cfg.Redis = config.RedisConfig{Addr: mr.Addr(), Prefix: "test", EncryptionKey: "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY="}
		cfg.ProxyProviders = []proxyprovider.Config{{
			Name:             "MyProxy",
			IdProviders:      []string{"checkin"},
			GetProxyEndpoint: "https://proxy.example.org/getproxy",
		}}
		app, err := build(context.Background(), cfg)
		require.NoError(t, err)
		assert.Equal(t, []string{"MyProxy"}, app.manager.ProxyProviders())
		app.close(context.Background())
	})

	t.Run("broken directory", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Directory = config.DirectoryConfig{Type: config.DirectoryTypeLDAP}
		_, err := build(context.Background(), cfg)
		require.Error(t, err)
	})
}
