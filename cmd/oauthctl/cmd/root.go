// Package cmd implements the oauthctl command tree.
package cmd

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pilab-dev/oauthdirac/log"
	"github.com/pilab-dev/oauthdirac/sessionclient"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const appName = "oauthctl"

// cli carries the state shared by all commands of one invocation.
type cli struct {
	v      *viper.Viper
	logger log.Logger
	client *sessionclient.Client
	// extra options for the session client, used by tests
	clientOpts []sessionclient.Option
}

// NewRootCmd builds the command tree.
func NewRootCmd(opts ...sessionclient.Option) *cobra.Command {
	c := &cli{v: viper.New(), clientOpts: opts}

	root := &cobra.Command{
		Use:           appName,
		Short:         "oauthctl talks to an OAuthDIRAC bridge",
		Long:          `A command-line interface for logging in through an OAuthDIRAC bridge and managing its sessions and proxies.`,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level := zerolog.WarnLevel
			if c.v.GetBool("verbose") {
				level = zerolog.DebugLevel
			}
			c.logger = log.Setup(level, true)

			switch c.output() {
			case "yaml", "json":
			default:
				return fmt.Errorf("unknown output format %q", c.output())
			}

			client, err := c.newClient()
			if err != nil {
				return err
			}
			c.client = client
			c.logger.Debug(cmd.Context(), "Using bridge", log.Fields{"server": c.v.GetString("server")})
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.client != nil {
				c.client.Close()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.String("server", "http://localhost:8080", "bridge base URL")
	flags.StringP("output", "o", "yaml", "output format: yaml or json")
	flags.String("cert", "", "client certificate (PEM) presented to the bridge")
	flags.String("key", "", "client certificate key (PEM)")
	flags.Duration("timeout", 30*time.Second, "HTTP request timeout")
	flags.BoolP("verbose", "v", false, "debug logging")
	_ = c.v.BindPFlags(flags)

	// OAUTHDIRAC_SERVER, OAUTHDIRAC_CERT, ...
	c.v.SetEnvPrefix("OAUTHDIRAC")
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.v.AutomaticEnv()

	root.AddCommand(
		newLoginCmd(c),
		newSessionCmd(c),
		newProfilesCmd(c),
		newProxyCmd(c),
	)
	return root
}

func (c *cli) output() string {
	return strings.ToLower(c.v.GetString("output"))
}

func (c *cli) newClient() (*sessionclient.Client, error) {
	hc := &http.Client{Timeout: c.v.GetDuration("timeout")}

	if certFile := c.v.GetString("cert"); certFile != "" {
		keyFile := c.v.GetString("key")
		if keyFile == "" {
			keyFile = certFile
		}
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		hc.Transport = &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12},
		}
	}

	opts := append([]sessionclient.Option{sessionclient.WithHTTPClient(hc)}, c.clientOpts...)
	return sessionclient.New(c.v.GetString("server"), opts...), nil
}

// print writes v in the selected output format.
func (c *cli) print(w io.Writer, v any) error {
	if c.output() == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	out, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}
