// Package notify tells the grid administrators about identities that need
// their attention.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/pilab-dev/oauthdirac/domain"
	"github.com/pilab-dev/oauthdirac/internal/metrics"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Kind tells why administrators are notified.
type Kind string

const (
	// KindNewUser is sent for an identity with no local account.
	KindNewUser Kind = "new user"
	// KindMerged is sent after a local record was extended automatically.
	KindMerged Kind = "merged"
	// KindReported is sent when a local record needs a manual update.
	KindReported Kind = "reported"
)

// Notification describes one event.
type Notification struct {
	Kind      Kind                `yaml:"kind"`
	SessionID string              `yaml:"session"`
	Provider  string              `yaml:"provider"`
	UserName  string              `yaml:"user,omitempty"`
	Profile   *domain.UserProfile `yaml:"profile,omitempty"`
	Changes   *domain.UserChanges `yaml:"changes,omitempty"`
}

// Subject returns the mail subject line.
func (n Notification) Subject() string {
	switch n.Kind {
	case KindNewUser:
		name := ""
		if n.Profile != nil {
			name = n.Profile.UserName
		}
		return fmt.Sprintf("[OAuthManager] New user %q authenticated through %s", name, n.Provider)
	case KindMerged:
		return fmt.Sprintf("[OAuthManager] User %s was updated from %s", n.UserName, n.Provider)
	default:
		return fmt.Sprintf("[OAuthManager] User %s needs an update from %s", n.UserName, n.Provider)
	}
}

// Body renders the notification as readable text.
func (n Notification) Body() (string, error) {
	var b strings.Builder
	switch n.Kind {
	case KindNewUser:
		b.WriteString("An identity without a local account has authenticated. Please register it.\n\n")
	case KindMerged:
		b.WriteString("The following additions were merged into the local record.\n\n")
	default:
		b.WriteString("The identity brings additions to the local record that were not merged.\n\n")
	}
	data, err := yaml.Marshal(n)
	if err != nil {
		return "", fmt.Errorf("failed to render notification: %w", err)
	}
	b.Write(data)
	return b.String(), nil
}

// Notifier delivers notifications to the administrators.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the log. It is used when no mail
// server is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, n Notification) error {
	body, err := n.Body()
	if err != nil {
		return err
	}
	log.Warn().
		Str("kind", string(n.Kind)).
		Str("session", n.SessionID).
		Str("provider", n.Provider).
		Str("body", body).
		Msg(n.Subject())
	metrics.NotificationsSentTotal.Inc()
	return nil
}
