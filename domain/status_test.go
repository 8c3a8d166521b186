package domain_test

import (
	"encoding/json"
	"testing"

	"github.com/pilab-dev/oauthdirac/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStatus_ParseRoundTrip(t *testing.T) {
	for _, name := range []string{
		"prepared", "in progress", "finishing", "needToAuth", "redirect", "reserved",
		"ready", "authed", "authed and notify", "authed and reported", "visitor", "failed",
	} {
		status, err := domain.ParseSessionStatus(name)
		require.NoError(t, err, name)
		assert.Equal(t, name, status.String())
	}

	_, err := domain.ParseSessionStatus("authed and reportd")
	assert.ErrorIs(t, err, domain.ErrUnknownStatus)
}

func TestSessionStatus_JSON(t *testing.T) {
	raw, err := json.Marshal(struct {
		Status domain.SessionStatus `json:"status"`
	}{domain.StatusAuthedAndNotify})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"authed and notify"}`, string(raw))

	var out struct {
		Status domain.SessionStatus `json:"status"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"status":"in progress"}`), &out))
	assert.Equal(t, domain.StatusInProgress, out.Status)

	assert.Error(t, json.Unmarshal([]byte(`{"status":"bogus"}`), &out))
}

func TestSessionStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to domain.SessionStatus
		allowed  bool
	}{
		{domain.StatusPrepared, domain.StatusFinishing, true},
		{domain.StatusPrepared, domain.StatusInProgress, true},
		{domain.StatusInProgress, domain.StatusFinishing, true},
		{domain.StatusFinishing, domain.StatusAuthed, true},
		{domain.StatusFinishing, domain.StatusRedirect, true},
		{domain.StatusFinishing, domain.StatusReserved, true},
		{domain.StatusRedirect, domain.StatusAuthedAndReported, true},
		{domain.StatusReserved, domain.StatusReserved, true},
		{domain.StatusAuthed, domain.StatusPrepared, false},
		{domain.StatusFinishing, domain.StatusPrepared, false},
		{domain.StatusPrepared, domain.StatusAuthed, false},
		{domain.StatusFailed, domain.StatusAuthed, false},
		{domain.StatusVisitor, domain.StatusInProgress, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestSessionStatus_Classification(t *testing.T) {
	assert.True(t, domain.StatusNeedToAuth.IsFlowAnswer())
	assert.True(t, domain.StatusReady.IsFlowAnswer())
	assert.False(t, domain.StatusPrepared.IsFlowAnswer())

	assert.True(t, domain.StatusVisitor.IsTerminal())
	assert.False(t, domain.StatusRedirect.IsTerminal())
	assert.False(t, domain.StatusReserved.IsTerminal())
}
