package cardview

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		name     string
		disabled bool
		healthy  bool
		want     StatusTier
	}{
		{name: "disabled wins over healthy", disabled: true, healthy: true, want: StatusDisabled},
		{name: "disabled wins over unhealthy", disabled: true, healthy: false, want: StatusDisabled},
		{name: "enabled healthy", disabled: false, healthy: true, want: StatusHealthy},
		{name: "enabled unhealthy", disabled: false, healthy: false, want: StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveStatus(tt.disabled, tt.healthy))
		})
	}
}

func TestIsOAuthType(t *testing.T) {
	tests := []struct {
		credType string
		want     bool
	}{
		{"oauth", true},
		{"google_oauth", true},
		{"claude_oauth", true},
		{"api_key", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run("type_"+tt.credType, func(t *testing.T) {
			assert.Equal(t, tt.want, IsOAuthType(tt.credType))
		})
	}
}

func TestTruncateError(t *testing.T) {
	t.Run("empty message produces nothing", func(t *testing.T) {
		assert.Equal(t, "", TruncateError("", DefaultErrorLimit))
	})

	t.Run("at limit passes through unchanged", func(t *testing.T) {
		msg := strings.Repeat("x", 150)
		assert.Equal(t, msg, TruncateError(msg, 150))
	})

	t.Run("one over limit is cut with marker", func(t *testing.T) {
		msg := strings.Repeat("x", 151)
		got := TruncateError(msg, 150)
		assert.Equal(t, strings.Repeat("x", 150)+"…", got)
	})

	t.Run("counts runes not bytes", func(t *testing.T) {
		// 10 three-byte runes, limit 5: the cut must land between runes.
		msg := strings.Repeat("凭", 10)
		got := TruncateError(msg, 5)
		assert.Equal(t, strings.Repeat("凭", 5)+"…", got)
	})

	t.Run("non-positive limit falls back to default", func(t *testing.T) {
		msg := strings.Repeat("x", 200)
		got := TruncateError(msg, 0)
		assert.Equal(t, strings.Repeat("x", 150)+"…", got)
	})
}

func TestComputeActions(t *testing.T) {
	t.Run("idle oauth credential has everything enabled", func(t *testing.T) {
		actions := ComputeActions(true, BusyFlags{})
		assert.True(t, actions.Toggle.Enabled)
		assert.True(t, actions.Edit.Enabled)
		assert.True(t, actions.CheckHealth.Enabled)
		assert.True(t, actions.RefreshToken.Visible)
		assert.True(t, actions.RefreshToken.Enabled)
		assert.True(t, actions.Reset.Enabled)
		assert.True(t, actions.Delete.Enabled)
	})

	t.Run("refresh hidden for non-oauth", func(t *testing.T) {
		actions := ComputeActions(false, BusyFlags{})
		assert.False(t, actions.RefreshToken.Visible)
		assert.False(t, actions.RefreshToken.Enabled)
	})

	t.Run("busy flags disable exactly their own control", func(t *testing.T) {
		actions := ComputeActions(true, BusyFlags{CheckingHealth: true})
		assert.False(t, actions.CheckHealth.Enabled)
		assert.True(t, actions.CheckHealth.Visible)
		assert.True(t, actions.Delete.Enabled)
		assert.True(t, actions.RefreshToken.Enabled)

		actions = ComputeActions(true, BusyFlags{Deleting: true})
		assert.False(t, actions.Delete.Enabled)
		assert.True(t, actions.CheckHealth.Enabled)

		actions = ComputeActions(true, BusyFlags{RefreshingToken: true})
		assert.False(t, actions.RefreshToken.Enabled)
		assert.True(t, actions.RefreshToken.Visible)
	})
}

func TestDeriveEndToEnd(t *testing.T) {
	sub := Subject{
		ID:        "cred-1",
		Type:      "claude_oauth",
		Disabled:  false,
		Healthy:   false,
		LastError: strings.Repeat("e", 200),
	}
	view := Derive(sub, BusyFlags{RefreshingToken: true})

	assert.Equal(t, StatusUnhealthy, view.Status)
	assert.True(t, view.IsOAuth)
	assert.Equal(t, strings.Repeat("e", 150)+"…", view.TruncatedError)
	assert.False(t, view.Actions.RefreshToken.Enabled)
	assert.True(t, view.Actions.CheckHealth.Enabled)
	assert.True(t, view.Actions.Delete.Enabled)
	assert.Equal(t, "disable", view.ToggleLabel)
}

func TestDeriveToggleLabel(t *testing.T) {
	view := Derive(Subject{ID: "c", Disabled: true}, BusyFlags{})
	assert.Equal(t, "enable", view.ToggleLabel)
	assert.Equal(t, StatusDisabled, view.Status)
	assert.True(t, view.Actions.Toggle.Enabled)
	assert.True(t, view.Actions.Delete.Enabled)
}
