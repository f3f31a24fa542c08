package cardview

import "strings"

// StatusTier is the three-way display classification of a credential.
type StatusTier string

const (
	StatusDisabled  StatusTier = "disabled"
	StatusHealthy   StatusTier = "healthy"
	StatusUnhealthy StatusTier = "unhealthy"
)

// DefaultErrorLimit caps the displayed error message length in characters.
const DefaultErrorLimit = 150

// BusyFlags marks in-flight asynchronous operations for a single credential.
// They are supplied by whoever tracks the underlying requests; the deriver
// only consumes them to disable the matching controls.
type BusyFlags struct {
	Deleting        bool `json:"deleting"`
	CheckingHealth  bool `json:"checking_health"`
	RefreshingToken bool `json:"refreshing_token"`
}

// ActionState describes a single control on the credential card.
type ActionState struct {
	Visible bool `json:"visible"`
	Enabled bool `json:"enabled"`
}

// ActionSet holds the availability of every card action. No action is ever
// hidden because of status tier: operators must be able to re-enable, edit,
// or delete unhealthy and disabled credentials.
type ActionSet struct {
	Toggle       ActionState `json:"toggle"`
	Edit         ActionState `json:"edit"`
	CheckHealth  ActionState `json:"check_health"`
	RefreshToken ActionState `json:"refresh_token"`
	Reset        ActionState `json:"reset"`
	Delete       ActionState `json:"delete"`
}

// CardView is the render-ready state for one credential card. It is derived
// on demand and never stored.
type CardView struct {
	ID             string     `json:"id"`
	Name           string     `json:"name,omitempty"`
	Status         StatusTier `json:"status"`
	IsOAuth        bool       `json:"is_oauth"`
	ToggleLabel    string     `json:"toggle_label"`
	TruncatedError string     `json:"last_error,omitempty"`
	UsageCount     int64      `json:"usage_count"`
	ErrorCount     int64      `json:"error_count"`
	Actions        ActionSet  `json:"actions"`
}

// Subject is the minimal credential surface the deriver needs. The credential
// record itself is owned elsewhere; the deriver never mutates it.
type Subject struct {
	ID         string
	Name       string
	Type       string
	Disabled   bool
	Healthy    bool
	LastError  string
	UsageCount int64
	ErrorCount int64
}

// DeriveStatus classifies a credential for display. Disabled wins over
// everything else; an enabled credential is healthy or unhealthy.
func DeriveStatus(disabled, healthy bool) StatusTier {
	switch {
	case disabled:
		return StatusDisabled
	case healthy:
		return StatusHealthy
	default:
		return StatusUnhealthy
	}
}

// IsOAuthType reports whether a credential type string denotes an OAuth-based
// credential. Matching is a case-sensitive substring check, so "oauth",
// "google_oauth" and "claude_oauth" all qualify while "api_key" does not.
func IsOAuthType(credType string) bool {
	return strings.Contains(credType, "oauth")
}

// TruncateError caps msg at limit characters, appending an ellipsis when
// anything was cut. The cut happens on rune boundaries so multi-byte text is
// never split mid-sequence. A non-positive limit falls back to
// DefaultErrorLimit.
func TruncateError(msg string, limit int) string {
	if msg == "" {
		return ""
	}
	if limit <= 0 {
		limit = DefaultErrorLimit
	}
	runes := []rune(msg)
	if len(runes) <= limit {
		return msg
	}
	return string(runes[:limit]) + "…"
}

// ComputeActions applies the affordance policy: busy flags disable their own
// control, the refresh control only exists for OAuth credentials, and nothing
// else is ever withheld.
func ComputeActions(isOAuth bool, busy BusyFlags) ActionSet {
	return ActionSet{
		Toggle:       ActionState{Visible: true, Enabled: true},
		Edit:         ActionState{Visible: true, Enabled: true},
		CheckHealth:  ActionState{Visible: true, Enabled: !busy.CheckingHealth},
		RefreshToken: ActionState{Visible: isOAuth, Enabled: isOAuth && !busy.RefreshingToken},
		Reset:        ActionState{Visible: true, Enabled: true},
		Delete:       ActionState{Visible: true, Enabled: !busy.Deleting},
	}
}

// Derive computes the full card view for one credential plus its busy flags.
func Derive(sub Subject, busy BusyFlags) CardView {
	isOAuth := IsOAuthType(sub.Type)
	label := "disable"
	if sub.Disabled {
		label = "enable"
	}
	return CardView{
		ID:             sub.ID,
		Name:           sub.Name,
		Status:         DeriveStatus(sub.Disabled, sub.Healthy),
		IsOAuth:        isOAuth,
		ToggleLabel:    label,
		TruncatedError: TruncateError(sub.LastError, DefaultErrorLimit),
		UsageCount:     sub.UsageCount,
		ErrorCount:     sub.ErrorCount,
		Actions:        ComputeActions(isOAuth, busy),
	}
}
