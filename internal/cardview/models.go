package cardview

// SupportedModels is the informational model list shown on every credential
// card. It is configuration data, not derived from the credential: the
// Gemini CLI OAuth grant covers the whole family, so the card shows the same
// hint regardless of which credential backs it.
var SupportedModels = []string{
	"gemini-2.5-pro",
	"gemini-2.5-flash",
	"gemini-2.5-flash-lite",
	"gemini-2.0-flash",
}
