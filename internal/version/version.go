package version

// Version is the service version, overridable at build time via
// -ldflags "-X antigravity2api-go/internal/version.Version=v1.2.3".
var Version = "dev"
