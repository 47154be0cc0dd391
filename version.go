package lumen

// Overridden at link time with -ldflags "-X github.com/justincjohnson/lumen.Version=...".
var (
	Version   = "0.1.0-dev"
	BuildDate = "unknown"
)
