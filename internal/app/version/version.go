package version

import "runtime/debug"

// Overridden at build time with -ldflags "-X tibridge/internal/app/version.buildVersion=...".
var (
	buildVersion = "dev"
	builtAt      = "unknown"
)

// Info represents the running build metadata.
type Info struct {
	Service      string `json:"service"`
	BuildVersion string `json:"buildVersion"`
	BuiltAt      string `json:"builtAt"`
	GoVersion    string `json:"goVersion,omitempty"`
}

func Get() Info {
	info := Info{
		Service:      "tibridge",
		BuildVersion: buildVersion,
		BuiltAt:      builtAt,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info.GoVersion = bi.GoVersion
	}
	return info
}
