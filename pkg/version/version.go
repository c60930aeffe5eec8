package version

import (
	"fmt"
	"runtime"
)

// Set with -ldflags "-X".
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// ProtocolVersion is the revision of the tracer wire protocol spoken by this
// build: command tags, field widths and fixed descriptors.
const ProtocolVersion = 1

// Info describes a build. The tracer compares Protocol before driving an
// agent it did not build itself.
type Info struct {
	Version   string `yaml:"version"`
	BuildTime string `yaml:"build_time"`
	Protocol  int    `yaml:"protocol"`
	Platform  string `yaml:"platform"`
}

// Get returns the running build's Info.
func Get() Info {
	return Info{
		Version:   Version,
		BuildTime: BuildTime,
		Protocol:  ProtocolVersion,
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func (i Info) String() string {
	return fmt.Sprintf("ChronoTracee v%s (built: %s, protocol %d, %s)",
		i.Version, i.BuildTime, i.Protocol, i.Platform)
}

// LogAttrs returns i as slog key/value pairs.
func (i Info) LogAttrs() []any {
	return []any{"version", i.Version, "protocol", i.Protocol}
}

// Compatible reports whether a peer speaking protocol revision p can drive
// this build.
func Compatible(p int) bool {
	return p == ProtocolVersion
}
