// Package version holds build information injected through -ldflags
package version

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/jingkaihe/skillgate/pkg/envelope"
)

var (
	// Version is set at build time
	Version = "dev"
	// GitCommit is the commit the binary was built from
	GitCommit = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// Info is the version report of the binary
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"gitCommit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
	// Envelope is the session envelope contract version the binary validates against
	Envelope string `json:"envelope"`
}

// Get returns the version information of the running binary
func Get() Info {
	return Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
		Envelope:  envelope.CurrentVersion,
	}
}

func (i Info) String() string {
	return fmt.Sprintf("Version: %s, GitCommit: %s, BuildTime: %s, GoVersion: %s, Envelope: %s",
		i.Version, i.GitCommit, i.BuildTime, i.GoVersion, i.Envelope)
}

// JSON returns the indented JSON form of i
func (i Info) JSON() (string, error) {
	data, err := json.MarshalIndent(i, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
