package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// VersionInfo is the build of this binary plus, in remote mode, the gateway
// it talks to.
type VersionInfo struct {
	Version   string      `json:"version"`
	GitCommit string      `json:"git_commit"`
	BuildDate string      `json:"build_date"`
	GoVersion string      `json:"go_version"`
	Platform  string      `json:"platform"`
	Server    ServerBuild `json:"server"`
}

// ServerBuild describes the pipeline that answers questions. Status is
// "in-process" when no gateway is configured.
type ServerBuild struct {
	Version string `json:"version,omitempty"`
	Status  string `json:"status"`
}

// SetVersionInfo overrides the build metadata; empty values keep the default.
func SetVersionInfo(version, commit, date string) {
	for dst, v := range map[*string]string{&Version: version, &GitCommit: commit, &BuildDate: date} {
		if v != "" {
			*dst = v
		}
	}
}

// GetVersionString renders the build metadata on one line.
func GetVersionString() string {
	return fmt.Sprintf("groundsql version %s (commit: %s, built: %s)", Version, GitCommit, BuildDate)
}

func (c *CLI) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Display version information",
		Long:  `Display the CLI build, and the gateway's when --endpoint is set.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := VersionInfo{
				Version:   Version,
				GitCommit: GitCommit,
				BuildDate: BuildDate,
				GoVersion: runtime.Version(),
				Platform:  runtime.GOOS + "/" + runtime.GOARCH,
				Server:    c.serverBuild(cmd),
			}
			if c.jsonOutput {
				return c.outputJSON(info)
			}
			c.println(GetVersionString())
			c.printf("  go:       %s (%s)\n", info.GoVersion, info.Platform)
			if info.Server.Version != "" {
				c.printf("  gateway:  %s (%s)\n", info.Server.Version, info.Server.Status)
			} else {
				c.printf("  pipeline: %s\n", info.Server.Status)
			}
			return nil
		},
	}
}

func (c *CLI) serverBuild(cmd *cobra.Command) ServerBuild {
	if !c.remote() {
		return ServerBuild{Status: "in-process"}
	}
	ctx := cmd.Context()
	b, err := c.client(ctx)
	if err != nil {
		return ServerBuild{Status: "unavailable"}
	}
	health, err := b.Status(ctx)
	if err != nil {
		return ServerBuild{Status: "unavailable"}
	}
	return ServerBuild{Version: health.Version, Status: health.Status}
}
