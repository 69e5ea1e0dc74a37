package version

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/scan-io-git/vulnimpact/internal/config"
)

var (
	AppConfig     *config.Config
	CoreVersion   = "unknown"
	GolangVersion = "unknown"
	BuildTime     = "unknown"
)

// CoreVersions holds version information for the core application and plugins.
type CoreVersions struct {
	Version       string                `json:"version"`
	GolangVersion string                `json:"golang_version"`
	BuildTime     string                `json:"build_time"`
	PluginsMeta   map[string]PluginMeta `json:"plugins_meta"`
}

// PluginMeta holds version information for a plugin.
type PluginMeta struct {
	Version    string `json:"version"`
	PluginType string `json:"plugin_type"`
}

const versionFileSuffix = ".version"

// Init initializes the global configuration variable.
func Init(cfg *config.Config) {
	AppConfig = cfg
}

// NewVersionCmd creates a new cobra.Command for the version command.
func NewVersionCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:                   "version",
		SilenceUsage:          true,
		DisableFlagsInUseLine: true,
		Short:                 "Print the version number of the application and plugins",
		RunE: func(cmd *cobra.Command, args []string) error {
			pluginsFolder := ""
			if AppConfig != nil {
				pluginsFolder = AppConfig.Source.PluginsFolder
			}
			version := CoreVersions{
				Version:       CoreVersion,
				GolangVersion: GolangVersion,
				BuildTime:     BuildTime,
				PluginsMeta:   getPluginVersions(pluginsFolder),
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(version)
			}
			printVersionInfo(cmd.OutOrStdout(), &version)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print version information as JSON")
	return cmd
}

// readVersionFile reads and parses a plugin version file as JSON.
func readVersionFile(versionFilePath string) PluginMeta {
	var pm PluginMeta
	data, err := os.ReadFile(versionFilePath)
	if err != nil {
		return PluginMeta{Version: "unknown", PluginType: "unknown"}
	}
	if err := json.Unmarshal(data, &pm); err != nil {
		return PluginMeta{Version: "unknown", PluginType: "unknown"}
	}
	return pm
}

// getPluginVersions lists the plugin binaries of the folder with the version
// recorded next to each of them as "<name>.version".
func getPluginVersions(pluginsDir string) map[string]PluginMeta {
	pluginsMeta := make(map[string]PluginMeta)
	if pluginsDir == "" {
		return pluginsMeta
	}
	entries, err := os.ReadDir(pluginsDir)
	if err != nil {
		return pluginsMeta
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasSuffix(name, versionFileSuffix) {
			continue
		}
		pluginsMeta[name] = readVersionFile(filepath.Join(pluginsDir, name+versionFileSuffix))
	}
	return pluginsMeta
}

// printVersionInfo prints the version information for the core application and plugins.
func printVersionInfo(w io.Writer, versions *CoreVersions) {
	fmt.Fprintf(w, "Core Version: v%s\n", versions.Version)
	if len(versions.PluginsMeta) > 0 {
		fmt.Fprintln(w, "Plugin Versions:")
		names := make([]string, 0, len(versions.PluginsMeta))
		for name := range versions.PluginsMeta {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			meta := versions.PluginsMeta[name]
			fmt.Fprintf(w, "  %s: v%s (Type: %s)\n", name, meta.Version, meta.PluginType)
		}
	}
	fmt.Fprintf(w, "Go Version: %s\n", versions.GolangVersion)
	fmt.Fprintf(w, "Build Time: %s\n", versions.BuildTime)
}
