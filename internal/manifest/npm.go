package manifest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/scan-io-git/vulnimpact/pkg/shared"
)

var (
	// lockEntryRe recovers name/version pairs from lockfiles that are not valid JSON.
	lockEntryRe = regexp.MustCompile(`"(?:[^"]*node_modules/)?((?:@[^"/\s]+/)?[^"/\s]+)"\s*:\s*\{\s*"version"\s*:\s*"([^"]+)"`)
	yarnHeadRe  = regexp.MustCompile(`^"?((?:@[^@"/\s]+/)?[^@"\s,]+)@`)
	yarnVerRe   = regexp.MustCompile(`^\s+version:?\s+"?([^"\s]+)"?`)
)

var nonRegistryPrefixes = []string{"file:", "link:", "workspace:", "git+", "git:", "github:", "http://", "https://", "npm:", "portal:", "patch:"}

// NPMParser reads package.json, package-lock.json (v1-v3), npm-shrinkwrap.json and yarn.lock.
type NPMParser struct{}

// NewNPMParser returns the npm ecosystem parser.
func NewNPMParser() *NPMParser {
	return &NPMParser{}
}

func (p *NPMParser) Ecosystem() string       { return shared.EcosystemNPM }
func (p *NPMParser) DefaultManifest() string { return "package.json" }
func (p *NPMParser) DefaultLockfile() string { return "package-lock.json" }

type packageJSON struct {
	Dependencies         map[string]string `json:"dependencies"`
	DevDependencies      map[string]string `json:"devDependencies"`
	OptionalDependencies map[string]string `json:"optionalDependencies"`
	PeerDependencies     map[string]string `json:"peerDependencies"`
}

// ParseManifest returns every runtime, development, optional and peer dependency.
func (p *NPMParser) ParseManifest(file string, content []byte) ([]shared.PackageRecord, error) {
	var data packageJSON
	if err := json.Unmarshal(content, &data); err != nil {
		return nil, fmt.Errorf("failed to parse %q: %w", file, err)
	}

	var pkgs []shared.PackageRecord
	for _, deps := range []map[string]string{data.Dependencies, data.DevDependencies, data.OptionalDependencies, data.PeerDependencies} {
		for name, spec := range deps {
			spec = strings.TrimSpace(spec)
			if name == "" || !registrySpecifier(spec) {
				continue
			}
			pkgs = append(pkgs, shared.PackageRecord{
				Name:       name,
				Version:    spec,
				Ecosystem:  shared.EcosystemNPM,
				IsDirect:   true,
				SourceFile: file,
			})
		}
	}
	return pkgs, nil
}

// registrySpecifier reports whether a dependency spec points at the npm registry.
func registrySpecifier(spec string) bool {
	if spec == "" {
		return false
	}
	for _, prefix := range nonRegistryPrefixes {
		if strings.HasPrefix(spec, prefix) {
			return false
		}
	}
	// "owner/repo" GitHub shorthand
	return !strings.Contains(spec, "/")
}

// ParseLockfile dispatches on the lockfile name.
func (p *NPMParser) ParseLockfile(file string, content []byte) ([]shared.PackageRecord, error) {
	if path.Base(file) == "yarn.lock" {
		return parseYarnLock(file, content)
	}
	return parsePackageLock(file, content), nil
}

type lockPackage struct {
	Version      string                     `json:"version"`
	Link         bool                       `json:"link"`
	Dependencies map[string]json.RawMessage `json:"dependencies"`
}

func parsePackageLock(file string, content []byte) []shared.PackageRecord {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(content, &doc); err != nil {
		return scanLockEntries(file, content)
	}

	var pkgs []shared.PackageRecord
	add := func(name, version string) {
		if name == "" || version == "" {
			return
		}
		pkgs = append(pkgs, shared.PackageRecord{
			Name:       name,
			Version:    version,
			Ecosystem:  shared.EcosystemNPM,
			IsDirect:   false,
			SourceFile: file,
		})
	}

	// lockfileVersion 2 and 3
	if raw, ok := doc["packages"]; ok {
		var entries map[string]json.RawMessage
		if err := json.Unmarshal(raw, &entries); err == nil {
			for key, rawEntry := range entries {
				idx := strings.LastIndex(key, "node_modules/")
				if idx < 0 {
					continue
				}
				var entry lockPackage
				if err := json.Unmarshal(rawEntry, &entry); err != nil || entry.Link {
					continue
				}
				add(key[idx+len("node_modules/"):], entry.Version)
			}
			return pkgs
		}
	}

	// lockfileVersion 1
	if raw, ok := doc["dependencies"]; ok {
		var deps map[string]json.RawMessage
		if err := json.Unmarshal(raw, &deps); err == nil {
			walkLockDependencies(deps, add)
		}
	}
	return pkgs
}

func walkLockDependencies(deps map[string]json.RawMessage, add func(name, version string)) {
	for name, raw := range deps {
		var entry lockPackage
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}
		add(name, entry.Version)
		if len(entry.Dependencies) > 0 {
			walkLockDependencies(entry.Dependencies, add)
		}
	}
}

func scanLockEntries(file string, content []byte) []shared.PackageRecord {
	var pkgs []shared.PackageRecord
	for _, m := range lockEntryRe.FindAllSubmatch(content, -1) {
		pkgs = append(pkgs, shared.PackageRecord{
			Name:       string(m[1]),
			Version:    string(m[2]),
			Ecosystem:  shared.EcosystemNPM,
			IsDirect:   false,
			SourceFile: file,
		})
	}
	return pkgs
}

// maxYarnLine bounds a single yarn.lock line.
const maxYarnLine = 1 << 20

// parseYarnLock reads yarn v1 and berry lockfiles: a header line naming the
// package followed by an indented version line. A read error returns the
// entries parsed so far.
func parseYarnLock(file string, content []byte) ([]shared.PackageRecord, error) {
	var pkgs []shared.PackageRecord
	current := ""
	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), maxYarnLine)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.HasPrefix(line, " ") {
			current = ""
			if m := yarnHeadRe.FindStringSubmatch(line); m != nil {
				current = m[1]
			}
			continue
		}
		if current == "" {
			continue
		}
		if m := yarnVerRe.FindStringSubmatch(line); m != nil {
			pkgs = append(pkgs, shared.PackageRecord{
				Name:       current,
				Version:    m[1],
				Ecosystem:  shared.EcosystemNPM,
				IsDirect:   false,
				SourceFile: file,
			})
			current = ""
		}
	}
	if err := scanner.Err(); err != nil {
		return pkgs, fmt.Errorf("failed to read %s after %d entries: %w", file, len(pkgs), err)
	}
	return pkgs, nil
}
