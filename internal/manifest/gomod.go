package manifest

import (
	"bufio"
	"bytes"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/mod/modfile"

	"github.com/scan-io-git/vulnimpact/internal/versionrange"
	"github.com/scan-io-git/vulnimpact/pkg/shared"
)

// GoParser reads go.mod and go.sum.
type GoParser struct{}

// NewGoParser returns the Go modules parser.
func NewGoParser() *GoParser {
	return &GoParser{}
}

func (p *GoParser) Ecosystem() string       { return shared.EcosystemGo }
func (p *GoParser) DefaultManifest() string { return "go.mod" }
func (p *GoParser) DefaultLockfile() string { return "go.sum" }

// ParseManifest returns go.mod requirements. Requirements marked "// indirect"
// are reported as transitive.
func (p *GoParser) ParseManifest(file string, content []byte) ([]shared.PackageRecord, error) {
	mod, err := modfile.ParseLax(file, content, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %q: %w", file, err)
	}

	pkgs := make([]shared.PackageRecord, 0, len(mod.Require))
	for _, req := range mod.Require {
		if req == nil || req.Mod.Path == "" {
			continue
		}
		pkgs = append(pkgs, shared.PackageRecord{
			Name:       req.Mod.Path,
			Version:    req.Mod.Version,
			Ecosystem:  shared.EcosystemGo,
			IsDirect:   !req.Indirect,
			SourceFile: file,
		})
	}
	return pkgs, nil
}

// ParseLockfile returns every module listed in go.sum at its highest listed version.
func (p *GoParser) ParseLockfile(file string, content []byte) ([]shared.PackageRecord, error) {
	highest := make(map[string]string)
	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		name := fields[0]
		version := strings.TrimSuffix(fields[1], "/go.mod")
		if !strings.HasPrefix(version, "v") {
			continue
		}
		if prev, ok := highest[name]; !ok || versionrange.Compare(version, prev) > 0 {
			highest[name] = version
		}
	}

	names := make([]string, 0, len(highest))
	for name := range highest {
		names = append(names, name)
	}
	sort.Strings(names)

	pkgs := make([]shared.PackageRecord, 0, len(names))
	for _, name := range names {
		pkgs = append(pkgs, shared.PackageRecord{
			Name:       name,
			Version:    highest[name],
			Ecosystem:  shared.EcosystemGo,
			IsDirect:   false,
			SourceFile: file,
		})
	}
	return pkgs, scanner.Err()
}
