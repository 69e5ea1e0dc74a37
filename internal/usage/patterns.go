package usage

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/samber/lo"

	"github.com/scan-io-git/vulnimpact/pkg/shared"
)

// Pattern captures a module specifier in its first group. When Scope is set,
// Expr only runs over the first capture group of each Scope match.
type Pattern struct {
	Expr  string
	Scope string
}

// PatternSet is the import grammar of one ecosystem.
type PatternSet struct {
	Ecosystem  string
	Extensions []string
	Patterns   []Pattern
}

// DefaultPatternSets returns the built-in npm and Go import grammars.
func DefaultPatternSets() []PatternSet {
	return []PatternSet{
		{
			Ecosystem:  shared.EcosystemNPM,
			Extensions: []string{".js", ".jsx", ".mjs", ".cjs", ".ts", ".tsx", ".vue", ".svelte"},
			Patterns: []Pattern{
				{Expr: `\bimport\s+(?:[\w*\s{},$]+?\s+from\s+)?['"]([^'"\n]+)['"]`},
				{Expr: `\bexport\s+(?:[\w*\s{},$]+?\s+)?from\s+['"]([^'"\n]+)['"]`},
				{Expr: `\bimport\s*\(\s*['"]([^'"\n]+)['"]\s*\)`},
				{Expr: `\brequire\s*\(\s*['"]([^'"\n]+)['"]\s*\)`},
			},
		},
		{
			Ecosystem:  shared.EcosystemGo,
			Extensions: []string{".go"},
			Patterns: []Pattern{
				{Expr: `(?m)^\s*import\s+(?:[\w.]+\s+)?"([^"\n]+)"`},
				{Expr: `(?m)^\s*(?:[\w.]+\s+)?"([^"\n]+)"`, Scope: `(?s)\bimport\s*\((.*?)\)`},
			},
		},
	}
}

type compiledPattern struct {
	expr  *regexp.Regexp
	scope *regexp.Regexp
}

type compiledSet struct {
	ecosystem  string
	extensions map[string]struct{}
	patterns   []compiledPattern
}

func compileSet(set PatternSet) (compiledSet, error) {
	cs := compiledSet{
		ecosystem:  set.Ecosystem,
		extensions: make(map[string]struct{}, len(set.Extensions)),
	}
	for _, ext := range set.Extensions {
		cs.extensions[strings.ToLower(ext)] = struct{}{}
	}
	for _, p := range set.Patterns {
		expr, err := regexp.Compile(p.Expr)
		if err != nil {
			return compiledSet{}, fmt.Errorf("pattern %q: %w", p.Expr, err)
		}
		if expr.NumSubexp() < 1 {
			return compiledSet{}, fmt.Errorf("pattern %q has no capture group", p.Expr)
		}
		cp := compiledPattern{expr: expr}
		if p.Scope != "" {
			if cp.scope, err = regexp.Compile(p.Scope); err != nil {
				return compiledSet{}, fmt.Errorf("scope %q: %w", p.Scope, err)
			}
		}
		cs.patterns = append(cs.patterns, cp)
	}
	return cs, nil
}

// mergeSets appends extensions and patterns of sets that share an ecosystem.
func mergeSets(sets []PatternSet) []PatternSet {
	merged := map[string]*PatternSet{}
	var order []string
	for _, s := range sets {
		key := strings.ToLower(s.Ecosystem)
		if existing, ok := merged[key]; ok {
			existing.Extensions = lo.Uniq(append(existing.Extensions, s.Extensions...))
			existing.Patterns = append(existing.Patterns, s.Patterns...)
			continue
		}
		copied := PatternSet{
			Ecosystem:  s.Ecosystem,
			Extensions: append([]string{}, s.Extensions...),
			Patterns:   append([]Pattern{}, s.Patterns...),
		}
		merged[key] = &copied
		order = append(order, key)
	}
	return lo.Map(order, func(key string, _ int) PatternSet { return *merged[key] })
}

// reference is one import statement found in a file.
type reference struct {
	specifier string
	statement string
}

func (cs compiledSet) references(content string) []reference {
	var refs []reference
	for _, p := range cs.patterns {
		regions := []string{content}
		if p.scope != nil {
			regions = regions[:0]
			for _, m := range p.scope.FindAllStringSubmatch(content, -1) {
				if len(m) > 1 {
					regions = append(regions, m[1])
				}
			}
		}
		for _, region := range regions {
			for _, m := range p.expr.FindAllStringSubmatch(region, -1) {
				refs = append(refs, reference{
					specifier: strings.TrimSpace(m[1]),
					statement: collapse(m[0]),
				})
			}
		}
	}
	return refs
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// referencesPackage reports whether an import specifier resolves into the package.
func referencesPackage(specifier, name string) bool {
	return specifier == name || strings.HasPrefix(specifier, name+"/")
}
