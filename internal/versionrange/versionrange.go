// Package versionrange decides whether a version falls within an advisory range.
//
// Ranges are OR-groups separated by "||"; inside a group comparators are
// separated by commas or whitespace and must all hold. Supported operators are
// >=, >, <=, <, =, ==, !=, ^ and ~ (also ~>), bare versions, x/X/* wildcards,
// partial versions and npm hyphen ranges ("1.2.3 - 2.0.0").
//
// Malformed input is treated as affected: Satisfies returns true when either
// the version or the range cannot be parsed, so an unreadable version never
// hides a vulnerability.
package versionrange

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	goversion "github.com/hashicorp/go-version"
)

var (
	operatorRe = regexp.MustCompile(`^(>=|<=|==|!=|~>|>|<|=|\^|~)?\s*(.*)$`)
	literalRe  = regexp.MustCompile(`v?(\d+(?:\.\d+){0,2}(?:-[0-9A-Za-z.\-]+)?(?:\+[0-9A-Za-z.\-]+)?)`)
)

type check func(v *goversion.Version) bool

// Satisfies reports whether version lies within rng.
// An empty range, an unparseable version or an unparseable range yield true.
func Satisfies(version, rng string) bool {
	rng = strings.TrimSpace(rng)
	if rng == "" {
		return true
	}
	v, err := goversion.NewVersion(Normalize(version))
	if err != nil {
		return true
	}
	groups, err := parseRange(rng)
	if err != nil {
		return true
	}
	for _, group := range groups {
		if matchAll(group, v) {
			return true
		}
	}
	return false
}

// Parse validates a range expression without evaluating it.
func Parse(rng string) error {
	_, err := parseRange(rng)
	return err
}

// Normalize strips whitespace, stray operator prefixes and Go module suffixes.
func Normalize(version string) string {
	v := strings.TrimSpace(version)
	v = strings.TrimLeft(v, "^~=v><! \t")
	v = strings.TrimSuffix(v, "/go.mod")
	v = strings.TrimSuffix(v, "+incompatible")
	return v
}

// Valid reports whether version parses after normalization.
func Valid(version string) bool {
	v := Normalize(version)
	if v == "" {
		return false
	}
	_, err := goversion.NewVersion(v)
	return err == nil
}

// Major returns the major component of version.
func Major(version string) (int, bool) {
	v, err := goversion.NewVersion(Normalize(version))
	if err != nil {
		return 0, false
	}
	return v.Segments()[0], true
}

// BumpPatch returns version with the patch component incremented.
func BumpPatch(version string) (string, bool) {
	v, err := goversion.NewVersion(Normalize(version))
	if err != nil {
		return "", false
	}
	s := v.Segments()
	if s[2] == math.MaxInt {
		return "", false
	}
	return fmt.Sprintf("%d.%d.%d", s[0], s[1], s[2]+1), true
}

// LowerBound returns the first literal version found in rng, or "" when there is none.
func LowerBound(rng string) string {
	m := literalRe.FindStringSubmatch(rng)
	if m == nil {
		return ""
	}
	return m[1]
}

// Compare compares two versions after normalization. Unparseable versions sort first.
func Compare(a, b string) int {
	va, errA := goversion.NewVersion(Normalize(a))
	vb, errB := goversion.NewVersion(Normalize(b))
	switch {
	case errA != nil && errB != nil:
		return strings.Compare(a, b)
	case errA != nil:
		return -1
	case errB != nil:
		return 1
	}
	return va.Compare(vb)
}

func matchAll(group []check, v *goversion.Version) bool {
	for _, c := range group {
		if !c(v) {
			return false
		}
	}
	return true
}

func parseRange(rng string) ([][]check, error) {
	var groups [][]check
	for _, part := range strings.Split(rng, "||") {
		group, err := parseGroup(part)
		if err != nil {
			return nil, err
		}
		groups = append(groups, group)
	}
	return groups, nil
}

func parseGroup(group string) ([]check, error) {
	tokens := tokenize(group)
	var checks []check

	for i := 0; i < len(tokens); i++ {
		if i+2 < len(tokens) && tokens[i+1] == "-" {
			hyphen, err := hyphenRange(tokens[i], tokens[i+2])
			if err != nil {
				return nil, err
			}
			checks = append(checks, hyphen...)
			i += 2
			continue
		}
		m := operatorRe.FindStringSubmatch(tokens[i])
		if m == nil {
			return nil, fmt.Errorf("invalid comparator %q", tokens[i])
		}
		c, err := comparator(m[1], m[2])
		if err != nil {
			return nil, err
		}
		checks = append(checks, c...)
	}
	return checks, nil
}

// tokenize splits a group on commas and whitespace and rejoins detached operators.
func tokenize(group string) []string {
	fields := strings.Fields(strings.ReplaceAll(group, ",", " "))
	var tokens []string
	for i := 0; i < len(fields); i++ {
		f := fields[i]
		if isOperator(f) && i+1 < len(fields) {
			tokens = append(tokens, f+fields[i+1])
			i++
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

func isOperator(s string) bool {
	switch s {
	case ">=", "<=", "==", "!=", "~>", ">", "<", "=", "^", "~":
		return true
	}
	return false
}

// partial is a version with possibly missing or wildcard components.
type partial struct {
	segments []int
	full     *goversion.Version
}

func parsePartial(raw string) (partial, error) {
	raw = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(raw), "v"), "V")
	raw = strings.TrimSuffix(raw, "+incompatible")
	if raw == "" || raw == "*" || raw == "x" || raw == "X" {
		return partial{}, nil
	}

	core := raw
	if idx := strings.IndexAny(core, "-+"); idx >= 0 {
		core = core[:idx]
	}
	var segments []int
	for _, s := range strings.Split(core, ".") {
		if s == "x" || s == "X" || s == "*" {
			break
		}
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return partial{}, fmt.Errorf("invalid version %q", raw)
		}
		segments = append(segments, n)
	}
	if len(segments) > 3 {
		segments = segments[:3]
	}

	p := partial{segments: segments}
	if len(segments) == 3 {
		v, err := goversion.NewVersion(raw)
		if err != nil {
			return partial{}, fmt.Errorf("invalid version %q: %w", raw, err)
		}
		p.full = v
	}
	return p, nil
}

// floor pads the partial with zeros.
func (p partial) floor() (*goversion.Version, error) {
	if p.full != nil {
		return p.full, nil
	}
	s := append(append([]int{}, p.segments...), 0, 0, 0)
	return newVersion(s[0], s[1], s[2])
}

// ceiling is the first version past the partial ("1.2" -> 1.3.0).
func (p partial) ceiling() (*goversion.Version, error) {
	s := append(append([]int{}, p.segments...), 0, 0, 0)
	switch len(p.segments) {
	case 1:
		return bumped(s, 0)
	case 2:
		return bumped(s, 1)
	default:
		return bumped(s, 2)
	}
}

// bumped increments segment i of s and zeroes the segments after it.
func bumped(s []int, i int) (*goversion.Version, error) {
	if s[i] == math.MaxInt {
		return nil, fmt.Errorf("version segment %d overflows", s[i])
	}
	out := []int{s[0], s[1], s[2]}
	out[i]++
	for j := i + 1; j < len(out); j++ {
		out[j] = 0
	}
	return newVersion(out[0], out[1], out[2])
}

func newVersion(major, minor, patch int) (*goversion.Version, error) {
	return goversion.NewVersion(fmt.Sprintf("%d.%d.%d", major, minor, patch))
}

func atLeast(b *goversion.Version) check { return func(v *goversion.Version) bool { return v.Compare(b) >= 0 } }
func above(b *goversion.Version) check   { return func(v *goversion.Version) bool { return v.Compare(b) > 0 } }
func atMost(b *goversion.Version) check  { return func(v *goversion.Version) bool { return v.Compare(b) <= 0 } }
func below(b *goversion.Version) check   { return func(v *goversion.Version) bool { return v.Compare(b) < 0 } }
func equal(b *goversion.Version) check   { return func(v *goversion.Version) bool { return v.Compare(b) == 0 } }

func comparator(op, raw string) ([]check, error) {
	p, err := parsePartial(raw)
	if err != nil {
		return nil, err
	}
	if len(p.segments) == 0 {
		// wildcard: anything, except the impossible "< *" and "> *"
		if op == "<" || op == ">" || op == "!=" {
			return []check{func(*goversion.Version) bool { return false }}, nil
		}
		return nil, nil
	}

	exact := p.full != nil
	switch op {
	case "", "=", "==":
		if exact {
			return []check{equal(p.full)}, nil
		}
		return between(p.floor, p.ceiling)
	case "!=":
		if exact {
			return []check{func(v *goversion.Version) bool { return v.Compare(p.full) != 0 }}, nil
		}
		lo, hi, err := bounds(p.floor, p.ceiling)
		if err != nil {
			return nil, err
		}
		return []check{func(v *goversion.Version) bool { return v.Compare(lo) < 0 || v.Compare(hi) >= 0 }}, nil
	case ">=":
		return single(atLeast, p.floor)
	case ">":
		if exact {
			return []check{above(p.full)}, nil
		}
		return single(atLeast, p.ceiling)
	case "<":
		return single(below, p.floor)
	case "<=":
		if exact {
			return []check{atMost(p.full)}, nil
		}
		return single(below, p.ceiling)
	case "~", "~>":
		return between(p.floor, func() (*goversion.Version, error) { return tildeCeiling(p) })
	case "^":
		return between(p.floor, func() (*goversion.Version, error) { return caretCeiling(p) })
	}
	return nil, fmt.Errorf("unsupported operator %q", op)
}

type bound func() (*goversion.Version, error)

func bounds(lo, hi bound) (*goversion.Version, *goversion.Version, error) {
	l, err := lo()
	if err != nil {
		return nil, nil, err
	}
	h, err := hi()
	if err != nil {
		return nil, nil, err
	}
	return l, h, nil
}

// between is the half-open interval [lo, hi).
func between(lo, hi bound) ([]check, error) {
	l, h, err := bounds(lo, hi)
	if err != nil {
		return nil, err
	}
	return []check{atLeast(l), below(h)}, nil
}

func single(mk func(*goversion.Version) check, b bound) ([]check, error) {
	v, err := b()
	if err != nil {
		return nil, err
	}
	return []check{mk(v)}, nil
}

// tildeCeiling allows patch-level changes when a minor is given, else minor-level.
func tildeCeiling(p partial) (*goversion.Version, error) {
	s := append(append([]int{}, p.segments...), 0, 0, 0)
	if len(p.segments) == 1 {
		return bumped(s, 0)
	}
	return bumped(s, 1)
}

// caretCeiling allows changes that do not modify the left-most non-zero component.
func caretCeiling(p partial) (*goversion.Version, error) {
	s := append(append([]int{}, p.segments...), 0, 0, 0)
	switch {
	case s[0] > 0 || len(p.segments) == 1:
		return bumped(s, 0)
	case s[1] > 0 || len(p.segments) == 2:
		return bumped(s, 1)
	default:
		return bumped(s, 2)
	}
}

func hyphenRange(from, to string) ([]check, error) {
	lo, err := parsePartial(from)
	if err != nil {
		return nil, err
	}
	hi, err := parsePartial(to)
	if err != nil {
		return nil, err
	}
	var checks []check
	if len(lo.segments) > 0 {
		floor, err := lo.floor()
		if err != nil {
			return nil, err
		}
		checks = append(checks, atLeast(floor))
	}
	if len(hi.segments) > 0 {
		if hi.full != nil {
			checks = append(checks, atMost(hi.full))
		} else {
			ceiling, err := hi.ceiling()
			if err != nil {
				return nil, err
			}
			checks = append(checks, below(ceiling))
		}
	}
	return checks, nil
}
