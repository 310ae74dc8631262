// Package rules maps source paths to the transform rules that apply to them.
//
// Rules are an ordered list of tagged predicate/chain pairs. Every rule whose
// predicate matches runs, in declaration order. Rules that share a group are
// required to be disjoint; a path matched by two rules of one group is a
// configuration error rather than two chains running over the same file.
package rules

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/conneroisu/assetforge/internal/config"
	"github.com/conneroisu/assetforge/internal/errors"
)

// Type distinguishes transformable sources from terminal assets.
type Type string

const (
	TypeSource Type = "source"
	TypeAsset  Type = "asset"
)

// Rule is a compiled RuleConfig.
type Rule struct {
	Index   int
	Name    string
	Test    *regexp.Regexp
	Exclude *regexp.Regexp
	Type    Type
	Group   string
	Use     []config.TransformRefConfig
}

// Matches reports whether the rule applies to path. Paths are matched in
// slash form so patterns are portable.
func (r *Rule) Matches(path string) bool {
	p := filepath.ToSlash(path)
	if !r.Test.MatchString(p) {
		return false
	}
	if r.Exclude != nil && r.Exclude.MatchString(p) {
		return false
	}
	return true
}

// Matcher evaluates rules in declaration order.
type Matcher struct {
	rules []*Rule
}

// NewMatcher compiles the configured rules. Malformed patterns are reported
// as config errors before any build work starts.
func NewMatcher(cfgs []config.RuleConfig) (*Matcher, error) {
	m := &Matcher{rules: make([]*Rule, 0, len(cfgs))}

	for i, rc := range cfgs {
		name := rc.Name
		if name == "" {
			name = fmt.Sprintf("rule-%d", i)
		}

		test, err := regexp.Compile(rc.Test)
		if err != nil {
			return nil, errors.NewConfigError(errors.ErrCodeInvalidPattern,
				fmt.Sprintf("rule %q: invalid test pattern %q", name, rc.Test)).WithCause(err)
		}

		var exclude *regexp.Regexp
		if rc.Exclude != "" {
			exclude, err = regexp.Compile(rc.Exclude)
			if err != nil {
				return nil, errors.NewConfigError(errors.ErrCodeInvalidPattern,
					fmt.Sprintf("rule %q: invalid exclude pattern %q", name, rc.Exclude)).WithCause(err)
			}
		}

		typ := TypeSource
		if rc.Type == string(TypeAsset) {
			typ = TypeAsset
		}

		m.rules = append(m.rules, &Rule{
			Index:   i,
			Name:    name,
			Test:    test,
			Exclude: exclude,
			Type:    typ,
			Group:   rc.Group,
			Use:     rc.Use,
		})
	}

	return m, nil
}

// Rules returns the compiled rules in declaration order.
func (m *Matcher) Rules() []*Rule {
	out := make([]*Rule, len(m.rules))
	copy(out, m.rules)
	return out
}

// Match returns every rule applying to path, in declaration order. It fails
// with ErrCodeRuleConflict when two rules of the same group both match.
func (m *Matcher) Match(path string) ([]*Rule, error) {
	var matched []*Rule
	groups := make(map[string]*Rule)

	for _, r := range m.rules {
		if !r.Matches(path) {
			continue
		}
		if r.Group != "" {
			if prev, ok := groups[r.Group]; ok {
				return nil, conflictError(path, prev, r)
			}
			groups[r.Group] = r
		}
		matched = append(matched, r)
	}

	return matched, nil
}

// Kind summarises the matched rules: asset if any matched rule is an asset
// rule, source otherwise.
func Kind(matched []*Rule) Type {
	for _, r := range matched {
		if r.Type == TypeAsset {
			return TypeAsset
		}
	}
	return TypeSource
}

// Overlap is a pair of matched rules that both run one transform.
type Overlap struct {
	First, Second *Rule
	Transform     string
}

// Overlaps reports pairs of matched rules whose chains share a transform.
// Match only rejects rules of one group, so such pairs run that transform
// twice over the file; alternatives should be given a common group.
func Overlaps(matched []*Rule) []Overlap {
	var out []Overlap
	for i, a := range matched {
		for _, b := range matched[i+1:] {
			if name := sharedTransform(a, b); name != "" {
				out = append(out, Overlap{First: a, Second: b, Transform: name})
			}
		}
	}
	return out
}

func sharedTransform(a, b *Rule) string {
	names := make(map[string]bool, len(a.Use))
	for _, ref := range a.Use {
		names[ref.Name] = true
	}
	for _, ref := range b.Use {
		if names[ref.Name] {
			return ref.Name
		}
	}
	return ""
}

// CheckExclusive runs the group exclusivity check over paths and returns all
// conflicts found, sorted by path.
func (m *Matcher) CheckExclusive(paths []string) error {
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)

	collector := errors.NewCollector()
	for _, p := range sorted {
		if _, err := m.Match(p); err != nil {
			collector.Add(err)
		}
	}
	return collector.Err()
}

func conflictError(path string, a, b *Rule) error {
	return errors.NewConfigError(errors.ErrCodeRuleConflict,
		fmt.Sprintf("rules %q and %q (group %q) both match; their predicates must be disjoint",
			a.Name, b.Name, a.Group)).WithPath(path)
}

// Describe renders the rule as a single line for inspection output.
func (r *Rule) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s test=%s", r.Name, r.Test.String())
	if r.Exclude != nil {
		fmt.Fprintf(&b, " exclude=%s", r.Exclude.String())
	}
	if r.Group != "" {
		fmt.Fprintf(&b, " group=%s", r.Group)
	}
	if r.Type == TypeAsset {
		b.WriteString(" type=asset")
	}
	names := make([]string, 0, len(r.Use))
	for _, ref := range r.Use {
		n := ref.Name
		if ref.Mode != "" {
			n += "(" + ref.Mode + ")"
		}
		names = append(names, n)
	}
	if len(names) > 0 {
		fmt.Fprintf(&b, " use=[%s]", strings.Join(names, ", "))
	}
	return b.String()
}
