package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/assetforge/internal/config"
	"github.com/conneroisu/assetforge/internal/errors"
)

func ruleNames(rs []*Rule) []string {
	names := make([]string, 0, len(rs))
	for _, r := range rs {
		names = append(names, r.Name)
	}
	return names
}

func TestDefaultRulesMatch(t *testing.T) {
	m, err := NewMatcher(config.DefaultRules())
	require.NoError(t, err)

	tests := []struct {
		path     string
		expected []string
		kind     Type
	}{
		{"src/index.js", []string{"scripts"}, TypeSource},
		{"src/lib/worker.mjs", []string{"scripts"}, TypeSource},
		{"node_modules/lodash/index.js", nil, TypeSource},
		{"src/index.html", []string{"markup"}, TypeSource},
		{"src/button.module.scss", []string{"scoped-styles"}, TypeSource},
		{"src/theme.sass", []string{"global-styles"}, TypeSource},
		{"src/reset.css", []string{"plain-css"}, TypeSource},
		{"src/logo.PNG", []string{"images"}, TypeAsset},
		{"README.md", nil, TypeSource},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			matched, err := m.Match(tt.path)
			require.NoError(t, err)
			if tt.expected == nil {
				assert.Empty(t, matched)
			} else {
				assert.Equal(t, tt.expected, ruleNames(matched))
			}
			assert.Equal(t, tt.kind, Kind(matched))
		})
	}
}

func TestMatchRunsAllMatchingRulesInOrder(t *testing.T) {
	m, err := NewMatcher([]config.RuleConfig{
		{Name: "lint", Test: `\.js$`},
		{Name: "other", Test: `\.css$`},
		{Name: "compile", Test: `\.m?js$`},
	})
	require.NoError(t, err)

	matched, err := m.Match("a/b.js")
	require.NoError(t, err)
	assert.Equal(t, []string{"lint", "compile"}, ruleNames(matched))
}

func TestMatchDeterministic(t *testing.T) {
	m, err := NewMatcher(config.DefaultRules())
	require.NoError(t, err)

	first, err := m.Match("src/components/card.module.sass")
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := m.Match("src/components/card.module.sass")
		require.NoError(t, err)
		assert.Equal(t, ruleNames(first), ruleNames(again))
	}
}

func TestScopedAndPlainConflictDetected(t *testing.T) {
	// The plain rule forgot its exclude, so scoped sheets match both.
	m, err := NewMatcher([]config.RuleConfig{
		{Name: "scoped", Test: `\.module\.scss$`, Group: "sass"},
		{Name: "plain", Test: `\.scss$`, Group: "sass"},
	})
	require.NoError(t, err)

	_, err = m.Match("src/a.module.scss")
	require.Error(t, err)
	assert.True(t, errors.IsConfigError(err))
	pe, ok := errors.AsPipelineError(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrCodeRuleConflict, pe.Code)
	assert.Equal(t, "src/a.module.scss", pe.Path)

	matched, err := m.Match("src/b.scss")
	require.NoError(t, err)
	assert.Equal(t, []string{"plain"}, ruleNames(matched))

	err = m.CheckExclusive([]string{"src/b.scss", "src/a.module.scss", "src/c.module.scss"})
	require.Error(t, err)
	assert.Len(t, errors.Flatten(err), 2)
}

func TestOverlapsReportsUngroupedRulesSharingTransforms(t *testing.T) {
	m, err := NewMatcher([]config.RuleConfig{
		{Name: "scoped", Test: `\.module\.scss$`, Use: []config.TransformRefConfig{{Name: "css"}, {Name: "sass"}}},
		{Name: "plain", Test: `\.scss$`, Use: []config.TransformRefConfig{{Name: "sass"}}},
		{Name: "lint", Test: `\.scss$`, Use: []config.TransformRefConfig{{Name: "stylelint"}}},
	})
	require.NoError(t, err)

	matched, err := m.Match("src/a.module.scss")
	require.NoError(t, err)
	overlaps := Overlaps(matched)
	require.Len(t, overlaps, 1)
	assert.Equal(t, "scoped", overlaps[0].First.Name)
	assert.Equal(t, "plain", overlaps[0].Second.Name)
	assert.Equal(t, "sass", overlaps[0].Transform)

	matched, err = m.Match("src/b.scss")
	require.NoError(t, err)
	assert.Empty(t, Overlaps(matched))
}

func TestDefaultRulesAreExclusive(t *testing.T) {
	m, err := NewMatcher(config.DefaultRules())
	require.NoError(t, err)

	assert.NoError(t, m.CheckExclusive([]string{
		"a.module.scss", "a.module.sass", "b.scss", "b.sass", "c.css", "d.js", "e.html",
	}))

	for _, path := range []string{"a.module.scss", "b.scss", "c.css", "d.js", "e.html", "f.png"} {
		matched, err := m.Match(path)
		require.NoError(t, err)
		assert.Empty(t, Overlaps(matched), path)
	}
}

func TestNewMatcherRejectsBadPatterns(t *testing.T) {
	tests := []struct {
		name string
		rule config.RuleConfig
	}{
		{"bad test", config.RuleConfig{Name: "x", Test: `(`}},
		{"lookahead unsupported", config.RuleConfig{Name: "x", Test: `^((?!\.module).)*s[ac]ss$`}},
		{"bad exclude", config.RuleConfig{Name: "x", Test: `\.js$`, Exclude: `[`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMatcher([]config.RuleConfig{tt.rule})
			require.Error(t, err)
			pe, ok := errors.AsPipelineError(err)
			require.True(t, ok)
			assert.Equal(t, errors.ErrCodeInvalidPattern, pe.Code)
		})
	}
}

func TestDescribe(t *testing.T) {
	m, err := NewMatcher(config.DefaultRules())
	require.NoError(t, err)
	for _, r := range m.Rules() {
		if r.Name == "scoped-styles" {
			d := r.Describe()
			assert.Contains(t, d, "group=sass")
			assert.Contains(t, d, "style(development)")
			assert.Contains(t, d, "extract-css(production)")
		}
	}
}
