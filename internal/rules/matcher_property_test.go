//go:build property
// +build property

package rules

import (
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/conneroisu/assetforge/internal/config"
)

func TestMatcherProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(1234)
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	m, err := NewMatcher(config.DefaultRules())
	if err != nil {
		t.Fatal(err)
	}

	extensions := gen.OneConstOf(".js", ".mjs", ".css", ".scss", ".module.scss", ".sass", ".module.sass", ".html", ".png", ".txt")

	properties.Property("match result is stable across calls", prop.ForAll(
		func(dir, base, ext string) bool {
			path := dir + "/" + base + ext
			first, err1 := m.Match(path)
			second, err2 := m.Match(path)
			if (err1 == nil) != (err2 == nil) {
				return false
			}
			return reflect.DeepEqual(ruleNames(first), ruleNames(second))
		},
		gen.RegexMatch(`^[a-z]{1,8}(/[a-z]{1,8}){0,2}$`),
		gen.Identifier(),
		extensions,
	))

	properties.Property("default rules never conflict", prop.ForAll(
		func(base, ext string) bool {
			_, err := m.Match("src/" + base + ext)
			return err == nil
		},
		gen.Identifier(),
		extensions,
	))

	properties.Property("matched rules keep declaration order", prop.ForAll(
		func(base, ext string) bool {
			matched, err := m.Match(base + ext)
			if err != nil {
				return false
			}
			for i := 1; i < len(matched); i++ {
				if matched[i-1].Index >= matched[i].Index {
					return false
				}
			}
			return true
		},
		gen.Identifier(),
		extensions,
	))

	properties.TestingRun(t)
}
