//go:build property
// +build property

package namer

import (
	"bytes"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/conneroisu/assetforge/internal/config"
)

func TestNamerProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(1234)
	parameters.MinSuccessfulTests = 300

	properties := gopter.NewProperties(parameters)
	prod := New(config.ModeProduction)
	dev := New(config.ModeDevelopment)

	properties.Property("production names are a function of content", prop.ForAll(
		func(name string, content []byte) bool {
			copyOf := append([]byte(nil), content...)
			return prod.Name("[name].[contenthash].js", Vars{Name: name}, content) ==
				prod.Name("[name].[contenthash].js", Vars{Name: name}, copyOf)
		},
		gen.Identifier(),
		gen.SliceOf(gen.UInt8()),
	))

	properties.Property("different content yields different production names", prop.ForAll(
		func(a, b []byte) bool {
			if bytes.Equal(a, b) {
				return true
			}
			return prod.Name("[name].[contenthash].js", Vars{Name: "x"}, a) !=
				prod.Name("[name].[contenthash].js", Vars{Name: "x"}, b)
		},
		gen.SliceOf(gen.UInt8()),
		gen.SliceOf(gen.UInt8()),
	))

	properties.Property("development names never embed the hash", prop.ForAll(
		func(name string, content []byte) bool {
			out := dev.Name("[name].[contenthash].css", Vars{Name: name}, content)
			return out == name+".css" && !strings.Contains(out, ShortHash(content, 8))
		},
		gen.Identifier(),
		gen.SliceOfN(16, gen.UInt8()),
	))

	properties.TestingRun(t)
}
