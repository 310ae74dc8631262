package optimize

import (
	"github.com/tdewolff/minify/v2/html"

	"github.com/conneroisu/assetforge/internal/config"
)

const markupType = "text/html"

// markupMinifier configures the HTML minifier from the optimization flags.
// Inline styles and scripts go through the CSS and script minifiers
// registered next to it. Document structure, end tags and attribute quotes
// are kept so emitted tags and injected references stay byte-stable.
func markupMinifier(cfg config.OptimizationConfig) *html.Minifier {
	return &html.Minifier{
		KeepComments:        !cfg.RemoveComments,
		KeepSpecialComments: true,
		KeepDefaultAttrVals: true,
		KeepDocumentTags:    true,
		KeepEndTags:         true,
		KeepQuotes:          true,
		KeepWhitespace:      !cfg.CollapseWhitespace,
	}
}
