package build

import (
	"bytes"
	"fmt"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// InjectTags adds a stylesheet link per CSS file to the head and a script
// per JS file to the end of the body, both in the order given.
func InjectTags(template []byte, styles, scripts []string) ([]byte, error) {
	doc, err := html.Parse(bytes.NewReader(template))
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}

	head := findElement(doc, atom.Head)
	body := findElement(doc, atom.Body)
	if head == nil || body == nil {
		// html.Parse always synthesizes both.
		return nil, fmt.Errorf("template has no head or body")
	}

	for _, href := range styles {
		head.AppendChild(&html.Node{
			Type:     html.ElementNode,
			DataAtom: atom.Link,
			Data:     "link",
			Attr: []html.Attribute{
				{Key: "rel", Val: "stylesheet"},
				{Key: "href", Val: href},
			},
		})
	}
	for _, src := range scripts {
		body.AppendChild(&html.Node{
			Type:     html.ElementNode,
			DataAtom: atom.Script,
			Data:     "script",
			Attr: []html.Attribute{
				{Key: "defer"},
				{Key: "src", Val: src},
			},
		})
	}

	var out bytes.Buffer
	if err := html.Render(&out, doc); err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	return out.Bytes(), nil
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}
