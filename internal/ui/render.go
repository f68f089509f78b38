package ui

import (
	"html/template"
	"io"
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/ast"
	mdhtml "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

// Markdown renders model output as HTML. Anything the parser takes for raw
// HTML is written back as escaped text, so comparisons like "< 3" survive and
// only markdown-generated markup reaches the page.
func Markdown(text string) template.HTML {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	extensions := parser.CommonExtensions | parser.AutoHeadingIDs | parser.NoEmptyLineBeforeBlock
	p := parser.NewWithExtensions(extensions)
	doc := p.Parse([]byte(text))

	htmlFlags := mdhtml.CommonFlags | mdhtml.HrefTargetBlank | mdhtml.Safelink
	renderer := mdhtml.NewRenderer(mdhtml.RendererOptions{
		Flags:          htmlFlags,
		RenderNodeHook: literalHTML,
	})

	return template.HTML(markdown.Render(doc, renderer))
}

func literalHTML(w io.Writer, node ast.Node, entering bool) (ast.WalkStatus, bool) {
	switch n := node.(type) {
	case *ast.HTMLSpan:
		mdhtml.EscapeHTML(w, n.Literal)
		return ast.GoToNext, true
	case *ast.HTMLBlock:
		io.WriteString(w, "<p>")
		mdhtml.EscapeHTML(w, []byte(strings.TrimSpace(string(n.Literal))))
		io.WriteString(w, "</p>\n")
		return ast.GoToNext, true
	}
	return ast.GoToNext, false
}
