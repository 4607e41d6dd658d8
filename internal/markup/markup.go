// Package markup переводит Markdown из ответа модели в формат сообщений Telegram:
// HTML-подмножество для parse_mode=HTML или простой текст без разметки.
package markup

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

// ToTelegramHTML рендерит Markdown в теги, которые понимает Bot API (b, i, code, pre, a).
// Всё остальное экранируется.
func ToTelegramHTML(markdown string) string {
	return render(markdown, true)
}

// PlainText убирает разметку, оставляя текст, ссылки и структуру списков.
func PlainText(markdown string) string {
	return render(markdown, false)
}

type renderer struct {
	html   bool
	source []byte
}

func render(markdown string, htmlMode bool) string {
	source := []byte(markdown)
	doc := goldmark.DefaultParser().Parse(text.NewReader(source))

	r := &renderer{html: htmlMode, source: source}
	var buf bytes.Buffer
	r.walkBlocks(doc, &buf)
	return strings.TrimRight(buf.String(), "\n")
}

func (r *renderer) walkBlocks(node ast.Node, buf *bytes.Buffer) {
	for c := node.FirstChild(); c != nil; c = c.NextSibling() {
		r.renderBlock(c, buf)
		if c.NextSibling() != nil {
			buf.WriteString("\n")
		}
	}
}

func (r *renderer) renderBlock(node ast.Node, buf *bytes.Buffer) {
	switch n := node.(type) {
	case *ast.Paragraph, *ast.TextBlock:
		buf.WriteString(r.inline(n))
		buf.WriteString("\n")

	case *ast.Heading:
		buf.WriteString(r.wrap("b", r.inline(n)))
		buf.WriteString("\n")

	case *ast.FencedCodeBlock:
		r.codeBlock(string(n.Language(r.source)), n.Lines(), buf)

	case *ast.CodeBlock:
		r.codeBlock("", n.Lines(), buf)

	case *ast.List:
		r.list(n, buf, 0)

	case *ast.ThematicBreak:
		buf.WriteString("———\n")

	case *ast.HTMLBlock:
		var raw bytes.Buffer
		lines := n.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			raw.Write(seg.Value(r.source))
		}
		buf.WriteString(r.escape(raw.String()))

	default:
		// blockquote и прочие контейнеры: только содержимое
		r.walkBlocks(node, buf)
	}
}

func (r *renderer) codeBlock(lang string, lines *text.Segments, buf *bytes.Buffer) {
	var code bytes.Buffer
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		code.Write(seg.Value(r.source))
	}
	body := strings.TrimRight(code.String(), "\n")

	if !r.html {
		buf.WriteString(body)
		buf.WriteString("\n")
		return
	}
	buf.WriteString("<pre>")
	if lang != "" {
		fmt.Fprintf(buf, `<code class="language-%s">`, html.EscapeString(lang))
	} else {
		buf.WriteString("<code>")
	}
	buf.WriteString(htmlEscaper.Replace(body))
	buf.WriteString("</code></pre>\n")
}

func (r *renderer) list(node *ast.List, buf *bytes.Buffer, depth int) {
	number := node.Start
	for c := node.FirstChild(); c != nil; c = c.NextSibling() {
		item, ok := c.(*ast.ListItem)
		if !ok {
			continue
		}
		marker := "• "
		if node.IsOrdered() {
			marker = fmt.Sprintf("%d. ", number)
			number++
		}
		indent := strings.Repeat("  ", depth)

		first := true
		for ic := item.FirstChild(); ic != nil; ic = ic.NextSibling() {
			switch in := ic.(type) {
			case *ast.List:
				r.list(in, buf, depth+1)
			case *ast.Paragraph, *ast.TextBlock:
				prefix := indent + strings.Repeat(" ", len([]rune(marker)))
				if first {
					prefix = indent + marker
				}
				buf.WriteString(prefix + r.inline(in) + "\n")
			default:
				r.renderBlock(ic, buf)
			}
			first = false
		}
	}
}

func (r *renderer) inline(node ast.Node) string {
	var buf bytes.Buffer
	for c := node.FirstChild(); c != nil; c = c.NextSibling() {
		r.renderInline(c, &buf)
	}
	return buf.String()
}

func (r *renderer) renderInline(node ast.Node, buf *bytes.Buffer) {
	switch n := node.(type) {
	case *ast.Text:
		value := n.Segment.Value(r.source)
		if !n.IsRaw() {
			value = util.ResolveEntityNames(util.ResolveNumericReferences(util.UnescapePunctuations(value)))
		}
		buf.WriteString(r.escape(string(value)))
		if n.SoftLineBreak() || n.HardLineBreak() {
			buf.WriteByte('\n')
		}

	case *ast.String:
		buf.WriteString(r.escape(string(n.Value)))

	case *ast.Emphasis:
		tag := "i"
		if n.Level >= 2 {
			tag = "b"
		}
		buf.WriteString(r.wrap(tag, r.inline(n)))

	case *ast.CodeSpan:
		buf.WriteString(r.wrap("code", r.inline(n)))

	case *ast.Link:
		r.link(string(n.Destination), r.inline(n), buf)

	case *ast.AutoLink:
		url := string(n.URL(r.source))
		r.link(url, r.escape(url), buf)

	case *ast.Image:
		r.link(string(n.Destination), r.inline(n), buf)

	case *ast.RawHTML:
		for i := 0; i < n.Segments.Len(); i++ {
			seg := n.Segments.At(i)
			buf.WriteString(r.escape(string(seg.Value(r.source))))
		}

	default:
		for c := node.FirstChild(); c != nil; c = c.NextSibling() {
			r.renderInline(c, buf)
		}
	}
}

func (r *renderer) link(url, label string, buf *bytes.Buffer) {
	if r.html {
		fmt.Fprintf(buf, `<a href="%s">%s</a>`, html.EscapeString(url), label)
		return
	}
	if label == "" || label == url {
		buf.WriteString(url)
		return
	}
	fmt.Fprintf(buf, "%s (%s)", label, url)
}

func (r *renderer) wrap(tag, inner string) string {
	if !r.html {
		return inner
	}
	return "<" + tag + ">" + inner + "</" + tag + ">"
}

// escape экранирует только то, что Telegram требует в HTML-режиме.
func (r *renderer) escape(s string) string {
	if !r.html {
		return s
	}
	return htmlEscaper.Replace(s)
}

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
