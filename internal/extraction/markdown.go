package extraction

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	blankLines = regexp.MustCompile(`\n{3,}`)
	spaceLines = regexp.MustCompile(`(?m)^[ \t]+$`)
)

// RenderMarkdown converts readable HTML, as produced by readability, to markdown.
// Unknown elements contribute their text.
func RenderMarkdown(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript").Remove()

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}

	var b strings.Builder
	renderChildren(&b, root, 0)
	out := spaceLines.ReplaceAllString(b.String(), "")
	out = blankLines.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out), nil
}

func renderChildren(b *strings.Builder, s *goquery.Selection, depth int) {
	s.Contents().Each(func(_ int, c *goquery.Selection) {
		renderNode(b, c, depth)
	})
}

func renderNode(b *strings.Builder, s *goquery.Selection, depth int) {
	switch name := goquery.NodeName(s); name {
	case "#text":
		b.WriteString(collapseSpace(s.Text()))
	case "h1", "h2", "h3", "h4", "h5", "h6":
		level := int(name[1] - '0')
		b.WriteString("\n\n" + strings.Repeat("#", level) + " ")
		b.WriteString(strings.TrimSpace(collapseSpace(s.Text())))
		b.WriteString("\n\n")
	case "p", "div", "section", "article", "header", "footer", "figure":
		b.WriteString("\n\n")
		renderChildren(b, s, depth)
		b.WriteString("\n\n")
	case "br":
		b.WriteString("  \n")
	case "hr":
		b.WriteString("\n\n---\n\n")
	case "strong", "b":
		writeWrapped(b, s, "**")
	case "em", "i":
		writeWrapped(b, s, "_")
	case "code":
		writeWrapped(b, s, "`")
	case "pre":
		b.WriteString("\n\n```\n")
		b.WriteString(strings.TrimRight(s.Text(), "\n"))
		b.WriteString("\n```\n\n")
	case "a":
		text := strings.TrimSpace(collapseSpace(s.Text()))
		href, ok := s.Attr("href")
		if !ok || href == "" || strings.HasPrefix(href, "javascript:") {
			b.WriteString(text)
			return
		}
		if text == "" {
			text = href
		}
		b.WriteString("[" + text + "](" + href + ")")
	case "img":
		src, _ := s.Attr("src")
		if src == "" {
			return
		}
		alt, _ := s.Attr("alt")
		b.WriteString("![" + alt + "](" + src + ")")
	case "ul", "ol":
		b.WriteString("\n\n")
		ordered := name == "ol"
		s.ChildrenFiltered("li").Each(func(i int, li *goquery.Selection) {
			b.WriteString(strings.Repeat("  ", depth))
			if ordered {
				b.WriteString(strconv.Itoa(i+1) + ". ")
			} else {
				b.WriteString("- ")
			}
			var item strings.Builder
			renderChildren(&item, li, depth+1)
			b.WriteString(strings.TrimSpace(item.String()))
			b.WriteString("\n")
		})
		b.WriteString("\n")
	case "blockquote":
		var inner strings.Builder
		renderChildren(&inner, s, depth)
		b.WriteString("\n\n")
		for _, line := range strings.Split(strings.TrimSpace(inner.String()), "\n") {
			b.WriteString("> " + line + "\n")
		}
		b.WriteString("\n")
	default:
		renderChildren(b, s, depth)
	}
}

func writeWrapped(b *strings.Builder, s *goquery.Selection, mark string) {
	text := strings.TrimSpace(collapseSpace(s.Text()))
	if text == "" {
		return
	}
	b.WriteString(mark + text + mark)
}

func collapseSpace(s string) string {
	if strings.TrimSpace(s) == "" {
		if s == "" {
			return ""
		}
		return " "
	}
	lead := strings.TrimLeft(s, " \t\r\n") != s
	trail := strings.TrimRight(s, " \t\r\n") != s
	out := strings.Join(strings.Fields(s), " ")
	if lead {
		out = " " + out
	}
	if trail {
		out += " "
	}
	return out
}
