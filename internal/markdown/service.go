package markdown

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
)

// Document is a rendered video description.
type Document struct {
	HTML string
	Tags []string
}

type Service struct {
	md goldmark.Markdown
}

func NewService() *Service {
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			TagExtension,
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
		),
	)
	return &Service{md: md}
}

// Render converts a description to HTML. Raw HTML in the source is not
// passed through.
func (s *Service) Render(content string) (Document, error) {
	source := []byte(content)
	root := s.parse(source)

	var buf bytes.Buffer
	if err := s.md.Renderer().Render(&buf, source, root); err != nil {
		return Document{}, err
	}
	tags, err := collectTags(root)
	if err != nil {
		return Document{}, err
	}
	return Document{HTML: buf.String(), Tags: tags}, nil
}

func (s *Service) ExtractTags(content string) ([]string, error) {
	return collectTags(s.parse([]byte(content)))
}

func (s *Service) parse(content []byte) ast.Node {
	return s.md.Parser().Parse(text.NewReader(content))
}

func collectTags(root ast.Node) ([]string, error) {
	tags := make([]string, 0)
	err := ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if tagNode, ok := n.(*TagNode); ok {
			tags = append(tags, string(tagNode.Tag))
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, err
	}
	return NormalizeTags(tags), nil
}

// NormalizeTags lowercases, trims a leading '#' and drops duplicates while
// keeping first-seen order.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	result := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(tag), "#"))
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		result = append(result, tag)
	}
	return result
}
