package markdown

import (
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"
)

var KindTag = ast.NewNodeKind("Tag")

// TagNode is an inline #hashtag inside a video description.
type TagNode struct {
	ast.BaseInline
	Tag []byte
}

func (*TagNode) Kind() ast.NodeKind {
	return KindTag
}

func (n *TagNode) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, map[string]string{
		"Tag": string(n.Tag),
	}, nil)
}

type tagHTMLRenderer struct{}

func (r *tagHTMLRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(KindTag, r.renderTag)
}

func (r *tagHTMLRenderer) renderTag(w util.BufWriter, _ []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	tag := node.(*TagNode).Tag
	_, _ = w.WriteString(`<span class="tag" data-tag="`)
	_, _ = w.Write(util.EscapeHTML(tag))
	_, _ = w.WriteString(`">#`)
	_, _ = w.Write(util.EscapeHTML(tag))
	_, _ = w.WriteString(`</span>`)
	return ast.WalkSkipChildren, nil
}
