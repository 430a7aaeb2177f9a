package markdown

import (
	"strings"
	"testing"
)

func TestExtractTags_BasicAndUnicode(t *testing.T) {
	svc := NewService()
	content := "#travel #日本 #테스트 #music/live #2024 #go🚀"
	tags, err := svc.ExtractTags(content)
	if err != nil {
		t.Fatalf("ExtractTags() error = %v", err)
	}

	expect := []string{"travel", "日本", "테스트", "music/live", "2024", "go🚀"}
	assertStringSlicesEqual(t, expect, tags)
}

func TestExtractTags_HeadingPunctuationAndInlineHash(t *testing.T) {
	svc := NewService()
	content := strings.Join([]string{
		"## heading should not be tag",
		"# heading should not be tag",
		"real tag: #real, and #done.",
		"issue#42 is not a tag",
	}, "\n")
	tags, err := svc.ExtractTags(content)
	if err != nil {
		t.Fatalf("ExtractTags() error = %v", err)
	}

	expect := []string{"real", "done"}
	assertStringSlicesEqual(t, expect, tags)
}

func TestExtractTags_MaxLength(t *testing.T) {
	svc := NewService()
	content := "#" + strings.Repeat("a", maxTagRunes+10)
	tags, err := svc.ExtractTags(content)
	if err != nil {
		t.Fatalf("ExtractTags() error = %v", err)
	}
	if len(tags) != 1 {
		t.Fatalf("expected 1 tag, got %d", len(tags))
	}
	if got := len([]rune(tags[0])); got != maxTagRunes {
		t.Fatalf("expected tag rune length %d, got %d", maxTagRunes, got)
	}
}

func TestExtractTags_DedupIgnoresCase(t *testing.T) {
	svc := NewService()
	tags, err := svc.ExtractTags("#Cats #cats #CATS #dogs")
	if err != nil {
		t.Fatalf("ExtractTags() error = %v", err)
	}
	assertStringSlicesEqual(t, []string{"cats", "dogs"}, tags)
}

func TestRender(t *testing.T) {
	svc := NewService()
	doc, err := svc.Render("Sunset over the bay #travel\nshot on **film**\n\n<script>alert(1)</script>")
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	for _, want := range []string{
		`<span class="tag" data-tag="travel">#travel</span>`,
		`<br>`,
		`<strong>film</strong>`,
	} {
		if !strings.Contains(doc.HTML, want) {
			t.Fatalf("expected HTML to contain %q, got %q", want, doc.HTML)
		}
	}
	if strings.Contains(doc.HTML, "<script>") {
		t.Fatalf("raw html must not be rendered, got %q", doc.HTML)
	}
	assertStringSlicesEqual(t, []string{"travel"}, doc.Tags)
}

func TestNormalizeTags(t *testing.T) {
	got := NormalizeTags([]string{" #Music ", "music", "", "#", "Live"})
	assertStringSlicesEqual(t, []string{"music", "live"}, got)
}

func assertStringSlicesEqual(t *testing.T, expected []string, actual []string) {
	t.Helper()
	if len(expected) != len(actual) {
		t.Fatalf("length mismatch expected=%d actual=%d, actual=%v", len(expected), len(actual), actual)
	}
	for i := range expected {
		if expected[i] != actual[i] {
			t.Fatalf("index %d mismatch expected=%q actual=%q", i, expected[i], actual[i])
		}
	}
}
