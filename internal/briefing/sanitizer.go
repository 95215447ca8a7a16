package briefing

import (
	"github.com/microcosm-cc/bluemonday"

	"github.com/hitoshi/briefdesk/internal/model"
)

// NarrativeSanitizer はAI生成フィールド（要約、ハイライト、批評、市場見解）のHTMLを
// 許可リストベースでサニタイズする。
type NarrativeSanitizer interface {
	Sanitize(rawHTML string) string
}

// narrativeSanitizer はbluemondayのポリシーを保持する実装。ポリシーはスレッドセーフ。
type narrativeSanitizer struct {
	policy *bluemonday.Policy
}

// NewNarrativeSanitizer はNarrativeSanitizerを生成する。
// 許可タグ: p, br, ul, ol, li, blockquote, code, strong, em, a(href)。
// 画像は許可しない。リンクにはtarget="_blank"とrel="noopener noreferrer"を付与する。
func NewNarrativeSanitizer() NarrativeSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"p", "br", "ul", "ol", "li",
		"blockquote", "code", "strong", "em",
	)

	p.AllowAttrs("href").OnElements("a")
	p.AllowStandardURLs()
	p.AllowRelativeURLs(false)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	return &narrativeSanitizer{policy: p}
}

// Sanitize はHTMLをサニタイズする。
func (s *narrativeSanitizer) Sanitize(rawHTML string) string {
	return s.policy.Sanitize(rawHTML)
}

// SanitizeNarrative は記事のAI生成フィールドをサニタイズした記事を返す。
// 利用者から受け取った記事をストアへ書き込む前にも使う。
func SanitizeNarrative(s NarrativeSanitizer, a model.Article) model.Article {
	a.Summary = s.Sanitize(a.Summary)
	a.Highlights = s.Sanitize(a.Highlights)
	a.Critiques = s.Sanitize(a.Critiques)
	a.MarketTake = s.Sanitize(a.MarketTake)
	return a
}
