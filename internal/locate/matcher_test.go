package locate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/docreview/internal/doctree"
	"github.com/dgallion1/docreview/internal/extract"
	"github.com/dgallion1/docreview/internal/parser"
)

func buildDoc(texts ...string) *doctree.ParsedDocument {
	paras := make([]doctree.Paragraph, len(texts))
	for i, t := range texts {
		paras[i] = doctree.Paragraph{Text: t, Style: parser.DefaultStyle, Index: i}
	}
	return &doctree.ParsedDocument{
		Paragraphs: paras,
		FullText:   parser.FullText(paras),
		Structure:  parser.DetectStructure(paras),
	}
}

// cjk returns n distinct CJK runes starting at offset.
func cjk(offset, n int) string {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		sb.WriteRune(rune(0x4e00 + offset + i))
	}
	return sb.String()
}

func TestLocate_HintMissesButFullDocumentExactFinds(t *testing.T) {
	doc := buildDoc(
		"第一条 标的",
		"第二条 付款",
		"甲方应于签约后十日内付款。",
		"第三条 违约责任：违约金比例为30%。",
		"争议提交仲裁。",
	)
	issue := extract.Issue{OriginalText: "违约金比例为30%", LocationHint: "第2条", Severity: "高"}

	loc := NewMatcher(DefaultThreshold).Locate(doc, issue)
	require.NotNil(t, loc)
	assert.Equal(t, 3, loc.Index)
	assert.Equal(t, 1.0, loc.Confidence)
	assert.Equal(t, LocationParagraph, loc.Type)
	assert.Equal(t, doc.Paragraphs[3].Text, loc.Text)
}

func TestLocate_ExactBeatsFuzzy(t *testing.T) {
	doc := buildDoc(
		"甲方应当在收到发票后十日内付清",
		"甲方应当在收到发票后十日内付款，逾期按日计息。",
	)
	near := Similarity("甲方应当在收到发票后十日内付款", doc.Paragraphs[0].Text)
	require.Greater(t, near, 0.85)

	loc := NewMatcher(0).Locate(doc, extract.Issue{OriginalText: "甲方应当在收到发票后十日内付款"})
	require.NotNil(t, loc)
	assert.Equal(t, 1, loc.Index)
	assert.Equal(t, 1.0, loc.Confidence)
}

func TestLocate_FuzzyThresholdBoundary(t *testing.T) {
	shared := cjk(0, 70)
	accepted := buildDoc(shared + cjk(200, 30))
	loc := NewMatcher(DefaultThreshold).Locate(accepted, extract.Issue{OriginalText: shared + cjk(100, 30)})
	require.NotNil(t, loc, "ratio of exactly 0.70 must be accepted")
	assert.Equal(t, 0.70, loc.Confidence)

	shared = cjk(0, 69)
	rejected := buildDoc(shared + cjk(200, 31))
	assert.Nil(t, NewMatcher(DefaultThreshold).Locate(rejected, extract.Issue{OriginalText: shared + cjk(100, 31)}),
		"ratio of 0.69 must be rejected")
}

func TestLocate_FuzzyStaysInsideHintedSection(t *testing.T) {
	doc := buildDoc(
		"第一条 保密",
		"乙方对本合同内容负有保密义务，期限五年。",
		"第二条 其他",
		"本合同一式两份。",
	)
	issue := extract.Issue{OriginalText: "乙方对本合同内容负有保密义务，期限三年", LocationHint: "第二条"}
	assert.Nil(t, NewMatcher(DefaultThreshold).Locate(doc, issue))

	issue.LocationHint = "第一条第二款"
	loc := NewMatcher(DefaultThreshold).Locate(doc, issue)
	require.NotNil(t, loc)
	assert.Equal(t, 1, loc.Index)
	assert.Less(t, loc.Confidence, 1.0)
}

func TestLocate_UnknownSectionSearchesEverything(t *testing.T) {
	doc := buildDoc("第一条 甲", "付款期限为三十日", "第二条 乙")
	loc := NewMatcher(DefaultThreshold).Locate(doc, extract.Issue{OriginalText: "付款期限为三十日以内", LocationHint: "第9条"})
	require.NotNil(t, loc)
	assert.Equal(t, 1, loc.Index)
}

func TestLocate_FirstMaximumWins(t *testing.T) {
	doc := buildDoc("违约金为百分之五", "其他", "违约金为百分之五")
	loc := NewMatcher(DefaultThreshold).Locate(doc, extract.Issue{OriginalText: "违约金为百分之五十"})
	require.NotNil(t, loc)
	assert.Equal(t, 0, loc.Index)
}

func TestLocate_FirstExactWins(t *testing.T) {
	doc := buildDoc("保密义务", "双方承担保密义务", "保密义务延续")
	loc := NewMatcher(DefaultThreshold).Locate(doc, extract.Issue{OriginalText: "保密义务"})
	require.NotNil(t, loc)
	assert.Equal(t, 0, loc.Index)
}

func TestLocate_BlankOriginalText(t *testing.T) {
	doc := buildDoc("任意内容")
	m := NewMatcher(DefaultThreshold)
	assert.Nil(t, m.Locate(doc, extract.Issue{OriginalText: ""}))
	assert.Nil(t, m.Locate(doc, extract.Issue{OriginalText: "  \n\t"}))
}

func TestLocate_TrimsOriginalText(t *testing.T) {
	doc := buildDoc("第一条", "定金为合同总额的20%")
	loc := NewMatcher(DefaultThreshold).Locate(doc, extract.Issue{OriginalText: "  定金为合同总额的20%\n"})
	require.NotNil(t, loc)
	assert.Equal(t, 1.0, loc.Confidence)
}

func TestLocateAll_PreservesOrder(t *testing.T) {
	doc := buildDoc("第一条 甲", "付款", "第二条 乙", "交付")
	issues := []extract.Issue{
		{OriginalText: "交付"},
		{OriginalText: "完全无关的一段很长的文字内容"},
		{OriginalText: "付款"},
	}
	got := NewMatcher(DefaultThreshold).LocateAll(doc, issues)
	require.Len(t, got, 3)

	assert.True(t, got[0].Located)
	assert.Equal(t, 3, got[0].Location.Index)
	assert.False(t, got[1].Located)
	assert.Nil(t, got[1].Location)
	assert.Equal(t, 1, got[2].Location.Index)
	for i := range issues {
		assert.Equal(t, issues[i], got[i].Issue)
	}
}

func TestNewMatcher_ThresholdDefaults(t *testing.T) {
	assert.Equal(t, DefaultThreshold, NewMatcher(0).Threshold())
	assert.Equal(t, DefaultThreshold, NewMatcher(1.5).Threshold())
	assert.Equal(t, 0.5, NewMatcher(0.5).Threshold())
}

func TestSearchRange(t *testing.T) {
	doc := buildDoc("序言", "第一条 甲", "内容一", "第二条 乙", "内容二", "内容三")

	r := SearchRange(doc, "第2条")
	require.Len(t, r, 3)
	assert.Equal(t, 3, r[0].Index)

	r = SearchRange(doc, "见第一条")
	require.Len(t, r, 2)
	assert.Equal(t, 1, r[0].Index)

	assert.Len(t, SearchRange(doc, ""), 6)
	assert.Len(t, SearchRange(doc, "附件"), 6)
}

func TestSearchRange_FullWidthDigits(t *testing.T) {
	doc := buildDoc("序言", "第１条 甲", "内容一", "第２条 乙", "内容二", "内容三")
	require.Len(t, doc.Structure.Sections, 2)

	r := SearchRange(doc, "第２条第1款")
	require.Len(t, r, 3)
	assert.Equal(t, 3, r[0].Index)
}

func TestChineseNumeral(t *testing.T) {
	cases := map[string]int{
		"3":    3,
		"12":   12,
		"３":    3,
		"１２":   12,
		"一":    1,
		"九":    9,
		"十":    10,
		"十一":   11,
		"十九":   19,
		"二十":   20,
		"百":    100,
		"二十一":  1,
		"一百零五": 1,
		"":     1,
		"两":    1,
	}
	for in, want := range cases {
		assert.Equal(t, want, ChineseNumeral(in), "ChineseNumeral(%q)", in)
	}
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("", ""))
	assert.Equal(t, 0.0, Similarity("甲", ""))
	assert.Equal(t, 1.0, Similarity("合同条款", "合同条款"))
	assert.InDelta(t, 0.5, Similarity("甲乙", "甲丙"), 1e-9)
}
