// Package report renders review results as plain text, Markdown or HTML.
package report

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/dgallion1/docreview/internal/extract"
)

var rule = strings.Repeat("=", 60)

// Build returns the plain-text report: a summary banner followed by one
// numbered block per issue, in input order.
func Build(issues []extract.Issue, summary string) string {
	lines := []string{
		rule,
		"合同审查报告",
		rule,
		"",
		summary,
		"",
		rule,
		"问题详情",
		rule,
		"",
	}
	for i, is := range issues {
		lines = append(lines,
			fmt.Sprintf("%d. %s - %s风险", i+1, is.Category, is.Severity),
			"   位置："+is.LocationHint,
			"   原文："+is.OriginalText,
			"   问题："+is.Problem,
			"   建议："+is.Suggestion,
			"",
		)
	}
	return strings.Join(lines, "\n")
}

// Markdown returns the report as a Markdown document with one level-3
// heading per issue.
func Markdown(issues []extract.Issue, summary string) string {
	var b strings.Builder
	b.WriteString("# 合同审查报告\n\n")
	if s := strings.TrimSpace(summary); s != "" {
		b.WriteString(escape(s))
		b.WriteString("\n\n")
	}

	high, medium, low := extract.CountSeverities(issues)
	b.WriteString("| 高风险 | 中风险 | 低风险 |\n|---|---|---|\n")
	fmt.Fprintf(&b, "| %d | %d | %d |\n\n", high, medium, low)

	b.WriteString("## 问题详情\n\n")
	for i, is := range issues {
		fmt.Fprintf(&b, "### %d. %s - %s风险\n\n", i+1, escape(is.Category), is.Severity)
		field(&b, "位置", is.LocationHint)
		if t := strings.TrimSpace(is.OriginalText); t != "" {
			fmt.Fprintf(&b, "- **原文**：\n\n  > %s\n\n", escape(t))
		}
		field(&b, "问题", is.Problem)
		field(&b, "建议", is.Suggestion)
		b.WriteString("\n")
	}
	return b.String()
}

func field(b *strings.Builder, label, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	fmt.Fprintf(b, "- **%s**：%s\n", label, escape(value))
}

var mdEscaper = strings.NewReplacer(
	"\\", "\\\\",
	"*", "\\*",
	"_", "\\_",
	"`", "\\`",
	"#", "\\#",
	"|", "\\|",
	"<", "&lt;",
	">", "&gt;",
	"[", "\\[",
	"]", "\\]",
	"\n", " ",
)

// escape neutralizes Markdown syntax in model-supplied text.
func escape(s string) string {
	return mdEscaper.Replace(s)
}

var md = goldmark.New(goldmark.WithExtensions(extension.Table))

// HTML renders the Markdown report to an HTML fragment.
func HTML(issues []extract.Issue, summary string) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(Markdown(issues, summary)), &buf); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	return buf.String(), nil
}
