package brief

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"html"
	"strconv"
	"time"

	"github.com/hitoshi/newsbrief/internal/model"
)

// FeedInfo はRSSチャネルの情報。
type FeedInfo struct {
	Title    string
	Link     string
	SelfLink string
}

// RenderRSS はブリーフをRSS 2.0として出力する。
// 関連記事のバケットを先に、その他のバケットを後に並べる。
// 各itemのguidはキュレーション行のIDで、pubDateはバッチの生成日時。
func RenderRSS(info FeedInfo, resp *model.BriefResponse) []byte {
	var buf bytes.Buffer

	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	buf.WriteString("\n")
	buf.WriteString(`<rss version="2.0" xmlns:atom="http://www.w3.org/2005/Atom">`)
	buf.WriteString("\n  <channel>\n")

	writeElement(&buf, "title", info.Title, 4)
	writeElement(&buf, "link", info.Link, 4)
	writeElement(&buf, "description",
		fmt.Sprintf("Latest news brief (%s): %d articles", resp.Metadata.Language, resp.Metadata.TotalArticles), 4)
	if info.SelfLink != "" {
		buf.WriteString(fmt.Sprintf("    <atom:link href=\"%s\" rel=\"self\" type=\"application/rss+xml\" />\n",
			html.EscapeString(info.SelfLink)))
	}
	writeElement(&buf, "language", resp.Metadata.Language, 4)

	pubDate := ""
	if generated, err := time.Parse(time.RFC3339, resp.Metadata.GeneratedAt); err == nil {
		pubDate = generated.UTC().Format(time.RFC1123Z)
	}
	writeElement(&buf, "lastBuildDate", pubDate, 4)
	writeElement(&buf, "generator", "Newsbrief/1.0", 4)

	for _, a := range resp.IsraelRelevant {
		writeItem(&buf, a, "Israel", pubDate)
	}
	for _, a := range resp.OtherCoverage {
		writeItem(&buf, a, "Other coverage", pubDate)
	}

	buf.WriteString("  </channel>\n</rss>")
	return buf.Bytes()
}

func writeItem(buf *bytes.Buffer, a model.BriefArticle, category, pubDate string) {
	buf.WriteString("    <item>\n")
	buf.WriteString("      <guid isPermaLink=\"false\">")
	buf.WriteString(strconv.FormatInt(a.ID, 10))
	buf.WriteString("</guid>\n")
	writeElement(buf, "title", a.Title, 6)
	if a.URL != "#" {
		writeElement(buf, "link", a.URL, 6)
	}
	writeElement(buf, "description",
		fmt.Sprintf("#%d · %s (%s) · %d sources", a.RankPosition, a.Source, a.SourceInitials, a.ArticleCount), 6)
	writeElement(buf, "category", category, 6)
	writeElement(buf, "pubDate", pubDate, 6)
	buf.WriteString("    </item>\n")
}

func writeElement(buf *bytes.Buffer, tag, content string, indent int) {
	if content == "" {
		return
	}
	for i := 0; i < indent; i++ {
		buf.WriteByte(' ')
	}
	buf.WriteString("<")
	buf.WriteString(tag)
	buf.WriteString(">")
	xml.EscapeText(buf, []byte(content))
	buf.WriteString("</")
	buf.WriteString(tag)
	buf.WriteString(">\n")
}
