package app

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/hitoshi/newsbrief/internal/model"
)

// stubRetriever はテスト用のbrief.Retriever。
type stubRetriever struct {
	resp *model.BriefResponse
	err  error
}

func (s *stubRetriever) Latest(context.Context, string) (*model.BriefResponse, error) {
	return s.resp, s.err
}

// decodeLogLines はJSONログを1行ずつデコードする。
func decodeLogLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var lines []map[string]any
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("invalid log line %q: %v", sc.Text(), err)
		}
		lines = append(lines, m)
	}
	return lines
}

func TestLogBrief_LogsBothBuckets(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	retriever := &stubRetriever{resp: &model.BriefResponse{
		IsraelRelevant: []model.BriefArticle{
			{ID: 1, Title: "Cabinet meets", SourceInitials: "YN", URL: "https://www.ynet.co.il/1", RankPosition: 1},
		},
		OtherCoverage: []model.BriefArticle{
			{ID: 2, Title: "Markets close", SourceInitials: "UNK", URL: "#", RankPosition: 2},
		},
		Metadata: model.BriefMetadata{TotalArticles: 2, IsraelRelevantCount: 1, OtherCoverageCount: 1, Language: "en"},
	}}

	logBrief(context.Background(), retriever, "en", logger)

	got := map[string]string{}
	for _, line := range decodeLogLines(t, &buf) {
		if line["msg"] != "brief article" {
			continue
		}
		title, _ := line["title"].(string)
		bucket, _ := line["bucket"].(string)
		got[title] = bucket
	}

	want := map[string]string{
		"Cabinet meets": "israel_relevant",
		"Markets close": "other_coverage",
	}
	for title, bucket := range want {
		if got[title] != bucket {
			t.Errorf("article %q logged with bucket %q, want %q", title, got[title], bucket)
		}
	}
}

func TestLogBrief_LogsRetrievalError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	logBrief(context.Background(), &stubRetriever{err: errors.New("boom")}, "he", logger)

	lines := decodeLogLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("log lines = %d, want 1", len(lines))
	}
	if lines[0]["msg"] != "failed to load latest brief" || lines[0]["level"] != "ERROR" {
		t.Errorf("log line = %v", lines[0])
	}
}
