package brief

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// UnknownSource は元記事を解決できなかった場合のソース名。
const UnknownSource = "Unknown"

// shortCodeFallbackLen は対応表にないソース名から略称を作るときの文字数。
const shortCodeFallbackLen = 3

// defaultSourceCodes はソース名から表示用略称への組み込みの対応表。
var defaultSourceCodes = map[string]string{
	"Ynet":               "YN",
	"The Marker":         "TM",
	"Walla":              "WA",
	"Israel Hayom":       "IH",
	"Al Jazeera":         "AJ",
	"BBC Arabic":         "BBC-AR",
	"Sky News Arabia":    "SKY",
	"France 24 Arabic":   "F24",
	"Middle East Eye":    "MEE",
	"BBC News":           "BBC",
	"The Guardian":       "TG",
	"CNN":                "CNN",
	"Al Jazeera English": "AJ-EN",
	"New York Times":     "NYT",
	"Times of Israel":    "TOI",
}

// SourceCodes はソース名から略称を引く読み取り専用の対応表。
type SourceCodes struct {
	codes map[string]string
}

// sourceCodesFile はSOURCE_CODES_FILEのYAML形式。
//
//	sources:
//	  Haaretz: HZ
type sourceCodesFile struct {
	Sources map[string]string `yaml:"sources"`
}

// DefaultSourceCodes は組み込みの対応表を返す。
func DefaultSourceCodes() *SourceCodes {
	codes := make(map[string]string, len(defaultSourceCodes))
	for name, code := range defaultSourceCodes {
		codes[name] = code
	}
	return &SourceCodes{codes: codes}
}

// LoadSourceCodes はYAMLファイルの対応表を組み込みの対応表に上書きマージする。
// pathが空の場合は組み込みの対応表をそのまま返す。
func LoadSourceCodes(path string) (*SourceCodes, error) {
	sc := DefaultSourceCodes()
	if path == "" {
		return sc, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read source codes file: %w", err)
	}

	var file sourceCodesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse source codes file %s: %w", path, err)
	}

	for name, code := range file.Sources {
		name = strings.TrimSpace(name)
		code = strings.TrimSpace(code)
		if name == "" || code == "" {
			return nil, fmt.Errorf("source codes file %s: empty name or code (%q: %q)", path, name, code)
		}
		sc.codes[name] = code
	}
	return sc, nil
}

// ShortCode はソース名の表示用略称を返す。
// 対応表にない名前は先頭3文字を大文字にしたものを返す。
func (s *SourceCodes) ShortCode(name string) string {
	if code, ok := s.codes[name]; ok {
		return code
	}
	runes := []rune(name)
	if len(runes) > shortCodeFallbackLen {
		runes = runes[:shortCodeFallbackLen]
	}
	return strings.ToUpper(string(runes))
}

// Len は対応表の件数を返す。
func (s *SourceCodes) Len() int {
	return len(s.codes)
}
