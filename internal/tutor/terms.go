package tutor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sjawhar/kouyi/internal/config"
)

// Term is a glossary entry prepared before interpreting a speech. Term holds
// both language forms separated by " | ".
type Term struct {
	Term        string `json:"term"`
	Explanation string `json:"explanation"`
	Category    string `json:"category"`
}

// Source and Target split Term on the " | " separator.
func (t Term) Source() string {
	source, _, _ := strings.Cut(t.Term, " | ")
	return strings.TrimSpace(source)
}

func (t Term) Target() string {
	_, target, _ := strings.Cut(t.Term, " | ")
	return strings.TrimSpace(target)
}

// PrepareTerms asks the model for the terms and phrases in speech that are
// likely to trip up an interpreter.
func (t *Tutor) PrepareTerms(ctx context.Context, settings config.Settings, speech string) ([]Term, error) {
	text, err := t.complete(ctx, settings, termsPrompt(speech), termsMaxTokens)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	return ParseTerms(text)
}

// ParseTerms decodes a JSON term array, tolerating a surrounding markdown
// code fence. Every entry must carry term, explanation and category.
func ParseTerms(raw string) ([]Term, error) {
	body := stripCodeFence(raw)

	var entries []map[string]any
	if err := json.Unmarshal([]byte(body), &entries); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedTerms, err)
	}

	terms := make([]Term, 0, len(entries))
	for i, entry := range entries {
		term, ok := termFromEntry(entry)
		if !ok {
			return nil, fmt.Errorf("%w: entry %d missing term, explanation or category", ErrMalformedTerms, i)
		}
		terms = append(terms, term)
	}
	return terms, nil
}

func termFromEntry(entry map[string]any) (Term, bool) {
	term, ok1 := entry["term"].(string)
	explanation, ok2 := entry["explanation"].(string)
	category, ok3 := entry["category"].(string)
	if !ok1 || !ok2 || !ok3 {
		return Term{}, false
	}
	return Term{Term: term, Explanation: explanation, Category: category}, true
}

func stripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func termsPrompt(speech string) string {
	return fmt.Sprintf(`请找出下面演讲稿中可能造成口译障碍的专业术语、生词和难点词组，严格按以下 JSON 数组格式返回：
[
  {
    "term": "中文术语 | English Term",
    "explanation": "解释说明",
    "category": "分类"
  }
]

要求：
1. 只返回合法的 JSON 数组，不要附加任何说明文字
2. 每一项都必须包含 term、explanation、category 三个字段
3. term 字段同时给出中英文，用 " | " 分隔

演讲稿：
%s`, speech)
}
