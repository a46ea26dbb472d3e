package tutor

import (
	"context"
	"fmt"
	"strings"

	"github.com/sjawhar/kouyi/internal/config"
)

const DefaultTargetLanguage = "中文"

// GenerateSpeech rewrites sourceText as a roughly three minute speech in
// targetLanguage, suitable for consecutive interpretation practice.
func (t *Tutor) GenerateSpeech(ctx context.Context, settings config.Settings, sourceText, targetLanguage string) (string, error) {
	if strings.TrimSpace(targetLanguage) == "" {
		targetLanguage = DefaultTargetLanguage
	}

	text, err := t.complete(ctx, settings, speechPrompt(sourceText, targetLanguage), speechMaxTokens)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	return text, nil
}

func speechPrompt(sourceText, targetLanguage string) string {
	return fmt.Sprintf(`请把下面的源文本改写成一篇约三分钟、适合口译练习的%s演讲稿。

要求：
- 保留原文的核心观点，改写成便于口头表达的演讲
- 包含开场、两到三个论点的主体和总结呼吁
- 语言正式但不过于学术，句子长度适中，适当使用过渡词、重复和强调
- 只输出演讲稿正文

源文本：
%s`, targetLanguage, sourceText)
}
