package tutor

import (
	"context"
	"fmt"

	"github.com/sjawhar/kouyi/internal/config"
)

// Evaluate compares the interpretation with the source speech and returns the
// free-form rubric report. Scores are embedded in the text as "<label>：N分".
func (t *Tutor) Evaluate(ctx context.Context, settings config.Settings, sourceSpeech, interpretedText string) (string, error) {
	report, err := t.complete(ctx, settings, evaluationPrompt(sourceSpeech, interpretedText), evaluationMaxTokens)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrEvaluationFailed, err)
	}
	return report, nil
}

func evaluationPrompt(sourceSpeech, interpretedText string) string {
	return fmt.Sprintf(`请对比原文和口译内容进行评估，不要使用 markdown 格式。

原文：
%s

口译：
%s

一、分项评分（每项 0-100 分，先写“维度名：N分”，再详细说明）
准确性评估（权重 40%%）：信息完整度、重要信息保留、数字与专有名词、逻辑关系，并标出遗漏、添加或曲解之处
语言表达（权重 30%%）：规范性、流畅度、语域、连贯性，并标出生硬的表达
口译技巧（权重 30%%）：重组能力、应变能力、语速、停顿、语气

二、问题分类：严重错误、表达不当、技巧欠缺，逐条举例

三、修改建议：分别给出正式场合和口语场合的改进表达

四、参考译文：分别给出正式场合版本和口语场合版本`, sourceSpeech, interpretedText)
}
