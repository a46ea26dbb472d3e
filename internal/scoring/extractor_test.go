package scoring

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestPatternExtractor(t *testing.T) {
	tests := []struct {
		name   string
		report string
		label  string
		want   int
		wantOK bool
	}{
		{name: "inline", report: "准确性评估：85分", label: "准确性评估", want: 85, wantOK: true},
		{name: "across lines", report: "准确性评估（40%权重）\n- 信息完整度较好\n得分：88分", label: "准确性评估", want: 88, wantOK: true},
		{name: "percent is not points", report: "准确性评估（40%权重）", label: "准确性评估", wantOK: false},
		{name: "label absent", report: "语言表达：76分", label: "准确性评估", wantOK: false},
		{name: "no suffix", report: "口译技巧：80", label: "口译技巧", wantOK: false},
		{name: "score before label ignored", report: "90分 口译技巧：80分", label: "口译技巧", want: 80, wantOK: true},
		{name: "regex metacharacters in label", report: "A. (准确性) 评估 70分", label: "A. (准确性)", want: 70, wantOK: true},
		{name: "empty label", report: "85分", label: "", wantOK: false},
	}

	extractor := NewPatternExtractor()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := extractor.ExtractScore(tt.report, tt.label)
			if ok != tt.wantOK {
				t.Fatalf("expected ok=%v, got ok=%v (score %d)", tt.wantOK, ok, got)
			}
			if ok && got != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestPatternExtractorFirstMatchWins(t *testing.T) {
	report := "准确性评估：85分\n……\n总结：准确性评估部分已修正为 92分"

	got, ok := NewPatternExtractor().ExtractScore(report, "准确性评估")
	if !ok || got != 85 {
		t.Fatalf("expected first match 85, got %d (ok=%v)", got, ok)
	}
}

func TestPatternExtractorIsIdempotent(t *testing.T) {
	report := "准确性评估：85分\n语言表达：76分\n口译技巧：80分"
	extractor := NewPatternExtractor()

	for _, d := range Dimensions {
		first, firstOK := extractor.ExtractScore(report, d.Label)
		for i := 0; i < 5; i++ {
			again, againOK := extractor.ExtractScore(report, d.Label)
			if again != first || againOK != firstOK {
				t.Fatalf("%s: run %d returned (%d,%v), first run (%d,%v)", d.Key, i, again, againOK, first, firstOK)
			}
		}
	}
}

func TestPatternExtractorLogsOverflowingScore(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	defer slog.SetDefault(prev)

	report := "准确性评估：99999999999999999999999分"
	if got, ok := NewPatternExtractor().ExtractScore(report, "准确性评估"); ok {
		t.Fatalf("expected overflowing score to be missing, got %d", got)
	}
	if !strings.Contains(buf.String(), "unparseable score") || !strings.Contains(buf.String(), "准确性评估") {
		t.Fatalf("expected a warning naming the section, log was %q", buf.String())
	}
}
