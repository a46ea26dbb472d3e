package gdrive

import (
	"fmt"
	"strings"
	"time"

	"github.com/sjawhar/kouyi/internal/storage"
)

// RecordDocument renders rec as plain text for a Drive document.
func RecordDocument(rec storage.PracticeRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Practice %d (%s)\n\n", rec.ID, rec.CreatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Topic: %s\nTarget language: %s\n\n", rec.SourceText, rec.TargetLanguage)
	fmt.Fprintf(&b, "Source speech\n%s\n\n", rec.SourceSpeech)
	fmt.Fprintf(&b, "Interpretation\n%s\n\n", rec.InterpretedText)
	fmt.Fprintf(&b, "Scores\naccuracy: %s\nexpression: %s\nskills: %s\ntotal: %.1f\n\n",
		scoreText(rec.Scores.Accuracy), scoreText(rec.Scores.Expression), scoreText(rec.Scores.Skills), rec.Scores.Total)
	fmt.Fprintf(&b, "Evaluation\n%s\n", rec.RubricReport)
	if rec.AudioRef != "" {
		fmt.Fprintf(&b, "\nAudio: %s (%s)\n", rec.AudioRef, rec.AudioSource)
	}
	return b.String()
}

func scoreText(v *int) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%d", *v)
}
