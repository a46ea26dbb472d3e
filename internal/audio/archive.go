package audio

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Archive writes artifacts to disk so history records can reference them.
// Recorded WAV artifacts are compressed to mp3 when ffmpeg or lame is on PATH.
type Archive struct {
	dir string

	encode func(wavPath, mp3Path string) error
}

func NewArchive(dir string) *Archive {
	if strings.TrimSpace(dir) == "" {
		dir = filepath.Join("data", "audio")
	}
	return &Archive{dir: dir, encode: encodeMP3}
}

func (a *Archive) Dir() string { return a.dir }

// Store persists the artifact under name and returns the file path.
func (a *Archive) Store(name string, artifact Artifact) (string, error) {
	if artifact.IsZero() {
		return "", fmt.Errorf("archive %s: empty artifact", name)
	}
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return "", fmt.Errorf("create audio directory: %w", err)
	}

	path := filepath.Join(a.dir, name+artifact.Extension())
	if err := os.WriteFile(path, artifact.data, 0o644); err != nil {
		return "", fmt.Errorf("write audio %s: %w", path, err)
	}

	if artifact.Extension() != ".wav" || a.encode == nil {
		return path, nil
	}

	mp3Path := filepath.Join(a.dir, name+".mp3")
	if err := a.encode(path, mp3Path); err != nil {
		slog.Debug("archive: keeping wav, mp3 encode unavailable", "path", path, "error", err)
		_ = os.Remove(mp3Path)
		return path, nil
	}

	_ = os.Remove(path)
	return mp3Path, nil
}

func encodeMP3(wavPath, mp3Path string) error {
	ffmpegErr := exec.Command("ffmpeg", "-y", "-loglevel", "error", "-i", wavPath, mp3Path).Run()
	if ffmpegErr == nil {
		return nil
	}

	lameErr := exec.Command("lame", "--quiet", wavPath, mp3Path).Run()
	if lameErr == nil {
		return nil
	}

	return fmt.Errorf("ffmpeg: %v; lame: %v", ffmpegErr, lameErr)
}
