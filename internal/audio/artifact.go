package audio

import (
	"bytes"
	"io"
	"strings"
	"time"
)

// Origin records how an artifact was produced.
type Origin string

const (
	OriginRecorded Origin = "recorded"
	OriginUploaded Origin = "uploaded"
)

const MimeWAV = "audio/wav"

// Artifact is an immutable audio blob. The zero value is an empty artifact.
type Artifact struct {
	data      []byte
	mimeType  string
	origin    Origin
	createdAt time.Time
}

// NewArtifact copies data so later changes by the caller are not observed.
func NewArtifact(data []byte, mimeType string, origin Origin, createdAt time.Time) Artifact {
	buf := make([]byte, len(data))
	copy(buf, data)
	if strings.TrimSpace(mimeType) == "" {
		mimeType = "application/octet-stream"
	}
	return Artifact{data: buf, mimeType: mimeType, origin: origin, createdAt: createdAt.UTC()}
}

func (a Artifact) IsZero() bool         { return len(a.data) == 0 }
func (a Artifact) Len() int             { return len(a.data) }
func (a Artifact) MimeType() string     { return a.mimeType }
func (a Artifact) Origin() Origin       { return a.origin }
func (a Artifact) CreatedAt() time.Time { return a.createdAt }

// Bytes returns a copy of the audio payload.
func (a Artifact) Bytes() []byte {
	out := make([]byte, len(a.data))
	copy(out, a.data)
	return out
}

func (a Artifact) Reader() io.Reader {
	return bytes.NewReader(a.data)
}

// Extension returns the file extension (with dot) matching the MIME type.
func (a Artifact) Extension() string {
	return ExtensionForMime(a.mimeType)
}

func ExtensionForMime(mimeType string) string {
	base := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.Index(base, ";"); i >= 0 {
		base = strings.TrimSpace(base[:i])
	}
	switch base {
	case "audio/wav", "audio/wave", "audio/x-wav", "audio/vnd.wave":
		return ".wav"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/webm", "video/webm":
		return ".webm"
	case "audio/ogg", "application/ogg":
		return ".ogg"
	case "audio/mp4", "audio/m4a", "audio/x-m4a", "audio/aac":
		return ".m4a"
	case "audio/flac", "audio/x-flac":
		return ".flac"
	default:
		return ".bin"
	}
}

// ContentTypeForPath maps an archived audio file back to its MIME type.
func ContentTypeForPath(path string) string {
	switch strings.ToLower(path[strings.LastIndex(path, ".")+1:]) {
	case "mp3":
		return "audio/mpeg"
	case "wav":
		return MimeWAV
	case "webm":
		return "audio/webm"
	case "ogg":
		return "audio/ogg"
	case "m4a":
		return "audio/mp4"
	case "flac":
		return "audio/flac"
	default:
		return "application/octet-stream"
	}
}
