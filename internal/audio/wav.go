package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const pcmBitDepth = 16

// EncodeWAV wraps little-endian PCM16 data in a RIFF/WAVE container.
func EncodeWAV(pcm []byte, sampleRate, channels int) ([]byte, error) {
	header, err := wavHeader(len(pcm), sampleRate, channels, pcmBitDepth)
	if err != nil {
		return nil, fmt.Errorf("build wav header: %w", err)
	}

	out := make([]byte, 0, len(header)+len(pcm))
	out = append(out, header...)
	out = append(out, pcm...)
	return out, nil
}

func wavHeader(dataSize, sampleRate, channels, bitDepth int) ([]byte, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("invalid format %d Hz x %d channels", sampleRate, channels)
	}

	byteRate := sampleRate * channels * bitDepth / 8
	blockAlign := channels * bitDepth / 8
	chunkSize := 36 + dataSize

	buf := bytes.NewBuffer(make([]byte, 0, 44))
	buf.WriteString("RIFF")
	if err := binary.Write(buf, binary.LittleEndian, uint32(chunkSize)); err != nil {
		return nil, err
	}
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	for _, f := range []any{
		uint32(16),
		uint16(1),
		uint16(channels),
		uint32(sampleRate),
		uint32(byteRate),
		uint16(blockAlign),
		uint16(bitDepth),
	} {
		if err := binary.Write(buf, binary.LittleEndian, f); err != nil {
			return nil, err
		}
	}
	buf.WriteString("data")
	if err := binary.Write(buf, binary.LittleEndian, uint32(dataSize)); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// pcmBytes converts interleaved samples to little-endian PCM16.
func pcmBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
