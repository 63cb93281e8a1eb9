package media

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

const (
	MIMEWav      = "audio/wav"
	MIMEWebmOpus = "audio/webm;codecs=opus"
	MIMEMP4      = "audio/mp4"
	MIMEOggOpus  = "audio/ogg;codecs=opus"

	pcmChannels = 1
	pcmBitDepth = 16
	wavHeaderSz = 44

	// decodeSampleRate is the rate ffmpeg resamples to when decoding a container.
	decodeSampleRate = 24000
)

var ffmpegFormats = map[string][]string{
	MIMEWebmOpus: {"-c:a", "libopus", "-f", "webm"},
	MIMEMP4:      {"-c:a", "aac", "-movflags", "frag_keyframe+empty_moov", "-f", "mp4"},
	MIMEOggOpus:  {"-c:a", "libopus", "-f", "ogg"},
}

// FFmpegCodec encodes through an ffmpeg binary when one is on PATH. WAV is
// always available without it.
type FFmpegCodec struct {
	lookPath func(string) (string, error)
	run      func(stdin []byte, name string, args ...string) ([]byte, error)
}

func NewFFmpegCodec() *FFmpegCodec {
	return &FFmpegCodec{lookPath: exec.LookPath, run: runPiped}
}

func (c *FFmpegCodec) Supports(mimeType string) bool {
	if baseType(mimeType) == MIMEWav {
		return true
	}
	if _, ok := ffmpegFormats[mimeType]; !ok {
		return false
	}
	_, err := c.lookPath("ffmpeg")
	return err == nil
}

func (c *FFmpegCodec) Encode(pcm []byte, sampleRate int, mimeType string) ([]byte, error) {
	if baseType(mimeType) == MIMEWav {
		return EncodeWAV(pcm, sampleRate)
	}

	formatArgs, ok := ffmpegFormats[mimeType]
	if !ok {
		return nil, fmt.Errorf("encode %s: %w", mimeType, ErrUnsupported)
	}

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", strconv.Itoa(pcmChannels),
		"-i", "pipe:0",
	}
	args = append(args, formatArgs...)
	args = append(args, "pipe:1")

	out, err := c.run(pcm, "ffmpeg", args...)
	if err != nil {
		return nil, fmt.Errorf("encode %s with ffmpeg: %w", mimeType, err)
	}
	return out, nil
}

func (c *FFmpegCodec) Decode(data []byte, mimeType string) ([]byte, int, error) {
	if baseType(mimeType) == MIMEWav {
		return DecodeWAV(data)
	}
	if _, err := c.lookPath("ffmpeg"); err != nil {
		return nil, 0, fmt.Errorf("decode %s: %w", mimeType, ErrUnsupported)
	}

	out, err := c.run(data, "ffmpeg",
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-f", "s16le",
		"-ar", strconv.Itoa(decodeSampleRate),
		"-ac", strconv.Itoa(pcmChannels),
		"pipe:1",
	)
	if err != nil {
		return nil, 0, fmt.Errorf("decode %s with ffmpeg: %w", mimeType, err)
	}
	return out, decodeSampleRate, nil
}

func runPiped(stdin []byte, name string, args ...string) ([]byte, error) {
	cmd := exec.Command(name, args...)
	cmd.Stdin = bytes.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}

func baseType(mimeType string) string {
	base, _, _ := strings.Cut(mimeType, ";")
	return strings.TrimSpace(base)
}

// EncodeWAV wraps PCM16-LE mono samples in a RIFF/WAVE container.
func EncodeWAV(pcm []byte, sampleRate int) ([]byte, error) {
	header, err := wavHeader(len(pcm), sampleRate, pcmChannels, pcmBitDepth)
	if err != nil {
		return nil, fmt.Errorf("build wav header: %w", err)
	}
	out := make([]byte, 0, len(header)+len(pcm))
	out = append(out, header...)
	out = append(out, pcm...)
	return out, nil
}

// DecodeWAV returns the PCM payload and sample rate of a 16-bit mono WAV.
func DecodeWAV(data []byte) ([]byte, int, error) {
	if len(data) < wavHeaderSz || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, errors.New("decode wav: not a RIFF/WAVE payload")
	}

	sampleRate := 0
	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		switch id {
		case "fmt ":
			if body+16 > len(data) {
				return nil, 0, errors.New("decode wav: truncated fmt chunk")
			}
			if bits := binary.LittleEndian.Uint16(data[body+14 : body+16]); bits != pcmBitDepth {
				return nil, 0, fmt.Errorf("decode wav: unsupported bit depth %d", bits)
			}
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
		case "data":
			if sampleRate == 0 {
				return nil, 0, errors.New("decode wav: data before fmt chunk")
			}
			end := min(body+size, len(data))
			return data[body:end], sampleRate, nil
		}
		offset = body + size + size%2
	}
	return nil, 0, errors.New("decode wav: missing data chunk")
}

func wavHeader(dataSize, sampleRate, channels, bitDepth int) ([]byte, error) {
	byteRate := sampleRate * channels * bitDepth / 8
	blockAlign := channels * bitDepth / 8
	chunkSize := 36 + dataSize

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSz))
	buf.WriteString("RIFF")
	if err := binary.Write(buf, binary.LittleEndian, uint32(chunkSize)); err != nil {
		return nil, err
	}
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	fields := []any{
		uint32(16),
		uint16(1),
		uint16(channels),
		uint32(sampleRate),
		uint32(byteRate),
		uint16(blockAlign),
		uint16(bitDepth),
	}
	for _, f := range fields {
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
