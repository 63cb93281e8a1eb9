package media

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
	"testing"
)

func TestWAVRoundTrip(t *testing.T) {
	pcm := make([]byte, 640)
	for i := range pcm {
		pcm[i] = byte(i)
	}

	data, err := EncodeWAV(pcm, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	if len(data) != 44+len(pcm) {
		t.Fatalf("expected %d bytes, got %d", 44+len(pcm), len(data))
	}
	if got := binary.LittleEndian.Uint32(data[24:28]); got != 16000 {
		t.Fatalf("expected sample rate 16000 in header, got %d", got)
	}

	decoded, rate, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if rate != 16000 {
		t.Fatalf("expected rate 16000, got %d", rate)
	}
	if !bytes.Equal(decoded, pcm) {
		t.Fatalf("decoded payload differs from input")
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	if _, _, err := DecodeWAV([]byte("not a wav file at all, definitely not one here")); err == nil {
		t.Fatalf("expected error for non-wav payload")
	}
}

func TestFFmpegCodecSupports(t *testing.T) {
	missing := &FFmpegCodec{lookPath: func(string) (string, error) { return "", errors.New("not found") }}
	if !missing.Supports(MIMEWav) {
		t.Fatalf("wav must always be supported")
	}
	if missing.Supports(MIMEWebmOpus) {
		t.Fatalf("webm must not be supported without ffmpeg")
	}

	present := &FFmpegCodec{lookPath: func(string) (string, error) { return "/usr/bin/ffmpeg", nil }}
	for _, mime := range []string{MIMEWebmOpus, MIMEMP4, MIMEOggOpus} {
		if !present.Supports(mime) {
			t.Fatalf("expected %s supported with ffmpeg", mime)
		}
	}
	if present.Supports("audio/flac") {
		t.Fatalf("flac is not a known format")
	}
}

func TestFFmpegCodecEncodeArgs(t *testing.T) {
	var gotArgs []string
	var gotStdin []byte
	codec := &FFmpegCodec{
		lookPath: func(string) (string, error) { return "/usr/bin/ffmpeg", nil },
		run: func(stdin []byte, name string, args ...string) ([]byte, error) {
			gotStdin = stdin
			gotArgs = args
			return []byte("encoded"), nil
		},
	}

	out, err := codec.Encode([]byte{1, 2, 3, 4}, 48000, MIMEOggOpus)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if string(out) != "encoded" {
		t.Fatalf("unexpected output %q", out)
	}
	if len(gotStdin) != 4 {
		t.Fatalf("expected pcm on stdin, got %d bytes", len(gotStdin))
	}
	joined := strings.Join(gotArgs, " ")
	for _, want := range []string{"-ar 48000", "-c:a libopus", "-f ogg", "pipe:1"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected %q in args %q", want, joined)
		}
	}
}

func TestFFmpegCodecDecodeWithoutFFmpeg(t *testing.T) {
	codec := &FFmpegCodec{lookPath: func(string) (string, error) { return "", errors.New("not found") }}
	if _, _, err := codec.Decode([]byte("x"), MIMEWebmOpus); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}
