package media

import "context"

// DeviceInfo describes one audio input device.
type DeviceInfo struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Default bool   `json:"default"`
}

type DeviceLister interface {
	InputDevices(ctx context.Context) ([]DeviceInfo, error)
}

// InputStream is one open capture stream. Frame gives an analyser-style view of
// the most recent samples; Tap gives every captured PCM16-LE buffer.
type InputStream interface {
	SampleRate() int
	Frame(dst []float32) (int, error)
	Tap() (<-chan []byte, func())
	Close() error
}

type Capturer interface {
	OpenInput(ctx context.Context, deviceID string) (InputStream, error)
}

// Playback is a running output. Done is closed when playback ends for any reason.
type Playback interface {
	Done() <-chan struct{}
	Err() error
	Stop()
}

type Player interface {
	Play(ctx context.Context, pcm []byte, sampleRate int, volume float64) (Playback, error)
}

// Codec wraps PCM16-LE mono audio into containers and back.
type Codec interface {
	Supports(mimeType string) bool
	Encode(pcm []byte, sampleRate int, mimeType string) ([]byte, error)
	Decode(data []byte, mimeType string) ([]byte, int, error)
}
