package devicecheck

import "errors"

var (
	ErrNoDevices         = errors.New("no audio input devices")
	ErrSpeakerUnresolved = errors.New("speaker problem not resolved")
	ErrInvalidTransition = errors.New("invalid device check transition")
)
