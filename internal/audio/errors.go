package audio

import "errors"

var (
	ErrInvalidKind   = errors.New("invalid audio session kind")
	ErrNoClip        = errors.New("no clip in slot")
	ErrLeaseReleased = errors.New("audio session released before start")
)
