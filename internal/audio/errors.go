package audio

import "errors"

var (
	// ErrAlreadyRecording means Start was called while a capture is active;
	// the caller must Stop first.
	ErrAlreadyRecording = errors.New("capture already active")
	// ErrNotRecording means Stop was called with no capture active.
	ErrNotRecording = errors.New("no capture active")
	// ErrNoActiveStream means Start was called without a live audio stream.
	ErrNoActiveStream = errors.New("no live audio stream")
	// ErrPlaybackCancelled marks a playback interrupted before natural
	// completion, distinguishable from the nil result of finishing.
	ErrPlaybackCancelled = errors.New("playback cancelled")
)
