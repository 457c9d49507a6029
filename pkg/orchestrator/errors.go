package orchestrator

import "errors"

var (
	ErrEmptyTranscription = errors.New("transcription returned empty text")

	ErrTranscriptionFailed = errors.New("speech-to-text transcription failed")

	ErrLLMFailed = errors.New("language model generation failed")

	ErrTTSFailed = errors.New("text-to-speech synthesis failed")

	ErrNilProvider = errors.New("required provider is nil")

	ErrContextCancelled = errors.New("operation cancelled by context")

	// ErrUpstreamUnavailable is returned by TranscriberProvider.Open when
	// credentials are missing or the connect attempt fails.
	ErrUpstreamUnavailable = errors.New("upstream transcription service unavailable")

	// ErrSessionNotFound is returned by the registry for an unknown session id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrTTSUnavailable signals a missing TTS credential: synthesis is
	// skipped and a tts-unavailable event is emitted instead of an error.
	ErrTTSUnavailable = errors.New("text-to-speech capability unavailable")

	// ErrCancelled is returned by a ReplyTask/SynthTask when its cancel
	// handle tripped before or during the upstream call.
	ErrCancelled = errors.New("task cancelled")
)
