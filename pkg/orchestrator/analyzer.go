package orchestrator

import "math"

// VoiceActiveThreshold is the fixed volume threshold above which a frame
// is classified as voice-active. Calibration is explicitly a
// non-goal, so this is a constant, not a config field.
const VoiceActiveThreshold = 5

// fullScale16 is the full-scale magnitude of signed 16-bit PCM, used to
// normalize RMS into a 0-100 volume scale.
const fullScale16 = 32768.0

// Analyze is the Audio Analyzer: a pure transform from a frame of PCM
// samples to a volume/voice-active classification. It has no state,
// performs no I/O, and its only failure mode is an empty frame, which
// yields volume 0 and voice-active false rather than an error.
//
// Grounded on RMSVAD.calculateRMS (same RMS-over-int16 arithmetic), but
// deliberately split out of the debouncer: the Analyzer must carry no
// state across calls, while RMSVAD fuses analysis and debouncing into
// one type.
func Analyze(frame AudioFrame) AnalysisResult {
	if len(frame.Samples) == 0 {
		return AnalysisResult{Volume: 0, VoiceActive: false}
	}

	var sumSquares float64
	for _, s := range frame.Samples {
		f := float64(s) / fullScale16
		sumSquares += f * f
	}
	rms := math.Sqrt(sumSquares / float64(len(frame.Samples)))

	volume := int(math.Round(rms * 100))
	if volume < 0 {
		volume = 0
	}
	if volume > 100 {
		volume = 100
	}

	return AnalysisResult{
		Volume:      volume,
		VoiceActive: volume > VoiceActiveThreshold,
	}
}
