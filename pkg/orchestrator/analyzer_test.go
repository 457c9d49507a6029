package orchestrator

import "testing"

func TestAnalyzeEmptyFrame(t *testing.T) {
	result := Analyze(AudioFrame{})
	if result.Volume != 0 || result.VoiceActive {
		t.Errorf("expected zero result for empty frame, got %+v", result)
	}
}

func TestAnalyzeSilence(t *testing.T) {
	samples := make([]int16, 160)
	result := Analyze(AudioFrame{Samples: samples})
	if result.VoiceActive {
		t.Errorf("expected silence to be classified as not voice-active, got %+v", result)
	}
}

func TestAnalyzeLoudTone(t *testing.T) {
	samples := make([]int16, 160)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = 20000
		} else {
			samples[i] = -20000
		}
	}
	result := Analyze(AudioFrame{Samples: samples})
	if !result.VoiceActive {
		t.Errorf("expected loud tone to be voice-active, got %+v", result)
	}
	if result.Volume <= VoiceActiveThreshold {
		t.Errorf("expected volume above threshold, got %d", result.Volume)
	}
}

func TestAnalyzeVolumeClampedTo100(t *testing.T) {
	samples := make([]int16, 160)
	for i := range samples {
		samples[i] = 32767
	}
	result := Analyze(AudioFrame{Samples: samples})
	if result.Volume > 100 {
		t.Errorf("expected volume clamped to 100, got %d", result.Volume)
	}
}
