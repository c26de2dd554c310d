package vad

import (
	"math"
	"testing"

	"github.com/MrWong99/voxscribe/pkg/audio"
)

// speechFrame synthesises a frame of voiced-like audio: a low-frequency tone
// at the given amplitude.
func speechFrame(amplitude float64) []float32 {
	samples := make([]float32, audio.FrameSamples)
	for i := range samples {
		samples[i] = float32(amplitude * math.Sin(2*math.Pi*220*float64(i)/audio.SampleRate))
	}
	return samples
}

func silenceFrame() []float32 {
	return make([]float32, audio.FrameSamples)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", Config{}, false},
		{"explicit valid", Config{SpeechThreshold: 0.3, ActivationFrames: 2, RedemptionFrames: 4}, false},
		{"threshold too high", Config{SpeechThreshold: 1.5}, true},
		{"negative activation", Config{ActivationFrames: -1}, true},
		{"negative redemption", Config{RedemptionFrames: -2}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tc.cfg)
			if tc.wantErr && err == nil {
				t.Fatal("expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestSilenceStaysBelowThreshold(t *testing.T) {
	t.Parallel()

	d, err := New(Config{})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 20; i++ {
		res, err := d.ProcessFrame(silenceFrame())
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if res.IsSpeaking {
			t.Fatalf("frame %d: IsSpeaking on pure silence", i)
		}
		if res.Probability > 0.1 {
			t.Fatalf("frame %d: silence probability %f exceeds threshold", i, res.Probability)
		}
	}
}

func TestActivationRequiresConsecutiveSpeechFrames(t *testing.T) {
	t.Parallel()

	d, err := New(Config{})
	if err != nil {
		t.Fatal(err)
	}

	// The flag must not assert before the third consecutive speech frame.
	res, _ := d.ProcessFrame(speechFrame(0.4))
	if res.IsSpeaking {
		t.Fatal("IsSpeaking asserted after a single speech frame")
	}
	res, _ = d.ProcessFrame(speechFrame(0.4))
	if res.IsSpeaking {
		t.Fatal("IsSpeaking asserted after two speech frames")
	}
	res, _ = d.ProcessFrame(speechFrame(0.4))
	if !res.IsSpeaking {
		t.Fatalf("IsSpeaking not asserted after three speech frames (p=%f)", res.Probability)
	}
}

func TestRedemptionFramesDeassert(t *testing.T) {
	t.Parallel()

	d, err := New(Config{RedemptionFrames: 8})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 10; i++ {
		d.ProcessFrame(speechFrame(0.4))
	}

	// Seven silence frames must not deassert; the eighth must.
	for i := 0; i < 7; i++ {
		res, _ := d.ProcessFrame(silenceFrame())
		if !res.IsSpeaking {
			t.Fatalf("IsSpeaking dropped after only %d silence frames", i+1)
		}
	}
	res, _ := d.ProcessFrame(silenceFrame())
	if res.IsSpeaking {
		t.Fatal("IsSpeaking still asserted after 8 redemption frames")
	}
}

func TestInterleavedSilenceDoesNotDeassert(t *testing.T) {
	t.Parallel()

	d, err := New(Config{})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 10; i++ {
		d.ProcessFrame(speechFrame(0.4))
	}

	// Alternating silence and speech never accumulates 8 consecutive
	// silence frames, so the flag must hold.
	for i := 0; i < 20; i++ {
		var res Result
		if i%2 == 0 {
			res, _ = d.ProcessFrame(silenceFrame())
		} else {
			res, _ = d.ProcessFrame(speechFrame(0.4))
		}
		if !res.IsSpeaking {
			t.Fatalf("IsSpeaking dropped at interleaved frame %d", i)
		}
	}
}

func TestResetClearsState(t *testing.T) {
	t.Parallel()

	d, err := New(Config{})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 10; i++ {
		d.ProcessFrame(speechFrame(0.4))
	}
	d.Reset()

	res, _ := d.ProcessFrame(silenceFrame())
	if res.IsSpeaking {
		t.Fatal("IsSpeaking survived Reset")
	}
	if d.speechRun != 0 && d.silenceRun != 1 {
		t.Fatalf("counters not reset: speech=%d silence=%d", d.speechRun, d.silenceRun)
	}

	// After reset, activation must again require a full run of speech frames.
	res, _ = d.ProcessFrame(speechFrame(0.4))
	if res.IsSpeaking {
		t.Fatal("activation run survived Reset")
	}
}

func TestShortAndLongFramesAccepted(t *testing.T) {
	t.Parallel()

	d, err := New(Config{})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := d.ProcessFrame(make([]float32, 100)); err != nil {
		t.Fatalf("short frame rejected: %v", err)
	}
	if _, err := d.ProcessFrame(make([]float32, 2048)); err != nil {
		t.Fatalf("long frame rejected: %v", err)
	}
}
