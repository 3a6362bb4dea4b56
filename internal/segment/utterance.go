package segment

import (
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
)

// Utterance is the ordered run of frames between an onset and its offset,
// trailing silence included. It is handed to exactly one consumer.
type Utterance struct {
	// Seq numbers utterances from 0 in the order the segmenter flushed them.
	Seq uint64

	// Frames are in capture order.
	Frames []audio.Frame

	// SpeechFrames is how many of Frames were classified as speech.
	SpeechFrames int

	// FrameDur is the duration of one frame.
	FrameDur time.Duration
}

// Len returns the number of frames.
func (u Utterance) Len() int { return len(u.Frames) }

// Offset returns the capture offset of the first frame.
func (u Utterance) Offset() time.Duration {
	if len(u.Frames) == 0 {
		return 0
	}
	return u.Frames[0].Offset
}

// Duration returns the audio length of the utterance.
func (u Utterance) Duration() time.Duration {
	return time.Duration(len(u.Frames)) * u.FrameDur
}

// PCM concatenates the frames' int16 samples.
func (u Utterance) PCM() []int16 {
	n := 0
	for _, f := range u.Frames {
		n += len(f.Samples)
	}
	out := make([]int16, 0, n)
	for _, f := range u.Frames {
		out = append(out, f.Samples...)
	}
	return out
}

// Samples returns the concatenated audio as float32 normalised by 1/32768,
// the input format of every recognition backend.
func (u Utterance) Samples() []float32 {
	return audio.ToFloat32(u.PCM())
}
