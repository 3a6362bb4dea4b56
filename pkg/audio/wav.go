package audio

import (
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WriteWAV encodes mono int16 samples as a 16-bit PCM WAV stream.
func WriteWAV(w io.WriteSeeker, samples []int16, sampleRate int) error {
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}

	enc := wav.NewEncoder(w, sampleRate, 16, 1, 1)
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("audio: write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("audio: close wav encoder: %w", err)
	}
	return nil
}

// WriteWAVFile writes samples to path, creating or truncating it.
func WriteWAVFile(path string, samples []int16, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audio: create %q: %w", path, err)
	}
	if err := WriteWAV(f, samples, sampleRate); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("audio: close %q: %w", path, err)
	}
	return nil
}

// WAVTempFile writes samples to a new temporary WAV file in dir (or the OS
// temp dir when dir is empty) and returns its path. The caller removes it.
func WAVTempFile(dir string, samples []int16, sampleRate int) (string, error) {
	f, err := os.CreateTemp(dir, "earshot_*.wav")
	if err != nil {
		return "", fmt.Errorf("audio: temp file: %w", err)
	}
	name := f.Name()
	if err := WriteWAV(f, samples, sampleRate); err != nil {
		f.Close()
		os.Remove(name)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", fmt.Errorf("audio: close %q: %w", name, err)
	}
	return name, nil
}
