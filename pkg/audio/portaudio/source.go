// Package portaudio implements [audio.Source] on top of the PortAudio C
// library via github.com/gordonklaus/portaudio.
//
// The stream is opened in callback mode: PortAudio calls into Go from its
// realtime thread once per block, and each block is exactly one frame. The
// callback copies the driver buffer and hands it to the deliver function; it
// never logs, performs I/O, or waits on a lock held by slow code.
package portaudio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/earshot/pkg/audio"
)

// ErrAlreadyStarted is returned by [Source.Start] on a running source.
var ErrAlreadyStarted = errors.New("portaudio: source already started")

// Device describes one enumerated device that can record.
type Device struct {
	Index         int
	Name          string
	InputChannels int
	DefaultRate   float64
}

// Option configures a [Source].
type Option func(*Source)

// WithDeviceIndex selects the device at index in the PortAudio device list
// instead of the first input-capable one. A negative index keeps the default.
func WithDeviceIndex(index int) Option {
	return func(s *Source) { s.deviceIndex = index }
}

// Source captures mono int16 frames from a local input device.
type Source struct {
	format      audio.Format
	deviceIndex int

	mu      sync.Mutex
	stream  *portaudio.Stream
	device  string
	running bool
}

var _ audio.Source = (*Source)(nil)

// New returns a Source that captures at format. The device is not opened
// until Start.
func New(format audio.Format, opts ...Option) *Source {
	s := &Source{format: format, deviceIndex: -1}
	for _, o := range opts {
		o(s)
	}
	return s
}

// DeviceName returns the name of the opened device, or "" before Start.
func (s *Source) DeviceName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device
}

// Start implements [audio.Source].
func (s *Source) Start(deliver func(audio.Frame)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyStarted
	}

	n := s.format.SamplesPerFrame()
	if n <= 0 {
		return fmt.Errorf("portaudio: invalid format %d Hz / %v", s.format.SampleRate, s.format.FrameDuration)
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio: initialize: %w", err)
	}

	dev, err := s.pickDevice()
	if err != nil {
		portaudio.Terminate()
		return err
	}

	var (
		seq    uint64
		offset time.Duration
	)
	frameDur := s.format.Duration(n)
	callback := func(in []int16) {
		samples := make([]int16, len(in))
		copy(samples, in)
		deliver(audio.Frame{Samples: samples, Seq: seq, Offset: offset})
		seq++
		offset += frameDur
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(s.format.SampleRate),
		FramesPerBuffer: n,
	}
	stream, err := portaudio.OpenStream(params, callback)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("portaudio: open %q: %w", dev.Name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("portaudio: start %q: %w", dev.Name, err)
	}

	s.stream = stream
	s.device = dev.Name
	s.running = true
	return nil
}

// pickDevice returns the configured device or the first one with at least
// one input channel.
func (s *Source) pickDevice() (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: enumerate devices: %w", err)
	}
	if s.deviceIndex >= 0 {
		if s.deviceIndex >= len(devices) {
			return nil, fmt.Errorf("%w: index %d out of range (%d devices)", audio.ErrNoInputDevice, s.deviceIndex, len(devices))
		}
		d := devices[s.deviceIndex]
		if d.MaxInputChannels < 1 {
			return nil, fmt.Errorf("%w: device %d %q has no input channels", audio.ErrNoInputDevice, s.deviceIndex, d.Name)
		}
		return d, nil
	}
	for _, d := range devices {
		if d.MaxInputChannels >= 1 {
			return d, nil
		}
	}
	return nil, audio.ErrNoInputDevice
}

// Stop implements [audio.Source].
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false

	var errs []error
	if err := s.stream.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: stop: %w", err))
	}
	if err := s.stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: close: %w", err))
	}
	s.stream = nil
	if err := portaudio.Terminate(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: terminate: %w", err))
	}
	return errors.Join(errs...)
}

// ListInputDevices returns every device with at least one input channel.
func ListInputDevices() ([]Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: enumerate devices: %w", err)
	}
	var out []Device
	for i, d := range devices {
		if d.MaxInputChannels < 1 {
			continue
		}
		out = append(out, Device{
			Index:         i,
			Name:          d.Name,
			InputChannels: d.MaxInputChannels,
			DefaultRate:   d.DefaultSampleRate,
		})
	}
	return out, nil
}
