// Package rtc holds the PCM audio frame type shared by the room adapter,
// the session pipeline and the inference providers.
package rtc

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// FrameDuration is the length of every AudioFrame.
const FrameDuration = 10 * time.Millisecond

// AudioFrame represents exactly 10 ms of PCM audio.
// Len(Data) == SamplesPerChannel * NumChannels * 2.
//
// A zero Timestamp means "live"; otherwise it is the offset from the start of the stream.
type AudioFrame struct {
	Data              []byte        // 16-bit PCM, little-endian
	SampleRate        int           // 48 000, 24 000 or 16 000
	SamplesPerChannel int           // SampleRate / 100
	NumChannels       int           // 1 or 2
	Timestamp         time.Duration // optional
}

// NewAudioFrame creates a new AudioFrame, validating that data holds exactly 10 ms of audio.
func NewAudioFrame(data []byte, sampleRate, numChannels int, timestamp time.Duration) (*AudioFrame, error) {
	if sampleRate <= 0 || numChannels <= 0 {
		return nil, fmt.Errorf("invalid audio format: %dHz %d-channel", sampleRate, numChannels)
	}

	samplesPerChannel := sampleRate / 100
	expectedLen := samplesPerChannel * numChannels * 2
	if len(data) != expectedLen {
		return nil, fmt.Errorf("AudioFrame data length mismatch: got %d bytes, expected %d bytes for %dHz %d-channel 10ms audio",
			len(data), expectedLen, sampleRate, numChannels)
	}

	return &AudioFrame{
		Data:              data,
		SampleRate:        sampleRate,
		SamplesPerChannel: samplesPerChannel,
		NumChannels:       numChannels,
		Timestamp:         timestamp,
	}, nil
}

// Clone creates a deep copy of the AudioFrame.
func (f *AudioFrame) Clone() *AudioFrame {
	data := make([]byte, len(f.Data))
	copy(data, f.Data)

	return &AudioFrame{
		Data:              data,
		SampleRate:        f.SampleRate,
		SamplesPerChannel: f.SamplesPerChannel,
		NumChannels:       f.NumChannels,
		Timestamp:         f.Timestamp,
	}
}

// Duration returns the duration represented by this frame (always 10ms).
func (f *AudioFrame) Duration() time.Duration {
	return FrameDuration
}

// Samples decodes the frame into interleaved int16 samples.
func (f *AudioFrame) Samples() []int16 {
	return BytesToSamples(f.Data)
}

// BytesToSamples converts little-endian PCM16 bytes into samples. A trailing odd byte is ignored.
func BytesToSamples(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}

// SamplesToBytes converts samples into little-endian PCM16 bytes.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Framer cuts an arbitrary PCM16 byte stream into 10 ms frames.
// It is not safe for concurrent use.
type Framer struct {
	sampleRate  int
	numChannels int
	frameBytes  int
	buf         []byte
	emitted     int
}

// NewFramer returns a Framer for the given format.
func NewFramer(sampleRate, numChannels int) *Framer {
	return &Framer{
		sampleRate:  sampleRate,
		numChannels: numChannels,
		frameBytes:  sampleRate / 100 * numChannels * 2,
	}
}

// Write appends PCM bytes and returns every complete frame now available.
func (fr *Framer) Write(data []byte) []AudioFrame {
	fr.buf = append(fr.buf, data...)

	var frames []AudioFrame
	for len(fr.buf) >= fr.frameBytes {
		chunk := make([]byte, fr.frameBytes)
		copy(chunk, fr.buf[:fr.frameBytes])
		fr.buf = fr.buf[fr.frameBytes:]
		frames = append(frames, fr.frame(chunk))
	}
	return frames
}

// Flush pads any buffered remainder with silence and returns it as a final frame.
func (fr *Framer) Flush() (AudioFrame, bool) {
	if len(fr.buf) == 0 {
		return AudioFrame{}, false
	}
	chunk := make([]byte, fr.frameBytes)
	copy(chunk, fr.buf)
	fr.buf = fr.buf[:0]
	return fr.frame(chunk), true
}

func (fr *Framer) frame(chunk []byte) AudioFrame {
	f := AudioFrame{
		Data:              chunk,
		SampleRate:        fr.sampleRate,
		SamplesPerChannel: fr.sampleRate / 100,
		NumChannels:       fr.numChannels,
		Timestamp:         time.Duration(fr.emitted) * FrameDuration,
	}
	fr.emitted++
	return f
}

// Resample converts mono PCM16 samples between rates with linear interpolation.
func Resample(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || len(samples) == 0 {
		return samples
	}
	outLen := int(int64(len(samples)) * int64(toRate) / int64(fromRate))
	out := make([]int16, outLen)
	ratio := float64(fromRate) / float64(toRate)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := pos - float64(idx)
		out[i] = int16(float64(samples[idx])*(1-frac) + float64(samples[idx+1])*frac)
	}
	return out
}

// ResampleFrame converts a mono frame to toRate, keeping its timestamp.
func ResampleFrame(f AudioFrame, toRate int) AudioFrame {
	if f.SampleRate == toRate || f.NumChannels != 1 {
		return f
	}
	out := Resample(f.Samples(), f.SampleRate, toRate)
	return AudioFrame{
		Data:              SamplesToBytes(out),
		SampleRate:        toRate,
		SamplesPerChannel: len(out),
		NumChannels:       1,
		Timestamp:         f.Timestamp,
	}
}

// Silence returns a 10 ms frame of zero samples.
func Silence(sampleRate, numChannels int) AudioFrame {
	spc := sampleRate / 100
	return AudioFrame{
		Data:              make([]byte, spc*numChannels*2),
		SampleRate:        sampleRate,
		SamplesPerChannel: spc,
		NumChannels:       numChannels,
	}
}

// Tone returns a 10 ms mono sine frame. Phase continues across frames with index n.
func Tone(sampleRate int, freq, amplitude float64, n int) AudioFrame {
	spc := sampleRate / 100
	samples := make([]int16, spc)
	for i := range samples {
		t := float64(n*spc+i) / float64(sampleRate)
		samples[i] = int16(amplitude * math.Sin(2*math.Pi*freq*t) * math.MaxInt16)
	}
	return AudioFrame{
		Data:              SamplesToBytes(samples),
		SampleRate:        sampleRate,
		SamplesPerChannel: spc,
		NumChannels:       1,
		Timestamp:         time.Duration(n) * FrameDuration,
	}
}

// RMS returns the root mean square of samples, in int16 units.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
