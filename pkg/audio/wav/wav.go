// Package wav reads and writes 16-bit PCM WAV files as 10 ms audio frames.
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/chriscow/livekit-voice-agent/pkg/rtc"
)

const (
	formatPCM     = 1
	bitsPerSample = 16
	headerSize    = 44
)

var ErrUnsupported = errors.New("unsupported WAV format")

// Format is the layout of the PCM samples.
type Format struct {
	SampleRate  int
	NumChannels int
}

func (f Format) validate() error {
	if f.SampleRate <= 0 || f.SampleRate%100 != 0 {
		return fmt.Errorf("%w: %d Hz is not a multiple of 100", ErrUnsupported, f.SampleRate)
	}
	if f.NumChannels != 1 && f.NumChannels != 2 {
		return fmt.Errorf("%w: %d channels", ErrUnsupported, f.NumChannels)
	}
	return nil
}

// header is the canonical 44 byte RIFF/WAVE header.
type header struct {
	RIFF          [4]byte
	ChunkSize     uint32
	WAVE          [4]byte
	Fmt           [4]byte
	FmtSize       uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Data          [4]byte
	DataSize      uint32
}

func newHeader(f Format, dataSize uint32) header {
	blockAlign := uint16(f.NumChannels * bitsPerSample / 8)
	return header{
		RIFF:          [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     headerSize - 8 + dataSize,
		WAVE:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   formatPCM,
		NumChannels:   uint16(f.NumChannels),
		SampleRate:    uint32(f.SampleRate),
		ByteRate:      uint32(f.SampleRate) * uint32(blockAlign),
		BlockAlign:    blockAlign,
		BitsPerSample: bitsPerSample,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      dataSize,
	}
}

// Decode reads a PCM WAV stream and splits it into 10 ms frames. The last
// frame is zero padded.
func Decode(r io.Reader) (Format, []rtc.AudioFrame, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return Format{}, nil, fmt.Errorf("read RIFF header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return Format{}, nil, fmt.Errorf("%w: not a RIFF/WAVE stream", ErrUnsupported)
	}

	var f Format
	haveFmt := false
	for {
		var chunk [8]byte
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			return Format{}, nil, fmt.Errorf("read chunk header: %w", err)
		}
		id := string(chunk[0:4])
		size := binary.LittleEndian.Uint32(chunk[4:8])

		switch id {
		case "fmt ":
			if size < 16 {
				return Format{}, nil, fmt.Errorf("%w: fmt chunk of %d bytes", ErrUnsupported, size)
			}
			body := make([]byte, size+size%2)
			if _, err := io.ReadFull(r, body); err != nil {
				return Format{}, nil, fmt.Errorf("read fmt chunk: %w", err)
			}
			if format := binary.LittleEndian.Uint16(body[0:2]); format != formatPCM {
				return Format{}, nil, fmt.Errorf("%w: encoding %d", ErrUnsupported, format)
			}
			if bits := binary.LittleEndian.Uint16(body[14:16]); bits != bitsPerSample {
				return Format{}, nil, fmt.Errorf("%w: %d-bit samples", ErrUnsupported, bits)
			}
			f = Format{
				NumChannels: int(binary.LittleEndian.Uint16(body[2:4])),
				SampleRate:  int(binary.LittleEndian.Uint32(body[4:8])),
			}
			if err := f.validate(); err != nil {
				return Format{}, nil, err
			}
			haveFmt = true

		case "data":
			if !haveFmt {
				return Format{}, nil, fmt.Errorf("%w: data before fmt", ErrUnsupported)
			}
			data, err := io.ReadAll(io.LimitReader(r, int64(size)))
			if err != nil {
				return Format{}, nil, fmt.Errorf("read samples: %w", err)
			}
			framer := rtc.NewFramer(f.SampleRate, f.NumChannels)
			frames := framer.Write(data)
			if last, ok := framer.Flush(); ok {
				frames = append(frames, last)
			}
			return f, frames, nil

		default:
			if _, err := io.CopyN(io.Discard, r, int64(size+size%2)); err != nil {
				return Format{}, nil, fmt.Errorf("skip %q chunk: %w", id, err)
			}
		}
	}
}

// ReadFile decodes the WAV file at path.
func ReadFile(path string) (Format, []rtc.AudioFrame, error) {
	file, err := os.Open(path)
	if err != nil {
		return Format{}, nil, err
	}
	defer file.Close()
	return Decode(file)
}

// Writer streams frames into a WAV file. The sizes in the header are
// patched by Close.
type Writer struct {
	w        io.WriteSeeker
	format   Format
	dataSize uint32
}

func NewWriter(w io.WriteSeeker, f Format) (*Writer, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	if err := writeHeader(w, newHeader(f, 0)); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	return &Writer{w: w, format: f}, nil
}

// WriteFrame appends frame, which must match the writer's format.
func (w *Writer) WriteFrame(frame rtc.AudioFrame) error {
	if frame.SampleRate != w.format.SampleRate || frame.NumChannels != w.format.NumChannels {
		return fmt.Errorf("frame is %d Hz/%d ch, file is %d Hz/%d ch",
			frame.SampleRate, frame.NumChannels, w.format.SampleRate, w.format.NumChannels)
	}
	n, err := w.w.Write(frame.Data)
	w.dataSize += uint32(n)
	return err
}

// Close rewrites the header with the final sizes. It does not close the
// underlying writer.
func (w *Writer) Close() error {
	if _, err := w.w.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if err := writeHeader(w.w, newHeader(w.format, w.dataSize)); err != nil {
		return fmt.Errorf("rewrite header: %w", err)
	}
	_, err := w.w.Seek(0, io.SeekEnd)
	return err
}

// WriteFile stores frames at path.
func WriteFile(path string, f Format, frames []rtc.AudioFrame) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := file.Close(); err == nil {
			err = cerr
		}
	}()

	w, err := NewWriter(file, f)
	if err != nil {
		return err
	}
	for _, frame := range frames {
		if err := w.WriteFrame(frame); err != nil {
			return err
		}
	}
	return w.Close()
}

func writeHeader(w io.Writer, h header) error {
	return binary.Write(w, binary.LittleEndian, h)
}
