package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/seu-repo/voice-gateway/internal/domain"
)

var ErrInvalidAudio = errors.New("invalid audio")

// Prepared is audio ready to send to the transcription provider.
type Prepared struct {
	Data     []byte
	Encoding domain.AudioEncoding
	// Duration is exact for WAV and PCM16. For compressed input it is an
	// upper bound computed at FloorBitrate, and Estimated is set.
	Duration  time.Duration
	Estimated bool
}

// FloorBitrate is the lowest bitrate, in bits per second, assumed for
// compressed speech when bounding its duration from its size.
const FloorBitrate = 32000

// CompressedDuration bounds the playing time of n bytes encoded at no less
// than bitsPerSecond.
func CompressedDuration(n, bitsPerSecond int) time.Duration {
	if bitsPerSecond <= 0 {
		bitsPerSecond = FloorBitrate
	}
	return time.Duration(int64(n) * 8 * int64(time.Second) / int64(bitsPerSecond))
}

// Prepare converts WAV and raw PCM16 input to 16-bit mono WAV at
// targetRate. Compressed formats are passed through unchanged with an
// estimated duration; unknown encodings are rejected.
func Prepare(in domain.AudioInput, targetRate int) (*Prepared, error) {
	if len(in.Data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidAudio)
	}
	if !in.Format.Encoding.Known() {
		return nil, fmt.Errorf("%w: unsupported encoding %q", ErrInvalidAudio, in.Format.Encoding)
	}

	switch in.Format.Encoding {
	case domain.EncodingPCM16:
		rate, channels := in.Format.SampleRate, in.Format.Channels
		if rate <= 0 {
			rate = targetRate
		}
		if channels <= 0 {
			channels = 1
		}
		if len(in.Data)%(2*channels) != 0 {
			return nil, fmt.Errorf("%w: pcm payload not aligned", ErrInvalidAudio)
		}
		samples := BytesToSamples(in.Data)
		return encodeMono(samples, rate, channels, targetRate)

	case domain.EncodingWAV, "":
		samples, rate, channels, err := decodeWAV(in.Data)
		if err != nil {
			return nil, err
		}
		return encodeMono(samples, rate, channels, targetRate)

	default:
		return &Prepared{
			Data:      in.Data,
			Encoding:  in.Format.Encoding,
			Duration:  CompressedDuration(len(in.Data), FloorBitrate),
			Estimated: true,
		}, nil
	}
}

func encodeMono(samples []int16, rate, channels, targetRate int) (*Prepared, error) {
	mono := Resample(DownmixToMono(samples, channels), rate, targetRate)
	data, err := EncodeWAV(mono, targetRate)
	if err != nil {
		return nil, err
	}
	return &Prepared{
		Data:     data,
		Encoding: domain.EncodingWAV,
		Duration: time.Duration(len(mono)) * time.Second / time.Duration(targetRate),
	}, nil
}

// EncodeWAV writes mono 16-bit samples as a WAV file.
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	ints := make([]int, len(samples))
	for i, s := range samples {
		ints[i] = int(s)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           ints,
		SourceBitDepth: 16,
	}

	out := &writeSeeker{}
	enc := wav.NewEncoder(out, sampleRate, 16, 1, 1)
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close wav encoder: %w", err)
	}
	return out.buf, nil
}

func decodeWAV(data []byte) ([]int16, int, int, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, 0, 0, fmt.Errorf("%w: not a wav file", ErrInvalidAudio)
	}
	if dec.BitDepth != 16 {
		return nil, 0, 0, fmt.Errorf("%w: unsupported bit depth %d", ErrInvalidAudio, dec.BitDepth)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, 0, fmt.Errorf("%w: %v", ErrInvalidAudio, err)
	}
	if buf.Format == nil || buf.Format.SampleRate <= 0 || buf.Format.NumChannels <= 0 {
		return nil, 0, 0, fmt.Errorf("%w: missing format", ErrInvalidAudio)
	}

	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = int16(v)
	}
	return samples, buf.Format.SampleRate, buf.Format.NumChannels, nil
}

// WAVDuration reads the play time from a WAV header.
func WAVDuration(data []byte) (time.Duration, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return 0, fmt.Errorf("%w: not a wav file", ErrInvalidAudio)
	}
	return dec.Duration()
}

// writeSeeker is the in-memory io.WriteSeeker the WAV encoder needs to
// patch its header after the samples are written.
type writeSeeker struct {
	buf []byte
	pos int
}

func (w *writeSeeker) Write(p []byte) (int, error) {
	end := w.pos + len(p)
	if end > len(w.buf) {
		w.buf = append(w.buf, make([]byte, end-len(w.buf))...)
	}
	copy(w.buf[w.pos:], p)
	w.pos = end
	return len(p), nil
}

func (w *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(w.pos) + offset
	case io.SeekEnd:
		abs = int64(len(w.buf)) + offset
	default:
		return 0, errors.New("invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("negative position")
	}
	w.pos = int(abs)
	return abs, nil
}
