package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// ErrDecode means the input bytes are not parseable PCM WAV. This is
// fatal for the whole recording; no chunks are produced.
var ErrDecode = errors.New("audio: cannot decode input")

// Info describes a decoded recording.
type Info struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	Duration      time.Duration
}

type format struct {
	channels      int
	sampleRate    int
	bitsPerSample int
	blockAlign    int
}

// decoded is the parsed view of a WAV buffer: its format plus the raw
// PCM frames from the data chunk.
type decoded struct {
	fmt format
	pcm []byte
}

func decode(data []byte) (*decoded, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("%w: missing RIFF/WAVE header", ErrDecode)
	}

	var f *format
	var pcm []byte

	// Walk chunks; fmt and data can appear in any order and other
	// chunks (LIST, fact) may be interleaved.
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if size < 0 || body+size > len(data) {
			return nil, fmt.Errorf("%w: truncated %q chunk", ErrDecode, id)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("%w: short fmt chunk", ErrDecode)
			}
			audioFormat := binary.LittleEndian.Uint16(data[body : body+2])
			if audioFormat != 1 { // PCM only
				return nil, fmt.Errorf("%w: unsupported audio format %d", ErrDecode, audioFormat)
			}
			f = &format{
				channels:      int(binary.LittleEndian.Uint16(data[body+2 : body+4])),
				sampleRate:    int(binary.LittleEndian.Uint32(data[body+4 : body+8])),
				blockAlign:    int(binary.LittleEndian.Uint16(data[body+12 : body+14])),
				bitsPerSample: int(binary.LittleEndian.Uint16(data[body+14 : body+16])),
			}
		case "data":
			pcm = data[body : body+size]
		}

		// Chunks are word-aligned
		if size%2 == 1 {
			size++
		}
		off = body + size
	}

	if f == nil || pcm == nil {
		return nil, fmt.Errorf("%w: missing fmt or data chunk", ErrDecode)
	}
	if f.sampleRate <= 0 || f.channels <= 0 || f.blockAlign <= 0 {
		return nil, fmt.Errorf("%w: invalid format parameters", ErrDecode)
	}
	// Drop a trailing partial frame rather than emitting one.
	pcm = pcm[:len(pcm)-len(pcm)%f.blockAlign]
	return &decoded{fmt: *f, pcm: pcm}, nil
}

// Probe returns the format and duration of a WAV buffer.
func Probe(data []byte) (Info, error) {
	d, err := decode(data)
	if err != nil {
		return Info{}, err
	}
	frames := len(d.pcm) / d.fmt.blockAlign
	dur := time.Duration(frames) * time.Second / time.Duration(d.fmt.sampleRate)
	return Info{
		SampleRate:    d.fmt.sampleRate,
		Channels:      d.fmt.channels,
		BitsPerSample: d.fmt.bitsPerSample,
		Duration:      dur,
	}, nil
}

// encode writes PCM frames back out as a standalone WAV buffer.
func encode(f format, pcm []byte) []byte {
	var buf bytes.Buffer
	byteRate := f.sampleRate * f.blockAlign

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(f.channels))
	binary.Write(&buf, binary.LittleEndian, uint32(f.sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(f.blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(f.bitsPerSample))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}
