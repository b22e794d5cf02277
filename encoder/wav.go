package encoder

import (
	"bytes"
	"encoding/binary"
	"sync"
	"time"
)

const WavHeaderSize = 44

// WavEncoder writes 16-bit PCM behind a RIFF header whose length fields stay
// zero until PatchWavHeader runs over the assembled payload.
type WavEncoder struct {
	buf         bytes.Buffer
	totalFrames uint64
	encodeTime  time.Duration
	mu          sync.Mutex
}

func NewWav() *WavEncoder {
	e := &WavEncoder{}
	e.buf.Write(wavHeader(0))
	return e
}

func (e *WavEncoder) EncodeBlock(block []int16) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var b [2]byte
	for _, s := range block {
		binary.LittleEndian.PutUint16(b[:], uint16(s))
		e.buf.Write(b[:])
	}
	e.totalFrames += uint64(len(block))
	return nil
}

func (e *WavEncoder) Close() error { return nil }

func (e *WavEncoder) Bytes() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buf.Bytes()
}

func (e *WavEncoder) TotalFrames() uint64 {
	return e.totalFrames
}

func (e *WavEncoder) AddEncodeTime(d time.Duration) {
	e.mu.Lock()
	e.encodeTime += d
	e.mu.Unlock()
}

func (e *WavEncoder) EncodeTime() time.Duration {
	return e.encodeTime
}

// PatchWavHeader fills in the RIFF and data chunk sizes. Payloads shorter
// than a header are returned unchanged.
func PatchWavHeader(payload []byte) []byte {
	if len(payload) < WavHeaderSize {
		return payload
	}
	dataSize := len(payload) - WavHeaderSize
	binary.LittleEndian.PutUint32(payload[4:8], uint32(WavHeaderSize-8+dataSize))
	binary.LittleEndian.PutUint32(payload[40:44], uint32(dataSize))
	return payload
}

func wavHeader(dataSize int) []byte {
	buf := make([]byte, WavHeaderSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(WavHeaderSize-8+dataSize))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], Channels)
	binary.LittleEndian.PutUint32(buf[24:28], SampleRate)
	binary.LittleEndian.PutUint32(buf[28:32], SampleRate*Channels*BitsPerSample/8)
	binary.LittleEndian.PutUint16(buf[32:34], Channels*BitsPerSample/8)
	binary.LittleEndian.PutUint16(buf[34:36], BitsPerSample)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	return buf
}
