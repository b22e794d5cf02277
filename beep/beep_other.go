//go:build !linux

package beep

import (
	"encoding/binary"
	"sync"

	"github.com/gen2brain/malgo"
)

var (
	ctxOnce  sync.Once
	malgoCtx *malgo.AllocatedContext
	// one cue at a time; overlapping cues are dropped
	playMu sync.Mutex
)

func play(samples []int16) {
	if len(samples) == 0 {
		return
	}
	ctxOnce.Do(func() {
		malgoCtx, _ = malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	})
	if malgoCtx == nil || !playMu.TryLock() {
		return
	}
	defer playMu.Unlock()

	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}

	config := malgo.DefaultDeviceConfig(malgo.Playback)
	config.Playback.Format = malgo.FormatS16
	config.Playback.Channels = 1
	config.SampleRate = sampleRate

	done := make(chan struct{})
	var once sync.Once
	pos := 0
	callbacks := malgo.DeviceCallbacks{
		Data: func(out, _ []byte, _ uint32) {
			n := copy(out, data[pos:])
			pos += n
			clear(out[n:])
			if pos >= len(data) {
				once.Do(func() { close(done) })
			}
		},
	}
	device, err := malgo.InitDevice(malgoCtx.Context, config, callbacks)
	if err != nil {
		return
	}
	defer device.Uninit()
	if err := device.Start(); err != nil {
		return
	}
	<-done
	device.Stop()
}
