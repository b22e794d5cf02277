//go:build !linux

package audio

import (
	"context"
	"encoding/hex"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

type malgoContext struct {
	ctx *malgo.AllocatedContext
}

func NewContext() (Context, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, err
	}
	return &malgoContext{ctx: ctx}, nil
}

func (m *malgoContext) Devices() ([]DeviceInfo, error) {
	devices, err := m.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("malgo devices: %w", err)
	}
	var result []DeviceInfo
	for _, d := range devices {
		result = append(result, DeviceInfo{
			ID:   hex.EncodeToString(d.ID.Pointer()[:]),
			Name: d.Name(),
		})
	}
	return result, nil
}

func (m *malgoContext) NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error) {
	return m.newTrack(malgo.Capture, device, config)
}

// CaptureSystem uses WASAPI loopback on Windows. Elsewhere it looks for a
// virtual loopback input (BlackHole, Soundflower, ...); without one the
// stream is returned empty.
func (m *malgoContext) CaptureSystem(ctx context.Context, config CaptureConfig) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, ErrCancelled
	}
	if runtime.GOOS == "windows" {
		t, err := m.newTrack(malgo.Loopback, nil, config)
		if err != nil {
			return nil, err
		}
		t.name = "system loopback"
		return NewStream(t), nil
	}
	devices, err := m.Devices()
	if err != nil {
		return nil, err
	}
	for i := range devices {
		if IsLoopback(devices[i].Name) {
			t, err := m.newTrack(malgo.Capture, &devices[i], config)
			if err != nil {
				return nil, err
			}
			return NewStream(t), nil
		}
	}
	return NewStream(), nil
}

func (m *malgoContext) CaptureMicrophone(ctx context.Context, device *DeviceInfo, config CaptureConfig) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, ErrCancelled
	}
	t, err := m.newTrack(malgo.Capture, device, config)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return NewStream(t), nil
}

func (m *malgoContext) Close() {
	m.ctx.Uninit()
	m.ctx.Free()
}

func (m *malgoContext) newTrack(kind malgo.DeviceType, device *DeviceInfo, config CaptureConfig) (*malgoTrack, error) {
	deviceConfig := malgo.DefaultDeviceConfig(kind)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = config.Channels
	deviceConfig.SampleRate = config.SampleRate

	if device != nil {
		idBytes, err := hex.DecodeString(device.ID)
		if err != nil {
			return nil, fmt.Errorf("invalid device ID: %w", err)
		}
		var devID malgo.DeviceID
		copy(devID[:], idBytes)
		deviceConfig.Capture.DeviceID = devID.Pointer()
	}

	t := &malgoTrack{device: device, constraints: config.Constraints}
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, data []byte, frameCount uint32) {
			cb := t.callback.Load()
			if cb == nil || len(data) == 0 {
				return
			}
			pcm := make([]byte, len(data))
			copy(pcm, data)
			applyConstraints(pcm, t.constraints)
			(*cb)(pcm, frameCount)
		},
		Stop: func() {
			if !t.stopping.Load() {
				go t.fire()
			}
		},
	}

	dev, err := malgo.InitDevice(m.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, err
	}
	t.dev = dev
	return t, nil
}

type malgoTrack struct {
	endNotifier

	dev         *malgo.Device
	device      *DeviceInfo
	name        string
	constraints Constraints
	callback    atomic.Pointer[DataCallback]
	stopping    atomic.Bool
	closed      atomic.Bool
	closeOnce   sync.Once
}

func (c *malgoTrack) Kind() Kind { return KindAudio }

func (c *malgoTrack) Start() error {
	c.stopping.Store(false)
	return c.dev.Start()
}

func (c *malgoTrack) Stop() {
	c.stopping.Store(true)
	if !c.closed.Load() {
		c.dev.Stop()
	}
}

func (c *malgoTrack) Close() {
	c.closeOnce.Do(func() {
		c.stopping.Store(true)
		c.closed.Store(true)
		c.dev.Uninit()
	})
}

func (c *malgoTrack) SetCallback(cb DataCallback) {
	c.callback.Store(&cb)
}

func (c *malgoTrack) ClearCallback() {
	c.callback.Store(nil)
}

func (c *malgoTrack) DeviceName() string {
	switch {
	case c.name != "":
		return c.name
	case c.device != nil:
		return c.device.Name
	}
	return "system default"
}
