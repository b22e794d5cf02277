//go:build linux

package audio

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"
)

const endPollInterval = 500 * time.Millisecond

type pulseContext struct {
	client *pulse.Client
}

func NewContext() (Context, error) {
	c, err := pulse.NewClient(pulse.ClientApplicationName("meetrec"))
	if err != nil {
		return nil, fmt.Errorf("pulse: %w", err)
	}
	return &pulseContext{client: c}, nil
}

func (p *pulseContext) Devices() ([]DeviceInfo, error) {
	sources, err := p.client.ListSources()
	if err != nil {
		return nil, fmt.Errorf("pulse list sources: %w", err)
	}
	var devices []DeviceInfo
	for _, s := range sources {
		devices = append(devices, DeviceInfo{
			ID:   s.ID(),
			Name: s.Name(),
		})
	}
	return devices, nil
}

func (p *pulseContext) NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error) {
	return p.newTrack(device, nil, config), nil
}

// CaptureSystem records the monitor of the default sink, i.e. whatever the
// desktop is currently playing. Without a default sink the request is granted
// but the stream carries no audio.
func (p *pulseContext) CaptureSystem(ctx context.Context, config CaptureConfig) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, ErrCancelled
	}
	sink, err := p.client.DefaultSink()
	if err != nil || sink == nil {
		return NewStream(), nil
	}
	t := p.newTrack(nil, sink, config)
	t.name = "monitor of " + sink.Name()
	return NewStream(t), nil
}

func (p *pulseContext) CaptureMicrophone(ctx context.Context, device *DeviceInfo, config CaptureConfig) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, ErrCancelled
	}
	if device == nil && config.Constraints.EchoCancellation {
		device = p.echoCancelSource()
	}
	if device == nil {
		src, err := p.client.DefaultSource()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoDevice, err)
		}
		device = &DeviceInfo{ID: src.ID(), Name: src.Name()}
	}
	if IsLoopback(device.Name) {
		return nil, fmt.Errorf("%w: %s is a monitor source", ErrNoDevice, device.Name)
	}
	return NewStream(p.newTrack(device, nil, config)), nil
}

// echoCancelSource returns the source created by module-echo-cancel, if loaded.
func (p *pulseContext) echoCancelSource() *DeviceInfo {
	sources, err := p.client.ListSources()
	if err != nil {
		return nil
	}
	for _, s := range sources {
		if strings.Contains(strings.ToLower(s.ID()), "echo-cancel") {
			return &DeviceInfo{ID: s.ID(), Name: s.Name()}
		}
	}
	return nil
}

func (p *pulseContext) Close() {
	p.client.Close()
}

func (p *pulseContext) newTrack(device *DeviceInfo, monitor *pulse.Sink, config CaptureConfig) *pulseTrack {
	return &pulseTrack{
		client:  p.client,
		device:  device,
		monitor: monitor,
		config:  config,
	}
}

type pulseTrack struct {
	endNotifier

	client   *pulse.Client
	device   *DeviceInfo
	monitor  *pulse.Sink
	name     string
	config   CaptureConfig
	callback atomic.Pointer[DataCallback]

	stream *pulse.RecordStream
	mu     sync.Mutex
	stop   chan struct{}
	done   chan struct{}
}

func (c *pulseTrack) Kind() Kind { return KindAudio }

func (c *pulseTrack) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	writer := pulse.Int16Writer(func(buf []int16) (int, error) {
		if len(buf) == 0 {
			return 0, nil
		}
		cb := c.callback.Load()
		if cb == nil {
			return len(buf), nil
		}
		data := make([]byte, len(buf)*2)
		for i, s := range buf {
			data[i*2] = byte(s)
			data[i*2+1] = byte(uint16(s) >> 8)
		}
		applyConstraints(data, c.config.Constraints)
		(*cb)(data, uint32(len(buf)))
		return len(buf), nil
	})

	opts := []pulse.RecordOption{
		pulse.RecordMono,
		pulse.RecordSampleRate(int(c.config.SampleRate)),
		pulse.RecordLatency(0.05),
	}
	if c.config.Constraints.AutoGainControl {
		opts = append(opts, pulse.RecordRawOption(func(r *proto.CreateRecordStream) {
			vol := uint32(proto.VolumeNorm) * 2
			r.ChannelVolumes = proto.ChannelVolumes{vol}
		}))
	}
	switch {
	case c.monitor != nil:
		opts = append(opts, pulse.RecordMonitor(c.monitor))
	case c.device != nil:
		source, err := c.client.SourceByID(c.device.ID)
		if err == nil && source != nil {
			opts = append(opts, pulse.RecordSource(source))
		}
	}

	stream, err := c.client.NewRecord(writer, opts...)
	if err != nil {
		return fmt.Errorf("pulse record: %w", err)
	}

	c.stream = stream
	c.stop = make(chan struct{})
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		stream.Start()
		ticker := time.NewTicker(endPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stop:
				stream.Stop()
				stream.Close()
				return
			case <-ticker.C:
				if !stream.Running() {
					stream.Close()
					go c.fire()
					return
				}
			}
		}
	}()

	return nil
}

func (c *pulseTrack) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		select {
		case <-c.stop:
		default:
			close(c.stop)
		}
		<-c.done
	}
}

func (c *pulseTrack) Close() {
	c.Stop()
}

func (c *pulseTrack) SetCallback(cb DataCallback) {
	c.callback.Store(&cb)
}

func (c *pulseTrack) ClearCallback() {
	c.callback.Store(nil)
}

func (c *pulseTrack) DeviceName() string {
	switch {
	case c.name != "":
		return c.name
	case c.device != nil:
		return c.device.Name
	}
	return "system default"
}
