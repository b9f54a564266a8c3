package capture

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
	"go.uber.org/zap"
)

// Capture failure classes. They are reported once and never retried here;
// resuming after a denied permission is a user decision, not a retry loop.
var (
	ErrPermissionDenied = errors.New("microphone access denied")
	ErrNoDevice         = errors.New("no capture device available")
	ErrDeviceLost       = errors.New("capture device lost")
)

// Options configures the capture engine. The enhancement flags describe the
// requested capture profile; they default to on for speech.
type Options struct {
	SampleRate       int
	Channels         int
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool

	// ChunkInterval is the wall-clock cadence of emitted chunks.
	ChunkInterval time.Duration

	// DeviceName selects a capture device by name; empty means default.
	DeviceName string
}

// DefaultOptions returns the speech-tuned defaults: 16 kHz mono with all
// enhancements enabled, 100 ms chunks.
func DefaultOptions() Options {
	return Options{
		SampleRate:       16000,
		Channels:         1,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
		ChunkInterval:    100 * time.Millisecond,
	}
}

const bitsPerSample = 16

// Engine acquires a microphone-class input device and produces fixed-interval
// PCM chunks plus a continuously updated loudness level. Start and Stop are
// safe to call from any goroutine; Stop is idempotent.
type Engine struct {
	opts   Options
	logger *zap.Logger

	mu      sync.Mutex
	mctx    *malgo.AllocatedContext
	device  *malgo.Device
	started time.Time

	// running gates the audio callback without touching mu: the backend may
	// drain a pending callback while Stop holds mu to uninit the device.
	running atomic.Bool

	// OnError receives asynchronous capture failures (the device vanishing
	// mid-call). Set before Start.
	OnError func(error)

	// cbMu guards the state touched from the audio callback.
	cbMu    sync.Mutex
	onChunk func([]byte)
	chunker *chunker
	meter   meter
	bytes   atomic.Int64
}

// NewEngine initializes the audio backend. Close releases it.
func NewEngine(opts Options, logger *zap.Logger) (*Engine, error) {
	if opts.SampleRate <= 0 {
		opts.SampleRate = 16000
	}
	if opts.Channels <= 0 {
		opts.Channels = 1
	}
	if opts.ChunkInterval <= 0 {
		opts.ChunkInterval = 100 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}

	bytesPerChunk := opts.SampleRate * opts.Channels * (bitsPerSample / 8) *
		int(opts.ChunkInterval.Milliseconds()) / 1000

	return &Engine{
		opts:    opts,
		logger:  logger,
		mctx:    mctx,
		chunker: newChunker(bytesPerChunk),
	}, nil
}

// Start requests exclusive access to the configured device and begins chunk
// production and loudness sampling. onChunk is invoked from the audio
// callback once per complete interval.
func (e *Engine) Start(onChunk func([]byte)) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running.Load() {
		return fmt.Errorf("capture already running")
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(e.opts.Channels)
	deviceConfig.SampleRate = uint32(e.opts.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	if id, err := e.selectDevice(); err != nil {
		return err
	} else if id != nil {
		deviceConfig.Capture.DeviceID = id.Pointer()
	}

	e.logger.Info("Starting audio capture",
		zap.Int("sampleRate", e.opts.SampleRate),
		zap.Int("channels", e.opts.Channels),
		zap.Duration("chunkInterval", e.opts.ChunkInterval),
		zap.Bool("echoCancellation", e.opts.EchoCancellation),
		zap.Bool("noiseSuppression", e.opts.NoiseSuppression),
		zap.Bool("autoGainControl", e.opts.AutoGainControl))

	e.cbMu.Lock()
	e.onChunk = onChunk
	e.cbMu.Unlock()

	onRecvFrames := func(_, pSample []byte, _ uint32) {
		if !e.running.Load() {
			return
		}
		e.cbMu.Lock()
		emit := e.onChunk
		e.meter.update(pSample)
		e.chunker.write(pSample, func(chunk []byte) {
			e.bytes.Add(int64(len(chunk)))
			if emit != nil {
				emit(chunk)
			}
		})
		e.cbMu.Unlock()
	}

	onDeviceStop := func() {
		if e.running.Load() && e.OnError != nil {
			e.OnError(ErrDeviceLost)
		}
	}

	device, err := malgo.InitDevice(e.mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: onRecvFrames,
		Stop: onDeviceStop,
	})
	if err != nil {
		return classifyDeviceError(err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		return classifyDeviceError(err)
	}

	e.device = device
	e.running.Store(true)
	e.started = time.Now()
	return nil
}

// selectDevice resolves Options.DeviceName against the available capture
// devices. A nil id means the platform default.
func (e *Engine) selectDevice() (*malgo.DeviceID, error) {
	infos, err := e.mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate capture devices: %w", err)
	}
	if len(infos) == 0 {
		return nil, ErrNoDevice
	}
	if e.opts.DeviceName == "" {
		return nil, nil
	}
	for _, info := range infos {
		if info.Name() == e.opts.DeviceName {
			id := info.ID
			return &id, nil
		}
	}
	e.logger.Warn("Capture device not found, using default",
		zap.String("deviceName", e.opts.DeviceName))
	return nil, nil
}

// Stop releases the device, halts chunk production and loudness sampling,
// and resets the reported volume to zero. Idempotent.
func (e *Engine) Stop() {
	if !e.running.CompareAndSwap(true, false) {
		return
	}

	e.mu.Lock()
	if e.device != nil {
		e.device.Stop()
		e.device.Uninit()
		e.device = nil
	}
	e.started = time.Time{}
	e.mu.Unlock()

	e.cbMu.Lock()
	e.onChunk = nil
	e.chunker.reset()
	e.meter.reset()
	e.cbMu.Unlock()
}

// Close stops capture and releases the audio backend.
func (e *Engine) Close() {
	e.Stop()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mctx != nil {
		_ = e.mctx.Uninit()
		e.mctx.Free()
		e.mctx = nil
	}
}

// Recording reports whether the device is actively capturing.
func (e *Engine) Recording() bool {
	return e.running.Load()
}

// Volume returns the current normalized loudness in [0, 1].
func (e *Engine) Volume() float64 {
	return e.meter.value()
}

// BytesCaptured returns the cumulative bytes emitted as chunks.
func (e *Engine) BytesCaptured() int64 {
	return e.bytes.Load()
}

// StartedAt returns when the current capture began; zero when not recording.
func (e *Engine) StartedAt() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}

// classifyDeviceError maps backend failures onto the capture error classes
// so callers can distinguish a denied permission from a missing device.
func classifyDeviceError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "access denied") || strings.Contains(msg, "permission"):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case strings.Contains(msg, "no device") || strings.Contains(msg, "device type not supported"):
		return fmt.Errorf("%w: %v", ErrNoDevice, err)
	default:
		return fmt.Errorf("failed to open capture device: %w", err)
	}
}
