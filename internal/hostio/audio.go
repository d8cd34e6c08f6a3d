// audio.go - oto/v3-backed PCM output, spec §6's core-to-host audio
// interface.
//
// Grounded on audio_backend_oto.go's OtoPlayer: same oto.Context/
// oto.Player lifecycle (NewContextOptions, the <-ready handshake,
// ctx.NewPlayer(io.Reader), atomic.Pointer-guarded source swap for a
// lock-free Read hot path), generalized from the Amiga-specific
// SoundChip.ReadSampleFromRing() coupling to a small PCMSource
// interface this package defines, so any PC audio device (Sound
// Blaster DSP, PC speaker square-wave generator, AdLib) can feed the
// same present surface without this package knowing about any of them.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package hostio

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/ebitengine/oto/v3"
)

// PCMSource is anything that can fill an audio callback with
// interleaved float32 samples: a Sound Blaster DMA/DSP channel, a PC
// speaker toggle-to-PCM synthesizer, or a test fixture.
type PCMSource interface {
	// ReadSampleFromRing returns the next sample; callers must never
	// block, returning silence (0) if none is ready yet.
	ReadSampleFromRing() float32
}

// AudioPlayer is the oto/v3-backed present surface for PCMSource.
type AudioPlayer struct {
	ctx       *oto.Context
	player    *oto.Player
	source    atomic.Pointer[PCMSource] // atomic for a lock-free Read()
	sampleBuf []float32
	started   bool
	mutex     sync.Mutex // only for setup/control operations
}

// NewAudioPlayer opens an oto playback context at sampleRate (the
// Sound Blaster's or PC speaker's native output rate; 44100 is the
// common PC default), mono float32, matching the teacher's buffering.
func NewAudioPlayer(sampleRate int) (*AudioPlayer, error) {
	if sampleRate <= 0 {
		sampleRate = 44100
	}
	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 1,
		Format:       oto.FormatFloat32LE,
		BufferSize:   4,
	}

	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, err
	}
	<-ready

	return &AudioPlayer{ctx: ctx}, nil
}

// SetSource installs src as the active PCM source and creates the
// backing oto.Player; nil silences output.
func (p *AudioPlayer) SetSource(src PCMSource) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if src == nil {
		p.source.Store(nil)
		return
	}
	p.source.Store(&src)
	if p.player == nil {
		p.player = p.ctx.NewPlayer(p)
		p.sampleBuf = make([]float32, 1024)
	}
}

// Read implements io.Reader for the oto player: pulls one sample per
// output frame from the active source, or silence if none is set.
func (p *AudioPlayer) Read(b []byte) (int, error) {
	srcPtr := p.source.Load()
	if srcPtr == nil {
		for i := range b {
			b[i] = 0
		}
		return len(b), nil
	}

	numSamples := len(b) / 4
	if len(p.sampleBuf) < numSamples {
		p.sampleBuf = make([]float32, numSamples)
	}
	samples := p.sampleBuf[:numSamples]
	for i := 0; i < numSamples; i++ {
		samples[i] = (*srcPtr).ReadSampleFromRing()
	}

	copy(b, (*[1 << 30]byte)(unsafe.Pointer(&samples[0]))[:len(b)])
	return len(b), nil
}

// Start begins streaming from the active source to the host audio
// device. Calling Start before any SetSource plays silence.
func (p *AudioPlayer) Start() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.player == nil {
		p.player = p.ctx.NewPlayer(p)
		p.sampleBuf = make([]float32, 1024)
	}
	if !p.started {
		p.player.Play()
		p.started = true
	}
}

// Stop halts playback, releasing the player.
func (p *AudioPlayer) Stop() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.started && p.player != nil {
		p.player.Close()
		p.started = false
	}
}

// Close stops playback and releases the player entirely.
func (p *AudioPlayer) Close() {
	p.Stop()
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.player != nil {
		p.player.Close()
		p.player = nil
	}
}

// IsStarted reports whether Start has been called without a matching
// Stop/Close.
func (p *AudioPlayer) IsStarted() bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.started
}
