// video.go - ebiten-backed present surface for the emulated VGA/CGA
// framebuffer, spec §6's core-to-host video interface.
//
// Grounded on video_backend_ebiten.go's EbitenOutput (window lifecycle,
// frame-buffer double-buffering under a RWMutex, vsync-channel signal
// from Draw back to the host loop), rewritten for a plain packed-pixel
// framebuffer instead of the teacher's Amiga chipset/sprite/palette
// surface: SupportsPalette/Textures/Sprites and the clipboard-paste key
// combo (golang.design/x/clipboard, already a dropped dependency - see
// DESIGN.md) have no PC-framebuffer equivalent in this spec and are not
// carried over. The keyboard-forwarding path is kept, since a PC core
// still needs host keystrokes delivered to its keyboard controller.
// DumpPNG wires golang.org/x/image/draw's resampler (a direct but
// previously-unexercised teacher dependency) into a debug screen-dump
// command.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package hostio

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"sync"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"golang.org/x/image/draw"
)

// PixelFormat names the framebuffer's packed-pixel layout.
type PixelFormat int

const (
	PixelFormatRGBA PixelFormat = iota
	PixelFormatBGRA
)

// DisplayConfig describes the present surface's current mode, the host
// analogue of a VGA mode-set.
type DisplayConfig struct {
	Width       int
	Height      int
	Scale       int
	PixelFormat PixelFormat
	RefreshRate int
	VSync       bool
	Fullscreen  bool
}

// FrameSnapshot is a point-in-time copy of the framebuffer, for the
// monitor's "dump screen" command.
type FrameSnapshot struct {
	Buffer    []byte
	Width     int
	Height    int
	Format    PixelFormat
	Timestamp time.Time
}

func clampScale(s int) int {
	if s < 1 {
		return 1
	}
	if s > 8 {
		return 8
	}
	return s
}

// VideoOutput is a present surface a device (or the monitor) can target;
// FramebufferOutput is the only implementation, but the interface keeps
// internal/machine's device wiring decoupled from ebiten specifically.
type VideoOutput interface {
	Start() error
	Stop() error
	Close() error
	Clear(color uint32) error
	UpdateFrame(data []byte) error
	UpdateRegion(x, y, width, height int, pixels []byte) error
	SetDisplayConfig(cfg DisplayConfig) error
	GetDisplayConfig() DisplayConfig
	WaitForVSync() error
	GetSnapshot() (FrameSnapshot, error)
	IsStarted() bool
	DumpPNG(path string, scale int) error
}

// FramebufferOutput presents a packed-pixel framebuffer in an ebiten
// window, the host side of spec §6's video interface.
type FramebufferOutput struct {
	running     bool
	window      *ebiten.Image
	width       int
	height      int
	format      PixelFormat
	fullscreen  bool
	scale       int
	windowedW   int
	windowedH   int
	frameBuffer []byte
	bufferMutex sync.RWMutex
	frameCount  uint64
	refreshRate int
	vsyncChan   chan struct{}
	keyHandler  func(byte)

	// OnWindowClosed is called from the ebiten game loop's Update when
	// the host window is closed, so the owning machine can react (e.g.
	// halt the CPU) without this package depending on internal/machine.
	OnWindowClosed func()
}

// NewFramebufferOutput returns a present surface defaulted to a
// 640x480 32bpp window, the common VGA mode 0x12/0x13-class framebuffer
// size.
func NewFramebufferOutput() *FramebufferOutput {
	return &FramebufferOutput{
		width:       640,
		height:      480,
		format:      PixelFormatRGBA,
		scale:       1,
		windowedW:   640,
		windowedH:   480,
		frameBuffer: make([]byte, 640*480*4),
		refreshRate: 60,
		vsyncChan:   make(chan struct{}, 1),
	}
}

func (eo *FramebufferOutput) Start() error {
	if eo.running {
		return nil
	}
	eo.running = true
	ebiten.SetWindowSize(eo.windowedW, eo.windowedH)
	ebiten.SetWindowTitle("pccore")
	ebiten.SetWindowResizable(true)
	ebiten.SetRunnableOnUnfocused(true)
	ebiten.SetVsyncEnabled(true)
	if eo.fullscreen {
		ebiten.SetFullscreen(true)
	}

	go func() {
		if err := ebiten.RunGame(eo); err != nil {
			fmt.Printf("video: ebiten exited: %v\n", err)
		}
	}()

	<-eo.vsyncChan // wait for the first Draw call before returning
	return nil
}

func (eo *FramebufferOutput) Stop() error {
	eo.running = false
	return nil
}

func (eo *FramebufferOutput) Close() error {
	return eo.Stop()
}

func (eo *FramebufferOutput) Clear(color uint32) error {
	eo.bufferMutex.Lock()
	for i := 0; i < len(eo.frameBuffer); i += 4 {
		eo.frameBuffer[i] = byte(color)
		eo.frameBuffer[i+1] = byte(color >> 8)
		eo.frameBuffer[i+2] = byte(color >> 16)
		eo.frameBuffer[i+3] = byte(color >> 24)
	}
	eo.bufferMutex.Unlock()
	return nil
}

func (eo *FramebufferOutput) UpdateFrame(data []byte) error {
	eo.bufferMutex.Lock()
	copy(eo.frameBuffer, data)
	eo.bufferMutex.Unlock()
	return nil
}

func (eo *FramebufferOutput) UpdateRegion(x, y, width, height int, pixels []byte) error {
	if x < 0 || y < 0 || x+width > eo.width || y+height > eo.height {
		return fmt.Errorf("video: region (%d,%d)+(%d,%d) out of bounds for %dx%d", x, y, width, height, eo.width, eo.height)
	}
	eo.bufferMutex.Lock()
	for dy := 0; dy < height; dy++ {
		dstOffset := ((y+dy)*eo.width + x) * 4
		srcOffset := dy * width * 4
		copy(eo.frameBuffer[dstOffset:], pixels[srcOffset:srcOffset+width*4])
	}
	eo.bufferMutex.Unlock()
	return nil
}

func (eo *FramebufferOutput) SetDisplayConfig(cfg DisplayConfig) error {
	eo.bufferMutex.Lock()
	defer eo.bufferMutex.Unlock()

	width, height := cfg.Width, cfg.Height
	if width <= 0 {
		width = 640
	}
	if height <= 0 {
		height = 480
	}
	eo.width, eo.height = width, height
	eo.format = cfg.PixelFormat
	eo.scale = clampScale(cfg.Scale)

	if newSize := eo.width * eo.height * 4; len(eo.frameBuffer) != newSize {
		eo.frameBuffer = make([]byte, newSize)
	}

	eo.windowedW = eo.width * eo.scale
	eo.windowedH = eo.height * eo.scale
	eo.fullscreen = cfg.Fullscreen
	ebiten.SetFullscreen(eo.fullscreen)
	if !eo.fullscreen {
		ebiten.SetWindowSize(eo.windowedW, eo.windowedH)
	}
	if eo.window != nil {
		eo.window.Dispose()
		eo.window = nil
	}
	return nil
}

func (eo *FramebufferOutput) GetDisplayConfig() DisplayConfig {
	return DisplayConfig{
		Width:       eo.width,
		Height:      eo.height,
		Scale:       eo.scale,
		PixelFormat: eo.format,
		RefreshRate: eo.refreshRate,
		VSync:       true,
		Fullscreen:  eo.fullscreen,
	}
}

func (eo *FramebufferOutput) WaitForVSync() error {
	<-eo.vsyncChan
	return nil
}

func (eo *FramebufferOutput) GetFrameCount() uint64 { return eo.frameCount }
func (eo *FramebufferOutput) GetRefreshRate() int   { return eo.refreshRate }

func (eo *FramebufferOutput) GetSnapshot() (FrameSnapshot, error) {
	eo.bufferMutex.RLock()
	defer eo.bufferMutex.RUnlock()
	snap := FrameSnapshot{
		Buffer:    make([]byte, len(eo.frameBuffer)),
		Width:     eo.width,
		Height:    eo.height,
		Format:    eo.format,
		Timestamp: time.Now(),
	}
	copy(snap.Buffer, eo.frameBuffer)
	return snap, nil
}

func (eo *FramebufferOutput) IsStarted() bool { return eo.running }

// DumpPNG writes the current framebuffer to path as a PNG, scaled to
// scale times its native size with golang.org/x/image/draw's bilinear
// resampler, for the monitor's "dump screen" debug command (spec §6).
func (eo *FramebufferOutput) DumpPNG(path string, scale int) error {
	snap, err := eo.GetSnapshot()
	if err != nil {
		return err
	}
	if scale < 1 {
		scale = 1
	}

	src := image.NewRGBA(image.Rect(0, 0, snap.Width, snap.Height))
	for i := 0; i+3 < len(snap.Buffer); i += 4 {
		var r, g, b byte
		switch snap.Format {
		case PixelFormatBGRA:
			b, g, r = snap.Buffer[i], snap.Buffer[i+1], snap.Buffer[i+2]
		default:
			r, g, b = snap.Buffer[i], snap.Buffer[i+1], snap.Buffer[i+2]
		}
		a := snap.Buffer[i+3]
		px := (i / 4) % snap.Width
		py := (i / 4) / snap.Width
		src.SetRGBA(px, py, color.RGBA{R: r, G: g, B: b, A: a})
	}

	dst := src
	if scale != 1 {
		dst = image.NewRGBA(image.Rect(0, 0, snap.Width*scale, snap.Height*scale))
		draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("video: creating %s: %w", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, dst); err != nil {
		return fmt.Errorf("video: encoding %s: %w", path, err)
	}
	return nil
}

// SetKeyHandler installs fn to receive translated keystrokes, for
// wiring a PC keyboard controller device to host input.
func (eo *FramebufferOutput) SetKeyHandler(fn func(byte)) {
	eo.bufferMutex.Lock()
	eo.keyHandler = fn
	eo.bufferMutex.Unlock()
}

func (eo *FramebufferOutput) emitByte(b byte) {
	eo.bufferMutex.RLock()
	handler := eo.keyHandler
	eo.bufferMutex.RUnlock()
	if handler != nil {
		handler(b)
	}
}

func (eo *FramebufferOutput) emitSeq(seq []byte) {
	for _, b := range seq {
		eo.emitByte(b)
	}
}

// Update implements ebiten.Game: polls window-close and keyboard state
// once per host frame.
func (eo *FramebufferOutput) Update() error {
	if ebiten.IsWindowBeingClosed() {
		if eo.OnWindowClosed != nil {
			eo.OnWindowClosed()
		}
		return ebiten.Termination
	}
	if !eo.running {
		return ebiten.Termination
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyF11) {
		eo.bufferMutex.Lock()
		eo.fullscreen = !eo.fullscreen
		ebiten.SetFullscreen(eo.fullscreen)
		if !eo.fullscreen {
			ebiten.SetWindowSize(eo.windowedW, eo.windowedH)
		}
		eo.bufferMutex.Unlock()
	}
	eo.handleKeyboardInput()
	return nil
}

func (eo *FramebufferOutput) handleKeyboardInput() {
	eo.bufferMutex.RLock()
	hasHandler := eo.keyHandler != nil
	eo.bufferMutex.RUnlock()
	if !hasHandler {
		return
	}
	for _, r := range ebiten.AppendInputChars(nil) {
		if r > 0 && r <= 0xFF {
			eo.emitByte(byte(r))
		}
	}
	specialKeys := []ebiten.Key{
		ebiten.KeyEnter, ebiten.KeyNumpadEnter, ebiten.KeyBackspace,
		ebiten.KeyTab, ebiten.KeyEscape, ebiten.KeyArrowUp,
		ebiten.KeyArrowDown, ebiten.KeyArrowRight, ebiten.KeyArrowLeft,
		ebiten.KeyHome, ebiten.KeyEnd, ebiten.KeyDelete,
	}
	for _, key := range specialKeys {
		if inpututil.IsKeyJustPressed(key) {
			if seq, ok := translateSpecialKey(key); ok {
				eo.emitSeq(seq)
			}
		}
	}
}

func translateSpecialKey(key ebiten.Key) ([]byte, bool) {
	switch key {
	case ebiten.KeyEnter, ebiten.KeyNumpadEnter:
		return []byte{'\n'}, true
	case ebiten.KeyBackspace:
		return []byte{'\b'}, true
	case ebiten.KeyTab:
		return []byte{'\t'}, true
	case ebiten.KeyEscape:
		return []byte{0x1B}, true
	case ebiten.KeyArrowUp:
		return []byte{0x1B, '[', 'A'}, true
	case ebiten.KeyArrowDown:
		return []byte{0x1B, '[', 'B'}, true
	case ebiten.KeyArrowRight:
		return []byte{0x1B, '[', 'C'}, true
	case ebiten.KeyArrowLeft:
		return []byte{0x1B, '[', 'D'}, true
	case ebiten.KeyHome:
		return []byte{0x1B, '[', 'H'}, true
	case ebiten.KeyEnd:
		return []byte{0x1B, '[', 'F'}, true
	case ebiten.KeyDelete:
		return []byte{0x1B, '[', '3', '~'}, true
	default:
		return nil, false
	}
}

// Draw implements ebiten.Game: blits the framebuffer and signals vsync.
func (eo *FramebufferOutput) Draw(screen *ebiten.Image) {
	if eo.window == nil {
		eo.window = ebiten.NewImage(eo.width, eo.height)
	}
	eo.bufferMutex.RLock()
	eo.window.WritePixels(eo.frameBuffer)
	eo.bufferMutex.RUnlock()
	screen.DrawImage(eo.window, nil)

	eo.frameCount++
	select {
	case eo.vsyncChan <- struct{}{}:
	default:
	}
}

// Layout implements ebiten.Game.
func (eo *FramebufferOutput) Layout(_, _ int) (int, int) {
	return eo.width, eo.height
}
