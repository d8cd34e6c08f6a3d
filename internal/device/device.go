// device.go - device descriptor and registry lifecycle.
//
// Grounded on spec §4.8 and the teacher's backend Close() idiom
// (audio_backend_oto.go's OtoPlayer.Close, video_backend_ebiten.go's
// EbitenOutput.Close), generalised into a descriptor + instance
// lifecycle with ordered init/close and broadcast reset/speed-change
// callbacks, none of which the teacher's single-backend-per-concern
// design needed since it never had to compose an arbitrary set of
// devices at runtime.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package device

import "fmt"

// Bus classifies which bus fabric(s) a device attaches to, per spec
// §3's Device.flags.
type Bus int

const (
	BusNone Bus = 0
	BusISA  Bus = 1 << iota
	BusPCI
	BusMCA
	BusAGP
)

// Instance is the opaque value a device's Init returns; the registry
// only ever threads it back through Close/Reset/SpeedChanged.
type Instance any

// Descriptor is a device's registration contract, matching spec §3's
// Device type: {name, internal_name, flags, init, close, reset?,
// available?, speed_changed?, force_redraw?, config_schema}.
type Descriptor struct {
	Name         string
	InternalName string
	Flags        Bus

	Init          func() (Instance, error)
	Close         func(Instance)
	Reset         func(Instance)             // optional
	Available     func() bool                // optional: gate registration on host capability
	SpeedChanged  func(Instance, float64)    // optional: new cycles/sec
	ForceRedraw   func(Instance)             // optional: video devices
	ConfigSchema  map[string]string          // optional: key -> description, for hostcfg validation
}

type entry struct {
	desc     Descriptor
	instance Instance
}

// Registry holds every device added to a machine, in registration
// order, so shutdown and init-failure unwind can run in reverse order
// per spec §4.8.
type Registry struct {
	entries []*entry
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{}
}

// Add runs desc.Available (if set) to decide whether to skip the
// device, then calls desc.Init, appending the resulting instance on
// success. If Init fails, every already-added device in this registry
// is closed in reverse order before the error is returned, so a failed
// machine composition never leaves a partial device set running.
func (r *Registry) Add(desc Descriptor) error {
	if desc.Available != nil && !desc.Available() {
		return nil
	}
	if desc.Init == nil {
		return fmt.Errorf("device %q: no Init function", desc.Name)
	}
	inst, err := desc.Init()
	if err != nil {
		r.CloseAll()
		return fmt.Errorf("device %q: init failed: %w", desc.Name, err)
	}
	r.entries = append(r.entries, &entry{desc: desc, instance: inst})
	return nil
}

// CloseAll closes every registered device in reverse registration
// order, matching spec §4.8's shutdown contract.
func (r *Registry) CloseAll() {
	for i := len(r.entries) - 1; i >= 0; i-- {
		e := r.entries[i]
		if e.desc.Close != nil {
			e.desc.Close(e.instance)
		}
	}
	r.entries = nil
}

// BroadcastReset calls every registered device's optional Reset
// callback, in registration order (reset, unlike close, has no
// ordering requirement in the spec beyond "every instance that
// registered one").
func (r *Registry) BroadcastReset() {
	for _, e := range r.entries {
		if e.desc.Reset != nil {
			e.desc.Reset(e.instance)
		}
	}
}

// BroadcastSpeedChanged calls every registered device's optional
// SpeedChanged callback with the new cycles/sec figure.
func (r *Registry) BroadcastSpeedChanged(cyclesPerSec float64) {
	for _, e := range r.entries {
		if e.desc.SpeedChanged != nil {
			e.desc.SpeedChanged(e.instance, cyclesPerSec)
		}
	}
}

// BroadcastForceRedraw calls every registered device's optional
// ForceRedraw callback (video devices invalidating a cached frame).
func (r *Registry) BroadcastForceRedraw() {
	for _, e := range r.entries {
		if e.desc.ForceRedraw != nil {
			e.desc.ForceRedraw(e.instance)
		}
	}
}

// Find returns the instance and descriptor registered under
// internalName, or (nil, Descriptor{}, false) if not present.
func (r *Registry) Find(internalName string) (Instance, Descriptor, bool) {
	for _, e := range r.entries {
		if e.desc.InternalName == internalName {
			return e.instance, e.desc, true
		}
	}
	return nil, Descriptor{}, false
}

// Descriptors returns the registration-ordered list of descriptors for
// every device currently installed, for the monitor's device listing.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.desc
	}
	return out
}
