// machine_test.go - end-to-end scenarios against the composed Machine.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package machine

import (
	"testing"

	"github.com/intuitionamiga/pccore/internal/pci"
)

// TestScenario1_BootPOSTWritesFF drives a tiny program that loads AL
// with 0xFF, writes it to port 0x80, and halts - the POST-complete
// signal spec §8 scenario 1 asks for.
func TestScenario1_BootPOSTWritesFF(t *testing.T) {
	m, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	prog := []byte{0xB0, 0xFF, 0xE6, 0x80, 0xF4} // MOV AL,0xFF; OUT 0x80,AL; HLT
	for i, b := range prog {
		m.Mem.WriteB(uint32(i), b)
	}

	m.RunUntilHalt(1000)

	if !m.CPU.Halted {
		t.Fatal("CPU did not halt after executing the POST program")
	}
	if got := m.POST.Last(); got != 0xFF {
		t.Fatalf("POST.Last() = %#x, want 0xFF", got)
	}
}

// TestScenario2_ShadowRAMToggle matches spec §8 scenario 2: a write to
// the ROM-shadowed window is dropped while shadow write is disabled,
// and persists once the chipset index/data pair enables it.
func TestScenario2_ShadowRAMToggle(t *testing.T) {
	m, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	m.Mem.WriteB(0xF8000, 0x5A)
	if got := m.Mem.ReadB(0xF8000); got == 0x5A {
		t.Fatal("write landed even though shadow write is disabled")
	}

	// Unlock the chipset register file, then set bit0 of the shadow
	// control register to enable RAM as both the read and write source.
	// The writes go through the CPU's port path (machineBus.Out), which
	// applies the shadow setting after each write to port 0x23.
	m.bus.Out(0x22, shadowLockIndex)
	m.bus.Out(0x23, shadowUnlockMagic)
	m.bus.Out(0x22, shadowControlIndex)
	m.bus.Out(0x23, 0x01)

	m.Mem.WriteB(0xF8000, 0x5A)
	if got := m.Mem.ReadB(0xF8000); got != 0x5A {
		t.Fatalf("ReadB(0xF8000) after enabling shadow write = %#x, want 0x5A", got)
	}
}

// TestScenario3_PITChannel0ModeTwoCountsDown matches spec §8 scenario
// 3: channel 0 programmed for mode 2 with count 0x1000 must read back
// a monotonically decreasing (modulo reload) counter.
func TestScenario3_PITChannel0ModeTwoCountsDown(t *testing.T) {
	m, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Control word: channel 0, access LSB-then-MSB, mode 2, binary.
	m.IO.OutB(0x43, 0x34)
	m.IO.OutB(0x40, 0x00) // count LSB
	m.IO.OutB(0x40, 0x10) // count MSB -> 0x1000

	first := m.readPITCounter(t)
	m.bus.Tick(2000)
	second := m.readPITCounter(t)

	if second >= first {
		t.Fatalf("PIT channel 0 counter did not decrease: first=%#x second=%#x", first, second)
	}
}

func (m *Machine) readPITCounter(t *testing.T) uint16 {
	t.Helper()
	lo := uint16(m.IO.InB(0x40))
	hi := uint16(m.IO.InB(0x40))
	return lo | hi<<8
}

// TestScenario4_PCIConfigEnumeration matches spec §8 scenario 4: a
// config write selecting bus 0, device 0, function 0 followed by a
// 4-byte read at 0xCFC returns the registered card's vendor/device ID.
func TestScenario4_PCIConfigEnumeration(t *testing.T) {
	m, err := New(Config{EnablePCI: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	const vendorID, deviceID = 0x8086, 0x1237
	idBytes := [4]byte{byte(vendorID & 0xFF), byte(vendorID >> 8), byte(deviceID & 0xFF), byte(deviceID >> 8)}
	card := &pci.ConfigSpace{
		Type: pci.Northbridge,
		ReadReg: func(reg byte) byte {
			if reg < 4 {
				return idBytes[reg]
			}
			return 0
		},
	}
	m.PCI.RegisterBusSlot(0, 0, 0, card)

	m.IO.OutL(0xCF8, 0x80000000)
	got := m.IO.InL(0xCFC)
	want := uint32(vendorID) | uint32(deviceID)<<16
	if got != want {
		t.Fatalf("PCI config read = %#x, want %#x", got, want)
	}
}

// TestNew_ProducesRunnableMachine checks that New returns a Machine with
// its CPU, Runner and dynarec cache in place and that Close runs. The
// init-failure unwind is not exercised here (every always-on device's
// Init in this composition is infallible); internal/device's own tests
// cover Registry.Add's unwind path.
func TestNew_ProducesRunnableMachine(t *testing.T) {
	m, err := New(Config{RAMSize: 64 * 1024})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if m.CPU == nil || m.Runner == nil || m.Dynarec == nil {
		t.Fatal("New returned a Machine missing core components")
	}
	m.Close()
}
