// device_test.go - DeviceRegistry lifecycle unit tests
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package device

import (
	"errors"
	"testing"
)

func TestRegistry_AddAndCloseAllReverseOrder(t *testing.T) {
	r := New()
	var closeOrder []string

	for _, name := range []string{"pit", "pic", "chipset"} {
		n := name
		r.Add(Descriptor{
			Name: n,
			Init: func() (Instance, error) { return n, nil },
			Close: func(inst Instance) {
				closeOrder = append(closeOrder, inst.(string))
			},
		})
	}

	r.CloseAll()
	want := []string{"chipset", "pic", "pit"}
	if len(closeOrder) != len(want) {
		t.Fatalf("closeOrder = %v, want %v", closeOrder, want)
	}
	for i := range want {
		if closeOrder[i] != want[i] {
			t.Errorf("closeOrder[%d] = %q, want %q", i, closeOrder[i], want[i])
		}
	}
}

func TestRegistry_InitFailureUnwindsPriorDevices(t *testing.T) {
	r := New()
	closed := map[string]bool{}

	r.Add(Descriptor{
		Name: "first",
		Init: func() (Instance, error) { return "first", nil },
		Close: func(inst Instance) { closed[inst.(string)] = true },
	})

	err := r.Add(Descriptor{
		Name: "broken",
		Init: func() (Instance, error) { return nil, errors.New("boom") },
	})
	if err == nil {
		t.Fatal("expected error from failing Init")
	}
	if !closed["first"] {
		t.Error("first device should have been closed on init failure")
	}
	if len(r.entries) != 0 {
		t.Error("registry should be empty after unwind")
	}
}

func TestRegistry_UnavailableDeviceSkipped(t *testing.T) {
	r := New()
	initCalled := false
	r.Add(Descriptor{
		Name:      "optional-gpu",
		Available: func() bool { return false },
		Init:      func() (Instance, error) { initCalled = true; return nil, nil },
	})
	if initCalled {
		t.Error("Init should not be called when Available returns false")
	}
	if len(r.entries) != 0 {
		t.Error("unavailable device should not be registered")
	}
}

func TestRegistry_BroadcastResetOnlyCallsRegisteredHandlers(t *testing.T) {
	r := New()
	resetCount := 0
	r.Add(Descriptor{
		Name: "with-reset",
		Init: func() (Instance, error) { return nil, nil },
		Reset: func(Instance) { resetCount++ },
	})
	r.Add(Descriptor{
		Name: "without-reset",
		Init: func() (Instance, error) { return nil, nil },
	})

	r.BroadcastReset()
	if resetCount != 1 {
		t.Errorf("resetCount = %d, want 1", resetCount)
	}
}

func TestRegistry_FindReturnsRegisteredInstance(t *testing.T) {
	r := New()
	r.Add(Descriptor{
		Name:         "Chipset",
		InternalName: "chipset",
		Init:         func() (Instance, error) { return 42, nil },
	})

	inst, desc, ok := r.Find("chipset")
	if !ok {
		t.Fatal("expected to find chipset device")
	}
	if inst.(int) != 42 {
		t.Errorf("inst = %v, want 42", inst)
	}
	if desc.Name != "Chipset" {
		t.Errorf("desc.Name = %q, want Chipset", desc.Name)
	}
}
