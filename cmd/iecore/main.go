// main.go - iecore: the PC-compatible core's command-line front end.
//
// Grounded on rcornwell-S370's main.go (getopt flag parsing, config
// loading, signal-driven shutdown) since the teacher itself has no
// single program entry point to copy from (its machine composition
// lived in machine_bus.go with no cmd/ package). Wires internal/machine
// (the machine_common_init composition), internal/hostio (video/audio/
// IPC presentation), internal/hostcfg (the .cfg store), and
// internal/monitor (the interactive/scripted debugger) into one binary.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	getopt "github.com/pborman/getopt/v2"

	"github.com/intuitionamiga/pccore/internal/hostcfg"
	"github.com/intuitionamiga/pccore/internal/hostio"
	"github.com/intuitionamiga/pccore/internal/machine"
	"github.com/intuitionamiga/pccore/internal/monitor"
)

func main() {
	optROM := getopt.StringLong("rom", 'r', "", "BIOS ROM image (64 KiB, mapped at 0xF0000)")
	optCfg := getopt.StringLong("config", 'c', "pccore.cfg", "Configuration file")
	optRAMKiB := getopt.IntLong("ram", 0, 1024, "Conventional+extended RAM size in KiB")
	optPCI := getopt.BoolLong("pci", 0, "Enable the PCI configuration mechanism")
	optMCA := getopt.BoolLong("mca", 0, "Enable the MCA POS slot table")
	optISAPnP := getopt.BoolLong("isapnp", 0, "Enable ISA Plug and Play")
	optHeadless := getopt.BoolLong("headless", 0, "Run with no video/audio presentation surface")
	optMonitor := getopt.BoolLong("monitor", 'm', "Drop into the interactive monitor instead of free-running")
	optScript := getopt.StringLong("script", 's', "", "Run a Lua monitor script non-interactively and exit")
	optHelp := getopt.BoolLong("help", 'h', "Help")
	getopt.Parse()

	if *optHelp {
		getopt.Usage()
		os.Exit(0)
	}

	cfgStore, err := hostcfg.Load(*optCfg)
	if err != nil {
		cfgStore = hostcfg.New()
	}

	ramSize := uint32(cfgStore.Int("machine", "ram_kib", *optRAMKiB)) * 1024

	var romImage []byte
	romPath := cfgStore.String("machine", "rom_path", *optROM)
	if romPath != "" {
		romImage, err = os.ReadFile(romPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "iecore: reading ROM %s: %v\n", romPath, err)
			os.Exit(1)
		}
	}

	mcfg := machine.Config{
		RAMSize:      ramSize,
		ROMImage:     romImage,
		EnablePCI:    *optPCI || cfgStore.Bool("machine", "pci", false),
		EnableMCA:    *optMCA || cfgStore.Bool("machine", "mca", false),
		EnableISAPnP: *optISAPnP || cfgStore.Bool("machine", "isapnp", false),
	}

	m, err := machine.New(mcfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "iecore: machine init failed: %v\n", err)
		os.Exit(1)
	}
	defer m.Close()

	ipcServer, err := hostio.NewIPCServer(func(path string) error {
		fmt.Fprintf(os.Stderr, "iecore: IPC open request for %s (no storage controller attached)\n", path)
		return nil
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "iecore: another instance is already running: %v\n", err)
		os.Exit(1)
	}
	ipcServer.Start()
	defer ipcServer.Stop()

	if !*optHeadless {
		video := hostio.NewFramebufferOutput()
		video.OnWindowClosed = func() { m.CPU.SetRunning(false) }
		if err := video.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "iecore: video start failed: %v\n", err)
		} else {
			defer video.Close()
		}

		audio, err := hostio.NewAudioPlayer(44100)
		if err != nil {
			fmt.Fprintf(os.Stderr, "iecore: audio start failed: %v\n", err)
		} else {
			audio.Start()
			defer audio.Close()
		}
	}

	debugger := monitor.NewDebugX86(m.CPU)
	mon := monitor.New("pccore", debugger)
	mon.StartBreakpointListener()

	if *optScript != "" {
		repl := monitor.NewREPL(mon, os.Stdout)
		defer repl.Close()
		engine := monitor.NewScriptEngine(repl)
		if err := engine.RunFile(*optScript); err != nil {
			fmt.Fprintf(os.Stderr, "iecore: script %s failed: %v\n", *optScript, err)
			os.Exit(1)
		}
		return
	}

	if *optMonitor {
		repl := monitor.NewREPL(mon, os.Stdout)
		defer repl.Close()
		repl.Run()
		return
	}

	runFree(m)
}

// runFree drives the machine at full speed until it halts or the
// process receives an interrupt/termination signal, the headless
// equivalent of the monitor's "continue" command. Breakpoints set
// through -monitor/-script only take effect in those modes, since
// only the debugger's Resume path runs the trap loop that checks them.
func runFree(m *machine.Machine) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	const cyclesPerSlice = 50_000
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.CPU.SetRunning(true)
		for m.CPU.Running() && !m.CPU.Halted {
			m.RunCycles(cyclesPerSlice)
		}
	}()

	select {
	case <-sigChan:
		m.CPU.SetRunning(false)
		<-done
	case <-done:
	}
}
