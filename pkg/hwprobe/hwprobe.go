// Package hwprobe enumerates CPU/iGPU/dGPU/NPU hardware once at process
// startup and caches the result, so that pkg/catalog's platform filtering
// and the default llama.cpp backend selection share a single probe.
package hwprobe

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/elastic/go-sysinfo"
	"github.com/jaypipes/ghw"

	"github.com/lemonade-sdk/lemonade-server/pkg/logging"
)

var log = logging.Component("hwprobe")

// Device describes a single enumerated GPU/NPU device.
type Device struct {
	Name          string
	Vendor        string
	DriverVersion string
}

// ROCmArch is the ROCm architecture family classification for an AMD
// discrete GPU, derived from a keyword table on the device name rather than
// a PCI-ID table so it stays robust against generic device-name strings
// reported by some driver stacks.
type ROCmArch string

const (
	ROCmArchNone    ROCmArch = ""
	ROCmArchGFX110X ROCmArch = "gfx110X"
	ROCmArchGFX120X ROCmArch = "gfx120X"
	ROCmArchGFX1151 ROCmArch = "gfx1151"
)

// rocmKeywordTable maps substrings observed in AMD discrete GPU device names
// to their ROCm architecture family. Checked in order; first match wins.
var rocmKeywordTable = []struct {
	keyword string
	arch    ROCmArch
}{
	{"7900", ROCmArchGFX110X},
	{"7800", ROCmArchGFX110X},
	{"7700", ROCmArchGFX110X},
	{"navi31", ROCmArchGFX110X},
	{"navi32", ROCmArchGFX110X},
	{"9070", ROCmArchGFX120X},
	{"9060", ROCmArchGFX120X},
	{"navi44", ROCmArchGFX120X},
	{"navi48", ROCmArchGFX120X},
	{"ryzen ai max", ROCmArchGFX1151},
	{"strix halo", ROCmArchGFX1151},
	{"8060s", ROCmArchGFX1151},
}

// Snapshot is the cached output of Probe: a description of the host's
// compute resources, sufficient to pick a default llama.cpp backend and to
// decide whether RyzenAI/FLM recipes should be visible in the catalog.
type Snapshot struct {
	CPUName       string
	CPUCores      int
	TotalMemoryMB uint64

	AMDIGPU    []Device
	AMDDGPU    []Device
	NVIDIADGPU []Device
	NPU        []Device

	ROCmArch ROCmArch

	DefaultLlamaCppBackend string

	RyzenAIRuntimeDetected bool
}

// HasNPU reports whether a supported Ryzen-AI NPU processor was detected,
// gating visibility of the flm recipe in the catalog.
func (s Snapshot) HasNPU() bool {
	return len(s.NPU) > 0
}

// Probe enumerates host hardware. It performs network-free, local-only
// introspection and is intended to be called exactly once at startup; the
// caller is responsible for caching the result (see
// cmd/lemonade-server/commands/serve.go).
func Probe(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{}

	host, err := sysinfo.Host()
	if err != nil {
		return snap, fmt.Errorf("unable to probe host: %w", err)
	}
	info := host.Info()
	snap.CPUName = fmt.Sprintf("%s/%s", info.OS.Platform, info.Architecture)
	snap.CPUCores = runtime.NumCPU()

	if mem, err := host.Memory(); err == nil {
		snap.TotalMemoryMB = mem.Total / (1024 * 1024)
	} else {
		log.WithError(err).Warnln("unable to probe host memory")
	}

	gpuInfo, err := ghw.GPU(ghw.WithContext(ctx))
	if err != nil {
		log.WithError(err).Warnln("unable to probe GPU devices")
	} else {
		for _, card := range gpuInfo.GraphicsCards {
			if card.DeviceInfo == nil {
				continue
			}
			name := card.DeviceInfo.Product.Name
			vendor := card.DeviceInfo.Vendor.Name
			device := Device{Name: name, Vendor: vendor}

			switch classifyVendor(vendor) {
			case vendorAMD:
				if isIntegrated(name) {
					snap.AMDIGPU = append(snap.AMDIGPU, device)
				} else {
					snap.AMDDGPU = append(snap.AMDDGPU, device)
					if arch := classifyROCmArch(name); arch != ROCmArchNone {
						snap.ROCmArch = arch
					}
				}
			case vendorNVIDIA:
				snap.NVIDIADGPU = append(snap.NVIDIADGPU, device)
			case vendorNPU:
				snap.NPU = append(snap.NPU, device)
			}
		}
	}

	snap.DefaultLlamaCppBackend = defaultLlamaCppBackend(snap)
	snap.RyzenAIRuntimeDetected = snap.HasNPU()

	return snap, nil
}

type vendorClass int

const (
	vendorUnknown vendorClass = iota
	vendorAMD
	vendorNVIDIA
	vendorNPU
)

func classifyVendor(name string) vendorClass {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "nvidia"):
		return vendorNVIDIA
	case strings.Contains(lower, "amd") || strings.Contains(lower, "advanced micro devices"):
		return vendorAMD
	default:
		return vendorUnknown
	}
}

// isIntegrated uses a keyword heuristic to distinguish an AMD iGPU (e.g.
// "AMD Radeon(TM) Graphics" on a Ryzen APU) from a discrete card, since ghw
// does not classify this directly.
func isIntegrated(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "radeon(tm) graphics") || strings.Contains(lower, "integrated")
}

func classifyROCmArch(name string) ROCmArch {
	lower := strings.ToLower(name)
	for _, entry := range rocmKeywordTable {
		if strings.Contains(lower, entry.keyword) {
			return entry.arch
		}
	}
	return ROCmArchNone
}

// defaultLlamaCppBackend picks metal on Apple Silicon and vulkan everywhere
// else, matching the platform-aware default in the original implementation.
// Callers apply an environment override (LEMONADE_LLAMACPP) ahead of this.
func defaultLlamaCppBackend(snap Snapshot) string {
	if runtime.GOOS == "darwin" && runtime.GOARCH == "arm64" {
		return "metal"
	}
	return "vulkan"
}
