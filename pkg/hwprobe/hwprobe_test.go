package hwprobe

import "testing"

func TestClassifyROCmArch(t *testing.T) {
	cases := []struct {
		name string
		want ROCmArch
	}{
		{"AMD Radeon RX 7900 XTX", ROCmArchGFX110X},
		{"AMD Radeon RX 9070 XT", ROCmArchGFX120X},
		{"AMD Ryzen AI Max+ 395 w/ Radeon 8060S Graphics", ROCmArchGFX1151},
		{"AMD Radeon(TM) Graphics", ROCmArchNone},
		{"NVIDIA GeForce RTX 4090", ROCmArchNone},
	}
	for _, c := range cases {
		if got := classifyROCmArch(c.name); got != c.want {
			t.Errorf("classifyROCmArch(%q) = %q, want %q", c.name, got, c.want)
		}
	}
}

func TestClassifyVendor(t *testing.T) {
	if classifyVendor("NVIDIA GeForce RTX 4090") != vendorNVIDIA {
		t.Error("expected NVIDIA classification")
	}
	if classifyVendor("AMD Radeon RX 7900 XTX") != vendorAMD {
		t.Error("expected AMD classification")
	}
	if classifyVendor("Intel UHD Graphics") != vendorUnknown {
		t.Error("expected unknown classification for Intel")
	}
}

func TestIsIntegrated(t *testing.T) {
	if !isIntegrated("AMD Radeon(TM) Graphics") {
		t.Error("expected integrated classification")
	}
	if isIntegrated("AMD Radeon RX 7900 XTX") {
		t.Error("expected discrete classification")
	}
}

func TestSnapshotHasNPU(t *testing.T) {
	var s Snapshot
	if s.HasNPU() {
		t.Error("empty snapshot should report no NPU")
	}
	s.NPU = []Device{{Name: "AMD Ryzen AI NPU"}}
	if !s.HasNPU() {
		t.Error("snapshot with an NPU device should report HasNPU true")
	}
}
