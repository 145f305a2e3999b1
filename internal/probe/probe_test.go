package probe

import "testing"

func TestSamplerSampleFillsIdentityAndGPU(t *testing.T) {
	s := NewSampler()
	hw := s.Sample(".")

	if hw.CPUModel == "" {
		t.Error("expected non-empty CPUModel")
	}
	if hw.SampledAt == 0 {
		t.Error("expected non-zero SampledAt")
	}
	if hw.GPUCount != 0 {
		t.Errorf("GPUCount = %d, want 0 for NoGPU sampler", hw.GPUCount)
	}
}

func TestSamplerExtraMounts(t *testing.T) {
	s := NewSampler(".")
	hw := s.Sample(".")

	if _, ok := hw.DiskExtra["."]; !ok {
		t.Errorf("expected DiskExtra entry for extra mount, got %+v", hw.DiskExtra)
	}
}

type fakeGPU struct{}

func (fakeGPU) Sample() (int, map[string]int) {
	return 1, map[string]int{"gpu0": 42}
}

func TestSamplerCustomGPU(t *testing.T) {
	s := NewSampler()
	s.GPU = fakeGPU{}
	hw := s.Sample(".")

	if hw.GPUCount != 1 || hw.GPUUsage["gpu0"] != 42 {
		t.Errorf("got GPUCount=%d GPUUsage=%v, want 1/{gpu0:42}", hw.GPUCount, hw.GPUUsage)
	}
}

func TestSampleCPUUsageFirstCallIsZero(t *testing.T) {
	s := NewSampler()
	if got := s.sampleCPUUsage(); got != 0 {
		t.Errorf("first sampleCPUUsage() = %v, want 0 (no baseline yet)", got)
	}
}
