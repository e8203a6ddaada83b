package chunkcodec

import "golang.org/x/sys/cpu"

// HardwareSupport reports which CPU-level AES acceleration paths are
// present on this machine, mirroring the teacher's internal/crypto
// hardware detection. Go's crypto/aes already dispatches to these paths
// internally; this only reports what is available. Nothing in the engine
// logs the result or exports it as a metric.
type HardwareSupport struct {
	AESNI  bool
	ARMAES bool
}

// DetectHardware inspects the running CPU for AES-NI (x86) or the ARMv8
// Cryptography Extensions (ARM) instruction support.
func DetectHardware() HardwareSupport {
	return HardwareSupport{
		AESNI:  cpu.X86.HasAES,
		ARMAES: cpu.ARM64.HasAES,
	}
}

// Accelerated reports whether any known hardware AES path is available.
func (h HardwareSupport) Accelerated() bool {
	return h.AESNI || h.ARMAES
}
