package detections

import (
	"runtime"

	"golang.org/x/sys/cpu"
)

// CPUFeatures reports the vector extensions ONNX Runtime can use on this host.
func CPUFeatures() map[string]bool {
	switch runtime.GOARCH {
	case "amd64", "386":
		return map[string]bool{
			"avx512f": cpu.X86.HasAVX512F,
			"avx2":    cpu.X86.HasAVX2,
			"fma":     cpu.X86.HasFMA,
			"sse41":   cpu.X86.HasSSE41,
		}
	case "arm64":
		return map[string]bool{
			"asimd":   cpu.ARM64.HasASIMD,
			"asimddp": cpu.ARM64.HasASIMDDP,
			"fphp":    cpu.ARM64.HasFPHP,
		}
	default:
		return map[string]bool{}
	}
}
