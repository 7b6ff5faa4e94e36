package manager

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"imgcap/internal/common/fsutil"
)

// Device is the compute device the captioning resource is bound to.
type Device string

const (
	DeviceCUDA  Device = "cuda"
	DeviceMetal Device = "metal"
	DeviceCPU   Device = "cpu"
)

// Accelerated reports whether the device offloads model layers from the CPU.
func (d Device) Accelerated() bool { return d == DeviceCUDA || d == DeviceMetal }

// Hooks for tests.
var (
	lookPath   = exec.LookPath
	pathExists = fsutil.PathExists
	goos       = runtime.GOOS
	goarch     = runtime.GOARCH
)

// DetectDevice picks the best available device: CUDA, then Metal, then CPU.
func DetectDevice() Device {
	if cudaAvailable() {
		return DeviceCUDA
	}
	if goos == "darwin" && goarch == "arm64" {
		return DeviceMetal
	}
	return DeviceCPU
}

func cudaAvailable() bool {
	if _, err := lookPath("nvidia-smi"); err != nil {
		return false
	}
	return pathExists("/dev/nvidiactl")
}

// ParseDevice maps a device name to a Device; "auto" or "" detects.
func ParseDevice(s string) (Device, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return DetectDevice(), nil
	case "cuda", "gpu":
		return DeviceCUDA, nil
	case "metal", "mps":
		return DeviceMetal, nil
	case "cpu":
		return DeviceCPU, nil
	default:
		return "", fmt.Errorf("unknown device %q (want auto|cuda|metal|cpu)", s)
	}
}
