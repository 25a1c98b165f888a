package tensor

import (
	"fmt"
	"strconv"
	"strings"
)

// DeviceKind names a compute backend.
type DeviceKind string

const (
	CPU  DeviceKind = "cpu"
	CUDA DeviceKind = "cuda"
)

// Device identifies where tensor data lives. The zero value is the CPU.
type Device struct {
	Kind  DeviceKind
	Index int
}

// ParseDevice accepts "cpu", "cuda" and "cuda:N". An empty string is the CPU.
func ParseDevice(s string) (Device, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == string(CPU) {
		return Device{Kind: CPU}, nil
	}
	kind, idx, hasIdx := strings.Cut(s, ":")
	if DeviceKind(kind) != CUDA {
		return Device{}, fmt.Errorf("unsupported device %q (want cpu, cuda or cuda:N)", s)
	}
	d := Device{Kind: CUDA}
	if hasIdx {
		n, err := strconv.Atoi(idx)
		if err != nil || n < 0 {
			return Device{}, fmt.Errorf("invalid device index in %q", s)
		}
		d.Index = n
	}
	return d, nil
}

// IsCPU reports whether d is the host.
func (d Device) IsCPU() bool {
	return d.Kind == "" || d.Kind == CPU
}

func (d Device) String() string {
	if d.IsCPU() {
		return string(CPU)
	}
	return fmt.Sprintf("%s:%d", d.Kind, d.Index)
}
