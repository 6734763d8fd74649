// Package device selects the compute device a backbone runs on. Training and
// loss code receive a Device by injection and never branch on its identity.
package device

import (
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
)

const (
	CPU  = "cpu"
	CUDA = "cuda"
	Auto = "auto"
)

// No accelerator kernels ship with this module yet; the cuda name is
// reserved so configs written for GPU hosts fail loudly instead of silently
// training on the CPU.
const cudaEnabled = false

var errCUDAUnavailable = errors.New("cuda device not available in this build")

func newCUDA() (Device, error) {
	return nil, errCUDAUnavailable
}

// Device is the capability the training core needs from an accelerator.
type Device interface {
	Name() string
	// EmptyCache releases memory cached between optimizer steps. It has no
	// effect on results.
	EmptyCache()
}

// Normalize canonicalises a user supplied device name.
func Normalize(name string) (string, error) {
	d := strings.ToLower(strings.TrimSpace(name))
	if d == "" {
		return Auto, nil
	}
	switch d {
	case CPU, CUDA, Auto:
		return d, nil
	default:
		return "", fmt.Errorf("unknown device %q (expected auto, cpu, or cuda)", d)
	}
}

// Select resolves name to a Device. "auto" picks the best available device.
func Select(name string) (Device, error) {
	d, err := Normalize(name)
	if err != nil {
		return nil, err
	}
	switch d {
	case CUDA:
		return newCUDA()
	case Auto:
		if cudaEnabled {
			return newCUDA()
		}
		return Host{}, nil
	default:
		return Host{}, nil
	}
}

// Available returns a comma-separated list of available devices.
func Available() string {
	entries := []string{CPU}
	if cudaEnabled {
		entries = append(entries, CUDA)
	}
	return strings.Join(entries, ",")
}

// Host runs computation on the CPU.
type Host struct{}

func (Host) Name() string { return CPU }

// EmptyCache returns freed heap memory to the operating system.
func (Host) EmptyCache() { debug.FreeOSMemory() }
