//go:build !linux && !darwin

package tuner

import "runtime"

// Detect reports CPU cores only; memory figures stay zero, which Calculate
// treats as unknown.
func Detect() (SystemResources, error) {
	return SystemResources{CPUCores: runtime.NumCPU()}, nil
}
