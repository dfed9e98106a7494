package num

import (
	"fmt"
	"runtime"

	"github.com/klauspost/cpuid/v2"
)

// CPU describes the host processor.
type CPU struct {
	Brand    string
	Physical int
	Logical  int
	Features []string
}

// CPUInfo returns details of the host processor and the vector extensions which it supports.
func CPUInfo() CPU {
	c := CPU{
		Brand:    cpuid.CPU.BrandName,
		Physical: cpuid.CPU.PhysicalCores,
		Logical:  cpuid.CPU.LogicalCores,
	}
	if c.Logical == 0 {
		c.Logical = runtime.NumCPU()
	}
	for _, f := range []cpuid.FeatureID{cpuid.SSE4, cpuid.AVX, cpuid.AVX2, cpuid.FMA3, cpuid.AVX512F} {
		if cpuid.CPU.Supports(f) {
			c.Features = append(c.Features, f.String())
		}
	}
	return c
}

// DefaultThreads is the number of worker goroutines to use for kernels: one per physical core if known.
func DefaultThreads() int {
	if n := cpuid.CPU.PhysicalCores; n > 0 {
		return n
	}
	return runtime.NumCPU()
}

func (c CPU) String() string {
	return fmt.Sprintf("%s: %d cores %d threads %v", c.Brand, c.Physical, c.Logical, c.Features)
}
