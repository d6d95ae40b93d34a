package engine

import (
	"fmt"
	"strings"
)

type Precision string

const (
	PrecisionFP32 Precision = "fp32"
	PrecisionFP16 Precision = "fp16"
)

type Accelerator string

const (
	AcceleratorPreferred Accelerator = "preferred"
	AcceleratorCPUOnly   Accelerator = "cpu-only"
)

type Device string

const (
	DeviceNone Device = ""
	DeviceGPU  Device = "gpu"
	DeviceCPU  Device = "cpu"
	DeviceAuto Device = "auto"
)

// Options are the recognized load hints.
type Options struct {
	Precision   Precision
	Accelerator Accelerator
}

// LoadRequest is what a Loader is asked to build.
type LoadRequest struct {
	Precision Precision
	Device    Device
}

func ParseOptions(precision, accelerator string) (Options, error) {
	opts := Options{
		Precision:   Precision(strings.ToLower(strings.TrimSpace(precision))),
		Accelerator: Accelerator(strings.ToLower(strings.TrimSpace(accelerator))),
	}
	if opts.Precision == "" {
		opts.Precision = PrecisionFP32
	}
	if opts.Accelerator == "" {
		opts.Accelerator = AcceleratorPreferred
	}
	switch opts.Precision {
	case PrecisionFP32, PrecisionFP16:
	default:
		return Options{}, fmt.Errorf("unknown precision %q", precision)
	}
	switch opts.Accelerator {
	case AcceleratorPreferred, AcceleratorCPUOnly:
	default:
		return Options{}, fmt.Errorf("unknown accelerator %q", accelerator)
	}
	return opts, nil
}

// candidates lists the devices tried by Load, in order.
func (o Options) candidates() []Device {
	if o.Accelerator == AcceleratorCPUOnly {
		return []Device{DeviceCPU}
	}
	return []Device{DeviceGPU, DeviceCPU}
}
