// go-sebridge
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-sebridge.
//
// go-sebridge is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-sebridge is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-sebridge; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

// Package detection locates bridges and secure elements attached to the
// host. Transport specific detectors register themselves on import.
package detection

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	// ErrNoDevicesFound is returned when no detector found anything
	ErrNoDevicesFound = errors.New("no devices found")
	// ErrUnsupportedPlatform is returned by detectors that cannot run here
	ErrUnsupportedPlatform = errors.New("detection not supported on this platform")
	// ErrDetectionTimeout is returned when the context expires mid-scan
	ErrDetectionTimeout = errors.New("detection timed out")
)

// Mode controls how intrusive detection may be
type Mode int

const (
	// Passive only enumerates, never talks to a device
	Passive Mode = iota
	// Safe sends requests that cannot change device state
	Safe
	// Full may reset devices to confirm their identity
	Full
)

// String returns the mode name
func (m Mode) String() string {
	switch m {
	case Passive:
		return "passive"
	case Safe:
		return "safe"
	case Full:
		return "full"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Confidence ranks how likely a candidate is the device we want
type Confidence int

const (
	// Low means the device merely exists
	Low Confidence = iota
	// Medium means its identifiers match a known device
	Medium
	// High means it answered a probe correctly
	High
)

// String returns the confidence name
func (c Confidence) String() string {
	switch c {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	default:
		return fmt.Sprintf("confidence(%d)", int(c))
	}
}

// DeviceInfo describes one candidate device
type DeviceInfo struct {
	Metadata   map[string]string
	Transport  string
	Path       string
	Name       string
	Confidence Confidence
}

// Options configures detection
type Options struct {
	// Transports limits detection to these transports; empty means all
	Transports []string
	// Blocklist holds VID:PID pairs that are never probed
	Blocklist []string
	// IgnorePaths holds device paths that are skipped entirely
	IgnorePaths []string
	Timeout     time.Duration
	Mode        Mode
}

// DefaultOptions returns safe probing with a short timeout
func DefaultOptions() Options {
	return Options{
		Mode:      Safe,
		Timeout:   time.Second,
		Blocklist: DefaultBlocklist(),
	}
}

// Detector finds devices on one transport
type Detector interface {
	Transport() string
	Detect(ctx context.Context, opts *Options) ([]DeviceInfo, error)
}

var (
	registryMu sync.RWMutex
	registry   []Detector
)

// RegisterDetector adds d to the registry
func RegisterDetector(d Detector) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = append(registry, d)
}

// Detectors returns the registered detectors
func Detectors() []Detector {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return append([]Detector(nil), registry...)
}

// DetectAll runs every registered detector with the options timeout
func DetectAll(opts *Options) ([]DeviceInfo, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultOptions().Timeout
	}
	// Each detector gets the full timeout for its probes.
	ctx, cancel := context.WithTimeout(context.Background(), timeout*time.Duration(max(len(Detectors()), 1)))
	defer cancel()
	return DetectAllContext(ctx, opts)
}

// DetectAllContext runs every registered detector and returns the devices
// found, most confident first
func DetectAllContext(ctx context.Context, opts *Options) ([]DeviceInfo, error) {
	return detectWith(ctx, Detectors(), opts)
}

func detectWith(ctx context.Context, detectors []Detector, opts *Options) ([]DeviceInfo, error) {
	var devices []DeviceInfo
	for _, d := range detectors {
		if !wanted(d.Transport(), opts.Transports) {
			continue
		}
		if ctx.Err() != nil {
			return sorted(devices), ErrDetectionTimeout
		}
		found, err := d.Detect(ctx, opts)
		if err != nil {
			continue
		}
		devices = append(devices, found...)
	}

	if len(devices) == 0 {
		return nil, ErrNoDevicesFound
	}
	return sorted(devices), nil
}

func wanted(transport string, transports []string) bool {
	if len(transports) == 0 {
		return true
	}
	for _, t := range transports {
		if t == transport {
			return true
		}
	}
	return false
}

func sorted(devices []DeviceInfo) []DeviceInfo {
	sort.SliceStable(devices, func(i, j int) bool {
		return devices[i].Confidence > devices[j].Confidence
	})
	return devices
}
