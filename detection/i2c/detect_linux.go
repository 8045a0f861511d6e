//go:build linux

package i2c

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
	"unsafe"

	"github.com/ZaparooProject/go-sebridge/detection"
	"github.com/ZaparooProject/go-sebridge/internal/frame"
	"golang.org/x/sys/unix"
)

const (
	// I2CSlave is the ioctl command to set the slave address
	I2CSlave = 0x0703

	// I2CFuncs is the ioctl command to get adapter functionality
	I2CFuncs = 0x0705

	// I2CFuncI2C indicates plain I2C support
	I2CFuncI2C = 0x00000001

	probeAttempts = 20
	probeInterval = 5 * time.Millisecond
)

// i2cBusInfo contains information about an I2C bus
type i2cBusInfo struct {
	Path   string // Device path, e.g., "/dev/i2c-1"
	Number int    // Bus number
}

// detectLinux searches for secure elements on Linux I2C buses
func detectLinux(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	buses, err := findI2CBuses()
	if err != nil {
		return nil, err
	}
	if len(buses) == 0 {
		return nil, detection.ErrNoDevicesFound
	}

	var devices []detection.DeviceInfo
	for _, bus := range buses {
		if ctx.Err() != nil {
			return devices, detection.ErrDetectionTimeout
		}
		if device, ok := detectBusDevice(ctx, bus, opts); ok {
			devices = append(devices, device)
		}
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

// detectBusDevice checks the SE05x address on one bus
func detectBusDevice(ctx context.Context, bus i2cBusInfo, opts *detection.Options) (detection.DeviceInfo, bool) {
	devicePath := fmt.Sprintf("%s:0x%02X", bus.Path, DefaultSE05xAddress)
	if detection.IsPathIgnored(devicePath, opts.IgnorePaths) {
		return detection.DeviceInfo{}, false
	}

	device := detection.DeviceInfo{
		Transport:  "i2c",
		Path:       devicePath,
		Name:       fmt.Sprintf("I2C device at %s address 0x%02X", bus.Path, DefaultSE05xAddress),
		Confidence: detection.Low,
		Metadata: map[string]string{
			"bus":     bus.Path,
			"number":  fmt.Sprintf("%d", bus.Number),
			"address": fmt.Sprintf("0x%02X", DefaultSE05xAddress),
		},
	}
	if opts.Mode == detection.Passive {
		return device, true
	}

	if !acknowledges(bus.Path, DefaultSE05xAddress) {
		return detection.DeviceInfo{}, false
	}
	device.Confidence = detection.Medium

	// A soft reset drops any open APDU session, so only Full mode sends it.
	if opts.Mode == detection.Full {
		probeCtx, cancel := context.WithTimeout(ctx, time.Second)
		atr, ok := probeSoftReset(probeCtx, bus.Path, DefaultSE05xAddress)
		cancel()
		if ok {
			device.Confidence = detection.High
			device.Name = "NXP SE05x"
			device.Metadata["atr"] = fmt.Sprintf("%X", atr)
		}
	}
	return device, true
}

// findI2CBuses discovers available I2C buses on the system
func findI2CBuses() ([]i2cBusInfo, error) {
	matches, err := filepath.Glob("/dev/i2c-*")
	if err != nil {
		return nil, fmt.Errorf("failed to scan for I2C devices: %w", err)
	}

	buses := make([]i2cBusInfo, 0, len(matches))
	for _, path := range matches {
		var busNum int
		if _, err := fmt.Sscanf(filepath.Base(path), "i2c-%d", &busNum); err != nil {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if !supportsI2C(path) {
			continue
		}
		buses = append(buses, i2cBusInfo{Path: path, Number: busNum})
	}
	return buses, nil
}

func supportsI2C(path string) bool {
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return false
	}
	defer func() { _ = unix.Close(fd) }()

	var funcs uint32
	// #nosec G103 -- unsafe pointer required for ioctl system call
	if err := ioctl(fd, I2CFuncs, uintptr(unsafe.Pointer(&funcs))); err != nil {
		return false
	}
	return funcs&I2CFuncI2C != 0
}

func openDevice(busPath string, addr uint8) (int, error) {
	fd, err := unix.Open(busPath, unix.O_RDWR, 0)
	if err != nil {
		return -1, err
	}
	if err := ioctl(fd, I2CSlave, uintptr(addr)); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// acknowledges reports whether a one byte read at addr is ACKed
func acknowledges(busPath string, addr uint8) bool {
	fd, err := openDevice(busPath, addr)
	if err != nil {
		return false
	}
	defer func() { _ = unix.Close(fd) }()

	buf := make([]byte, 1)
	_, err = unix.Read(fd, buf)
	return err == nil
}

// probeSoftReset sends a T=1 soft reset and returns the ATR carried by the
// response
func probeSoftReset(ctx context.Context, busPath string, addr uint8) ([]byte, bool) {
	fd, err := openDevice(busPath, addr)
	if err != nil {
		return nil, false
	}
	defer func() { _ = unix.Close(fd) }()

	request, err := frame.AppendT1Block(nil, frame.T1Block{NAD: frame.NADHostToElement, PCB: frame.SBlockSoftReset})
	if err != nil {
		return nil, false
	}
	if n, err := unix.Write(fd, request); err != nil || n != len(request) {
		return nil, false
	}

	hdr := make([]byte, frame.T1HeaderLength)
	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil || attempt >= probeAttempts {
			return nil, false
		}
		if n, err := unix.Read(fd, hdr); err == nil && n == len(hdr) && hdr[0] == frame.NADElementToHost {
			break
		}
		time.Sleep(probeInterval)
	}

	_, pcb, length := frame.ParseT1Header(hdr)
	if pcb != frame.SBlockSoftReset|frame.SBlockResponse {
		return nil, false
	}
	block := make([]byte, frame.T1HeaderLength+length+frame.T1CRCLength)
	copy(block, hdr)
	if n, err := unix.Read(fd, block[frame.T1HeaderLength:]); err != nil || n != len(block)-frame.T1HeaderLength {
		return nil, false
	}
	decoded, err := frame.DecodeT1Block(block)
	if err != nil {
		return nil, false
	}
	return decoded.INF, true
}

// ioctl performs an ioctl system call
func ioctl(fd int, request uint, arg uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(request), arg)
	if errno != 0 {
		return errno
	}
	return nil
}
