package detection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBusGone = errors.New("bus gone")

type fakeDetector struct {
	err       error
	transport string
	devices   []DeviceInfo
	calls     int
}

func (f *fakeDetector) Transport() string { return f.transport }

func (f *fakeDetector) Detect(context.Context, *Options) ([]DeviceInfo, error) {
	f.calls++
	return f.devices, f.err
}

func TestDetectWith(t *testing.T) {
	t.Parallel()

	uart := &fakeDetector{transport: "uart", devices: []DeviceInfo{
		{Transport: "uart", Path: "/dev/ttyUSB0", Confidence: Low},
		{Transport: "uart", Path: "/dev/ttyACM0", Confidence: High},
	}}
	i2c := &fakeDetector{transport: "i2c", devices: []DeviceInfo{
		{Transport: "i2c", Path: "/dev/i2c-1:0x48", Confidence: Medium},
	}}
	broken := &fakeDetector{transport: "spi", err: errBusGone}

	opts := DefaultOptions()
	devices, err := detectWith(context.Background(), []Detector{uart, i2c, broken}, &opts)
	require.NoError(t, err)

	paths := make([]string, 0, len(devices))
	for _, d := range devices {
		paths = append(paths, d.Path)
	}
	assert.Equal(t, []string{"/dev/ttyACM0", "/dev/i2c-1:0x48", "/dev/ttyUSB0"}, paths)
	assert.Equal(t, 1, broken.calls)
}

func TestDetectWith_TransportFilter(t *testing.T) {
	t.Parallel()

	uart := &fakeDetector{transport: "uart", devices: []DeviceInfo{{Path: "/dev/ttyACM0"}}}
	i2c := &fakeDetector{transport: "i2c", devices: []DeviceInfo{{Path: "/dev/i2c-1:0x48"}}}

	opts := Options{Transports: []string{"i2c"}}
	devices, err := detectWith(context.Background(), []Detector{uart, i2c}, &opts)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, 0, uart.calls)
}

func TestDetectWith_Errors(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions()
	_, err := detectWith(context.Background(), []Detector{&fakeDetector{transport: "uart"}}, &opts)
	require.ErrorIs(t, err, ErrNoDevicesFound)

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()
	_, err = detectWith(ctx, []Detector{&fakeDetector{transport: "uart"}}, &opts)
	require.ErrorIs(t, err, ErrDetectionTimeout)
}

func TestRegisterDetector(t *testing.T) {
	t.Parallel()

	d := &fakeDetector{transport: "test-registry"}
	RegisterDetector(d)
	assert.Contains(t, Detectors(), Detector(d))
}

func TestModeAndConfidenceStrings(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "passive", Passive.String())
	assert.Equal(t, "safe", Safe.String())
	assert.Equal(t, "full", Full.String())
	assert.Equal(t, "high", High.String())
	assert.Equal(t, "confidence(9)", Confidence(9).String())
}

func TestIsBlocked(t *testing.T) {
	t.Parallel()

	blocklist := []string{"1a86:55d3", " 072F:2200 "}
	tests := []struct {
		name   string
		vidpid string
		want   bool
	}{
		{name: "exact", vidpid: "072F:2200", want: true},
		{name: "case insensitive", vidpid: "1A86:55D3", want: true},
		{name: "not listed", vidpid: "2E8A:000A", want: false},
		{name: "empty", vidpid: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsBlocked(tt.vidpid, blocklist))
		})
	}
}

func TestFormatVIDPID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "2E8A:000A", FormatVIDPID("2e8a", "000a"))
	assert.Empty(t, FormatVIDPID("2e8a", ""))
}

func TestIsPathIgnored(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		devicePath  string
		ignorePaths []string
		expected    bool
	}{
		{name: "empty ignore list", devicePath: "/dev/ttyUSB0", ignorePaths: []string{}, expected: false},
		{name: "empty device path", devicePath: "", ignorePaths: []string{"/dev/ttyUSB0"}, expected: false},
		{name: "exact match", devicePath: "/dev/ttyUSB0", ignorePaths: []string{"/dev/ttyUSB0"}, expected: true},
		{name: "no match", devicePath: "/dev/ttyUSB1", ignorePaths: []string{"/dev/ttyUSB0"}, expected: false},
		{name: "unclean path", devicePath: "/dev/../dev/ttyACM0", ignorePaths: []string{"/dev/ttyACM0"}, expected: true},
		{name: "windows case", devicePath: "COM3", ignorePaths: []string{"com3"}, expected: true},
		{name: "i2c address", devicePath: "/dev/i2c-1:0x48", ignorePaths: []string{"", "/dev/i2c-1:0x48"}, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, IsPathIgnored(tt.devicePath, tt.ignorePaths))
		})
	}
}
