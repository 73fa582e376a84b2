// Package gpu reads temperature, power draw, fan speed and utilization
// from the first NVIDIA GPU through NVML. It only measures; it never
// changes fan or power state.
package gpu

import (
	"context"

	"github.com/NVIDIA/go-nvml/pkg/nvml"

	"codeberg.org/mutker/sensord/internal/errors"
	"codeberg.org/mutker/sensord/internal/logger"
)

// Canonical parameter names produced by FetchValues.
const (
	ParamTemperature = "temperature"
	ParamPower       = "power"
	ParamFanSpeed    = "fanspeed"
	ParamUtilization = "utilization"
)

const milliWattsToWatts = 1000

// Source reads measurements from a single GPU.
type Source struct {
	device      nvml.Device
	fanCount    int
	initialized bool
}

// New initializes NVML and binds to the first GPU.
func New() (*Source, error) {
	if ret := nvml.Init(); !IsNVMLSuccess(ret) {
		return nil, errors.Wrap(ErrInitFailed, newNVMLError(ret))
	}

	device, ret := nvml.DeviceGetHandleByIndex(0)
	if !IsNVMLSuccess(ret) {
		nvml.Shutdown()
		return nil, errors.Wrap(ErrDeviceNotFound, newNVMLError(ret))
	}

	s := &Source{
		device:      device,
		initialized: true,
	}

	if name, ret := device.GetName(); IsNVMLSuccess(ret) {
		logger.Info().Msgf("Detected GPU: %v", name)
	} else {
		logger.Warn().Msgf("Failed to get GPU name: %v", nvml.ErrorString(ret))
	}

	count, ret := device.GetNumFans()
	if !IsNVMLSuccess(ret) {
		nvml.Shutdown()
		return nil, errors.Wrap(ErrFanCountFailed, newNVMLError(ret))
	}
	s.fanCount = count
	logger.Debug().Msgf("Detected fans: %d", s.fanCount)

	return s, nil
}

// FetchValues reads one measurement per parameter. Temperature and
// power must succeed; fan speed and utilization are optional since
// some boards expose neither.
func (s *Source) FetchValues(ctx context.Context) (map[string]float64, error) {
	if !s.initialized {
		return nil, errors.New(ErrNotInitialized)
	}

	select {
	case <-ctx.Done():
		return nil, errors.Wrap(ErrReadFailed, ctx.Err())
	default:
	}

	values := make(map[string]float64, 4)

	temp, ret := s.device.GetTemperature(nvml.TEMPERATURE_GPU)
	if !IsNVMLSuccess(ret) {
		return nil, errors.Wrap(ErrTemperatureReadFailed, newNVMLError(ret))
	}
	values[ParamTemperature] = float64(temp)

	power, ret := s.device.GetPowerUsage()
	if !IsNVMLSuccess(ret) {
		return nil, errors.Wrap(ErrPowerReadFailed, newNVMLError(ret))
	}
	values[ParamPower] = float64(power) / milliWattsToWatts

	if speed, err := s.maxFanSpeed(); err != nil {
		logger.Debug().Err(err).Msg("Skipping fan speed reading")
	} else {
		values[ParamFanSpeed] = speed
	}

	if util, ret := s.device.GetUtilizationRates(); IsNVMLSuccess(ret) {
		values[ParamUtilization] = float64(util.Gpu)
	} else {
		logger.Debug().Msgf("Skipping utilization reading: %v", nvml.ErrorString(ret))
	}

	return values, nil
}

// maxFanSpeed returns the speed of the fastest fan, which is the one
// worth watching.
func (s *Source) maxFanSpeed() (float64, error) {
	if s.fanCount == 0 {
		return 0, errors.New(ErrFanCountFailed)
	}

	var maxSpeed float64
	for i := 0; i < s.fanCount; i++ {
		speed, ret := s.device.GetFanSpeed_v2(i)
		if !IsNVMLSuccess(ret) {
			return 0, newNVMLError(ret)
		}
		if float64(speed) > maxSpeed {
			maxSpeed = float64(speed)
		}
	}

	return maxSpeed, nil
}

// Close shuts NVML down.
func (s *Source) Close() error {
	if !s.initialized {
		return nil
	}

	if ret := nvml.Shutdown(); !IsNVMLSuccess(ret) {
		return errors.Wrap(ErrShutdownFailed, newNVMLError(ret))
	}
	s.initialized = false

	return nil
}
