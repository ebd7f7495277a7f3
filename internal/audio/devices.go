package audio

import (
	"fmt"
	"sort"
	"sync"

	"github.com/gordonklaus/portaudio"
)

var (
	paOnce   sync.Once
	paDone   sync.Once
	paInitEr error
)

// Initialize starts PortAudio once per process. Only the capture source and
// device listing need it.
func Initialize() error {
	paOnce.Do(func() {
		paInitEr = portaudio.Initialize()
	})
	return paInitEr
}

// Terminate balances a successful Initialize.
func Terminate() {
	if paInitEr != nil {
		return
	}
	paDone.Do(func() {
		_ = portaudio.Terminate()
	})
}

// Device describes a PortAudio input device for the -list-audio-devices flag.
type Device struct {
	Name            string
	HostAPI         string
	Channels        int
	DefaultSampleHz float64
	IsDefault       bool
	Loopback        bool
}

// InputDevices returns every device able to capture, sorted by host API and name.
func InputDevices() ([]Device, error) {
	hosts, err := portaudio.HostApis()
	if err != nil {
		return nil, fmt.Errorf("host apis: %w", err)
	}

	defaultIndex := -1
	if def, err := portaudio.DefaultInputDevice(); err == nil && def != nil {
		defaultIndex = def.Index
	}

	var devices []Device
	for _, host := range hosts {
		for _, d := range host.Devices {
			if d.MaxInputChannels <= 0 {
				continue
			}
			devices = append(devices, Device{
				Name:            d.Name,
				HostAPI:         host.Name,
				Channels:        d.MaxInputChannels,
				DefaultSampleHz: d.DefaultSampleRate,
				IsDefault:       d.Index == defaultIndex,
				Loopback:        isLoopbackName(d.Name),
			})
		}
	}

	sort.Slice(devices, func(i, j int) bool {
		if devices[i].HostAPI == devices[j].HostAPI {
			return devices[i].Name < devices[j].Name
		}
		return devices[i].HostAPI < devices[j].HostAPI
	})
	return devices, nil
}
