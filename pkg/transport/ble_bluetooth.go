//go:build ble

package transport

import (
	"fmt"
	"log/slog"
	"sync"

	"tinygo.org/x/bluetooth"
)

// hostRadio drives the host's default adapter (BlueZ on Linux, CoreBluetooth
// on macOS) as a GATT peripheral.
type hostRadio struct {
	cfg    Config
	logger *slog.Logger

	adapter *bluetooth.Adapter
	adv     *bluetooth.Advertisement
	audio   bluetooth.Characteristic

	mu     sync.Mutex
	closed bool
}

func newBLERadio(cfg Config, logger *slog.Logger) (bleRadio, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return &hostRadio{
		cfg:     cfg,
		logger:  logger,
		adapter: bluetooth.DefaultAdapter,
	}, nil
}

func (r *hostRadio) Start(onConnect func(remote string, connected bool)) error {
	r.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		onConnect(device.Address.String(), connected)
	})

	if err := r.adapter.Enable(); err != nil {
		return fmt.Errorf("enable ble adapter: %w", err)
	}

	err := r.adapter.AddService(&bluetooth.Service{
		UUID: bluetooth.New16BitUUID(bleServiceUUID),
		Characteristics: []bluetooth.CharacteristicConfig{{
			Handle: &r.audio,
			UUID:   bluetooth.New16BitUUID(bleAudioUUID),
			Flags:  bluetooth.CharacteristicReadPermission | bluetooth.CharacteristicNotifyPermission,
		}},
	})
	if err != nil {
		return fmt.Errorf("add ble audio service: %w", err)
	}

	r.adv = r.adapter.DefaultAdvertisement()
	err = r.adv.Configure(bluetooth.AdvertisementOptions{
		LocalName:    r.cfg.BLEName,
		ServiceUUIDs: []bluetooth.UUID{bluetooth.New16BitUUID(bleServiceUUID)},
	})
	if err != nil {
		return fmt.Errorf("configure ble advertisement: %w", err)
	}
	return r.Advertise()
}

func (r *hostRadio) Advertise() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if err := r.adv.Start(); err != nil {
		return fmt.Errorf("start ble advertisement: %w", err)
	}
	r.logger.Debug("ble advertising", "name", r.cfg.BLEName)
	return nil
}

func (r *hostRadio) Notify(chunk []byte) error {
	_, err := r.audio.Write(chunk)
	return err
}

func (r *hostRadio) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	r.closed = true
	if r.adv == nil {
		return nil
	}
	return r.adv.Stop()
}
