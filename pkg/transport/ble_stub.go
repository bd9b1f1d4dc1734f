//go:build !ble

package transport

import (
	"errors"
	"log/slog"
)

// newBLERadio returns an error when built without the ble tag.
func newBLERadio(cfg Config, logger *slog.Logger) (bleRadio, error) {
	return nil, errors.New("ble transport requires building with -tags ble")
}
