//go:build !portaudio

package audioio

import (
	"fmt"
	"log/slog"
)

// portAudioAvailable reports whether the binary was built with PortAudio.
const portAudioAvailable = false

// newPortAudioSource returns an error when built without the portaudio tag.
func newPortAudioSource(cfg Config, logger *slog.Logger) (Source, error) {
	return nil, fmt.Errorf("portaudio backend requires building with -tags portaudio")
}
