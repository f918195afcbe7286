package voice

import "errors"

var (
	errProviderUnconfigured = errors.New("voice: no query runner configured")
	errNotConnected         = errors.New("voice: provider not connected")
	errAlreadyConnected     = errors.New("voice: provider already connected")
)
