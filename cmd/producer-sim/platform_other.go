//go:build !windows

package main

import (
	"errors"

	"github.com/breeze-rmm/overlay/internal/transport"
)

// namespace is process-local off Windows; only useful for dry runs.
func namespace() transport.ProducerNamespace {
	return transport.NewMemoryNamespace()
}

type sharedPublisher struct{}

func newSharedPublisher() (*sharedPublisher, error) {
	return nil, errors.New("shared-handle mode needs Direct3D 11")
}

func (*sharedPublisher) Publish(*transport.Producer, int, int, []byte, []transport.Rect) error {
	return nil
}

func (*sharedPublisher) Close() {}
