package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
)

// HostInstaller resolves a runtime that is expected to be on PATH
// already: node for tsx, or bun when a previous step set it up.
type HostInstaller struct {
	kind     Kind
	binary   string
	lookPath func(string) (string, error)
	logger   *slog.Logger
}

var _ Installer = (*HostInstaller)(nil)

// NewHostInstaller returns an installer that looks binary up on PATH.
func NewHostInstaller(kind Kind, binary string, logger *slog.Logger) *HostInstaller {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &HostInstaller{
		kind:     kind,
		binary:   binary,
		lookPath: exec.LookPath,
		logger:   logger,
	}
}

// Ensure resolves the binary to an absolute path.
func (h *HostInstaller) Ensure(context.Context) (Handle, error) {
	p, err := h.lookPath(h.binary)
	if err != nil {
		return Handle{}, fmt.Errorf("%w: %s: %v", ErrBinaryNotFound, h.binary, err)
	}
	h.logger.Debug("runtime found on PATH",
		slog.String("kind", string(h.kind)),
		slog.String("path", p),
	)
	return Handle{Kind: h.kind, Path: p}, nil
}

// ImageInstaller is used with the docker executor: the runtime ships
// with the container image, so nothing is installed on the host.
type ImageInstaller struct {
	kind Kind
}

var _ Installer = ImageInstaller{}

// NewImageInstaller returns an installer for a runtime inside an image.
func NewImageInstaller(kind Kind) ImageInstaller {
	return ImageInstaller{kind: kind}
}

// Ensure returns the image's own binary name.
func (i ImageInstaller) Ensure(context.Context) (Handle, error) {
	if i.kind == KindBun {
		return Handle{Kind: KindBun, Path: "bun"}, nil
	}
	return Handle{Kind: i.kind, Path: "node"}, nil
}
