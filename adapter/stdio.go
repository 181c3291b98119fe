package adapter

import (
	"context"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// StdioPipe treats os.Stdin/os.Stdout as a single pseudo-connection and
// splices it against a mux stream to (remoteHost, remotePort). Used by the
// client's "stdio=" forwarding form, e.g. for invocation as an OpenSSH
// ProxyCommand.
type StdioPipe struct {
	Opener     StreamOpener
	RemoteHost string
	RemotePort uint16
	Log        *logrus.Entry
}

// Run opens the stream and blocks until stdin reaches EOF or the stream
// closes.
func (p *StdioPipe) Run(ctx context.Context) error {
	stream, err := p.Opener.OpenStream(ctx, p.RemoteHost, p.RemotePort)
	if err != nil {
		return err
	}
	defer stream.Close()

	done := make(chan struct{}, 2)
	go func() {
		_, _ = io.Copy(stream, os.Stdin)
		_ = stream.CloseWrite()
		done <- struct{}{}
	}()
	go func() {
		_, _ = io.Copy(os.Stdout, stream)
		done <- struct{}{}
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
	return nil
}
