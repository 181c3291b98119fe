package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/penguin-tunnel/penguin/adapter"
	"github.com/penguin-tunnel/penguin/adapter/socks5"
	"github.com/penguin-tunnel/penguin/config"
	penguinmux "github.com/penguin-tunnel/penguin/mux"
	"github.com/penguin-tunnel/penguin/transport"
)

func newClientCommand(flags *globalFlags) *cobra.Command {
	var serverURL string
	var locals []string

	cmd := &cobra.Command{
		Use:   "client SERVER-URL",
		Short: "Connect to a penguin server and serve local forwards over the tunnel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serverURL = args[0]
			return runClient(flags, serverURL, locals)
		},
	}
	cmd.Flags().StringArrayVarP(&locals, "local", "L", nil, "local forward spec, repeatable: tcp://LISTEN=HOST:PORT, udp://LISTEN=HOST:PORT, socks5://LISTEN or stdio=HOST:PORT")
	return cmd
}

func runClient(flags *globalFlags, serverURL string, rawLocals []string) error {
	log := configureLogging(flags)
	entry := logrus.NewEntry(log)

	specs := make([]*config.LocalSpec, 0, len(rawLocals))
	for _, raw := range rawLocals {
		spec, err := config.ParseLocalSpec(raw)
		if err != nil {
			return err
		}
		specs = append(specs, spec)
	}

	headers := map[string]string{}
	for _, h := range flags.headers {
		k, v, ok := strings.Cut(h, ":")
		if !ok {
			return fmt.Errorf("malformed --header %q, expected Key: Value", h)
		}
		headers[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}

	connCfg := &transport.ConnectorConfig{
		URL:                serverURL,
		PSK:                flags.wsPSK,
		CACertFile:         flags.tlsCA,
		ClientCertFile:     flags.tlsCert,
		ClientKeyFile:      flags.tlsKey,
		InsecureSkipVerify: flags.tlsInsecure,
		ServerName:         flags.sni,
		ExtraHeaders:       headers,
		ProxyURL:           flags.proxyURL,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tr, err := transport.Dial(ctx, connCfg)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", serverURL, err)
	}

	session := penguinmux.NewSession(tr, penguinmux.RoleClient, penguinmux.WithKeepAlive(0))
	entry.Infof("connected to %s", serverURL)

	for _, spec := range specs {
		if err := serveLocalSpec(ctx, session, spec, entry); err != nil {
			return err
		}
	}

	select {
	case <-session.Done():
		return session.Err()
	case <-ctx.Done():
		session.Close()
		return nil
	}
}

func serveLocalSpec(ctx context.Context, session *penguinmux.Session, spec *config.LocalSpec, log *logrus.Entry) error {
	switch spec.Protocol {
	case config.ProtocolTCP:
		ln, err := net.Listen("tcp", spec.ListenAddr)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", spec.ListenAddr, err)
		}
		l := &adapter.TCPListener{Opener: session, RemoteHost: spec.RemoteHost, RemotePort: spec.RemotePort, Log: log}
		go func() {
			if err := l.Serve(ctx, ln); err != nil {
				log.WithError(err).Warnf("tcp listener %s stopped", spec.ListenAddr)
			}
		}()
		log.Infof("forwarding tcp://%s -> %s:%d", spec.ListenAddr, spec.RemoteHost, spec.RemotePort)

	case config.ProtocolUDP:
		addr, err := net.ResolveUDPAddr("udp", spec.ListenAddr)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", spec.ListenAddr, err)
		}
		conn, err := net.ListenUDP("udp", addr)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", spec.ListenAddr, err)
		}
		relay := adapter.NewUDPRelay(session, spec.RemoteHost, spec.RemotePort)
		relay.Log = log
		go relay.Serve(ctx, conn)
		log.Infof("forwarding udp://%s -> %s:%d", spec.ListenAddr, spec.RemoteHost, spec.RemotePort)

	case config.ProtocolSocks5:
		ln, err := net.Listen("tcp", spec.ListenAddr)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", spec.ListenAddr, err)
		}
		s := &socks5.Server{Opener: session, Log: log}
		go func() {
			if err := s.Serve(ctx, ln); err != nil {
				log.WithError(err).Warnf("socks5 listener %s stopped", spec.ListenAddr)
			}
		}()
		log.Infof("socks5 proxy on %s", spec.ListenAddr)

	case config.ProtocolStdio:
		pipe := &adapter.StdioPipe{Opener: session, RemoteHost: spec.RemoteHost, RemotePort: spec.RemotePort, Log: log}
		go func() {
			if err := pipe.Run(ctx); err != nil {
				log.WithError(err).Warn("stdio pipe stopped")
			}
		}()

	default:
		return fmt.Errorf("unsupported local protocol %q", spec.Protocol)
	}

	return nil
}
