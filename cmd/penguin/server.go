package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	penguinmux "github.com/penguin-tunnel/penguin/mux"
	penguinserver "github.com/penguin-tunnel/penguin/server"
)

func newServerCommand(flags *globalFlags) *cobra.Command {
	var listenAddr string

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Accept tunnel connections and bridge streams/datagrams to local destinations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(flags, listenAddr)
		},
	}
	cmd.Flags().StringVarP(&listenAddr, "listen", "l", ":8443", "address to listen on")
	return cmd
}

func runServer(flags *globalFlags, listenAddr string) error {
	log := configureLogging(flags)
	entry := logrus.NewEntry(log)

	notFoundBody := ""
	if flags.notFound != "" {
		body, err := os.ReadFile(flags.notFound)
		if err != nil {
			return fmt.Errorf("reading --not-found-resp: %w", err)
		}
		notFoundBody = string(body)
	}

	cfg := penguinserver.Config{
		PSK:           flags.wsPSK,
		NotFoundBody:  notFoundBody,
		ObfuscateMode: flags.obfs,
		Backend:       flags.backend,
		Log:           entry,
		SessionConfig: []penguinmux.Option{penguinmux.WithKeepAlive(30 * time.Second)},
	}

	srv := penguinserver.New(cfg, penguinserver.DefaultHandler(entry))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	httpServer := &http.Server{Addr: listenAddr, Handler: srv}

	useTLS := flags.tlsCert != "" || flags.tlsKey != ""
	if useTLS {
		if flags.tlsCert == "" || flags.tlsKey == "" {
			return fmt.Errorf("--tls-cert and --tls-key must be set together")
		}
		cert, err := tls.LoadX509KeyPair(flags.tlsCert, flags.tlsKey)
		if err != nil {
			return fmt.Errorf("loading server certificate: %w", err)
		}
		httpServer.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}

	go func() {
		<-ctx.Done()
		httpServer.Close()
	}()

	var err error
	if useTLS {
		entry.Infof("listening on %s (tls)", listenAddr)
		err = httpServer.ListenAndServeTLS("", "")
	} else {
		entry.Infof("listening on %s", listenAddr)
		err = httpServer.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
