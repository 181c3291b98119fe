package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// globalFlags holds the persistent flags shared by the client and server
// subcommands.
type globalFlags struct {
	logLevel    string
	logJSON     bool
	wsPSK       string
	tlsCA       string
	tlsCert     string
	tlsKey      string
	tlsInsecure bool
	sni         string
	headers     []string
	proxyURL    string
	obfs        bool
	notFound    string
	backend     string
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "penguin",
		Short: "Tunnel TCP/UDP traffic over a single authenticated WebSocket connection",
	}

	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "log level: trace, debug, info, warn, error")
	root.PersistentFlags().BoolVar(&flags.logJSON, "log-json", false, "emit logs as JSON instead of text")
	root.PersistentFlags().StringVar(&flags.wsPSK, "ws-psk", "", "pre-shared key required on the WebSocket upgrade")
	root.PersistentFlags().StringVar(&flags.tlsCA, "tls-ca", "", "path to a PEM CA bundle used to verify the peer")
	root.PersistentFlags().StringVar(&flags.tlsCert, "tls-cert", "", "path to a client/server TLS certificate")
	root.PersistentFlags().StringVar(&flags.tlsKey, "tls-key", "", "path to the TLS certificate's private key")
	root.PersistentFlags().BoolVar(&flags.tlsInsecure, "tls-insecure", false, "skip TLS certificate verification")
	root.PersistentFlags().StringVar(&flags.sni, "sni", "", "override the TLS server name indication sent to the server")
	root.PersistentFlags().StringArrayVar(&flags.headers, "header", nil, "extra HTTP header to send during upgrade, as Key: Value (repeatable)")
	root.PersistentFlags().StringVar(&flags.proxyURL, "proxy", "", "upstream proxy URL (http://, https://, or socks5://) for the outbound dial")
	root.PersistentFlags().BoolVar(&flags.obfs, "obfs", false, "hide the /health and /version endpoints behind the generic 404 response")
	root.PersistentFlags().StringVar(&flags.notFound, "not-found-resp", "", "path to a file whose contents replace the default 404 body")
	root.PersistentFlags().StringVar(&flags.backend, "backend", "", "decoy site URL to reverse-proxy unmatched/unauthenticated server requests to, instead of a 404")

	root.AddCommand(newClientCommand(flags))
	root.AddCommand(newServerCommand(flags))

	return root
}

func configureLogging(flags *globalFlags) *logrus.Logger {
	log := logrus.New()
	level, err := logrus.ParseLevel(flags.logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	if flags.logJSON {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}
