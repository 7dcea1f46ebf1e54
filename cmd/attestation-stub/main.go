package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ruteri/attested-http/attestation/stubserver"
	"github.com/ruteri/attested-http/cmd/flags"
	"github.com/ruteri/attested-http/cryptoutils"
	"github.com/urfave/cli/v2"
)

var flagsList []cli.Flag = append([]cli.Flag{
	&cli.StringFlag{
		Name:    "listen-addr",
		Value:   "127.0.0.1:8080",
		Usage:   "address to listen on for token requests",
		EnvVars: []string{"LISTEN_ADDR"},
	},
	&cli.StringSliceFlag{
		Name:  "customer",
		Usage: "customer name allowed to request tokens, may be repeated. Unset allows any customer",
	},
	&cli.StringSliceFlag{
		Name:  "pin",
		Usage: "certificate pin served for a host as hostname=path/to/cert.pem (PEM or DER), may be repeated",
	},
	&cli.BoolFlag{
		Name:  "tls",
		Value: false,
		Usage: "serve over TLS with a freshly generated self-signed certificate",
	},
	flags.PprofFlag,
	flags.LogServiceFlagFn("attestation-stub"),
}, flags.CommonFlags...)

func main() {
	app := &cli.App{
		Name:  "attestation-stub",
		Usage: "Development attestation service issuing tokens and certificate pins",
		Flags: flagsList,
		Action: func(cCtx *cli.Context) error {
			listenAddr := cCtx.String("listen-addr")
			logger := flags.SetupLogger(cCtx)

			handler := stubserver.NewHandler(cCtx.StringSlice("customer"), logger)
			for _, pin := range cCtx.StringSlice("pin") {
				hostname, der, err := loadPin(pin)
				if err != nil {
					logger.Error("Failed to load pin", "pin", pin, "err", err)
					return err
				}
				handler.SetPin(hostname, der)
				logger.Info("Serving certificate pin", "hostname", hostname)
			}

			cfg := flags.ConfigureServer(cCtx, logger, listenAddr)
			if cCtx.Bool("tls") {
				host := listenAddr
				if i := strings.LastIndex(host, ":"); i >= 0 {
					host = host[:i]
				}
				cert, err := cryptoutils.RandomCert(host)
				if err != nil {
					logger.Error("Failed to generate TLS certificate", "err", err)
					return err
				}
				cfg.TLSCertificate = &cert
				os.Stdout.Write(cryptoutils.EncodeCertificatePEM(cert.Leaf))
			}

			server := stubserver.New(cfg, handler)
			server.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func loadPin(pin string) (string, []byte, error) {
	hostname, path, found := strings.Cut(pin, "=")
	if !found || hostname == "" || path == "" {
		return "", nil, fmt.Errorf("expected hostname=path, got %q", pin)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, err
	}
	cert, err := cryptoutils.ParseCertificate(data)
	if err != nil {
		return "", nil, err
	}
	return hostname, cert.Raw, nil
}
