package main

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/ruteri/attested-http/attestation"
	"github.com/ruteri/attested-http/bridge"
	"github.com/ruteri/attested-http/cmd/flags"
	"github.com/ruteri/attested-http/domains"
	"github.com/ruteri/attested-http/interfaces"
	"github.com/urfave/cli/v2"
)

var flagsList []cli.Flag = append([]cli.Flag{
	&cli.StringFlag{
		Name:     "config",
		Required: true,
		Usage:    "JSON host configuration file (customerName, attestationURL, protectedDomains, ...)",
		EnvVars:  []string{"ATTESTED_CONFIG"},
	},
	&cli.StringFlag{
		Name:  "method",
		Value: http.MethodGet,
		Usage: "HTTP method",
	},
	&cli.StringFlag{
		Name:  "data",
		Usage: "request body",
	},
	&cli.StringSliceFlag{
		Name:  "header",
		Usage: "extra request header as 'Name: value', may be repeated",
	},
	&cli.StringFlag{
		Name:  "ca",
		Usage: "PEM file with additional CA certificates trusted for the target server",
	},
	&cli.StringFlag{
		Name:  "attestation-ca",
		Usage: "PEM file with additional CA certificates trusted for the attestation service",
	},
	flags.LogServiceFlagFn("attested-request"),
}, flags.CommonFlags...)

func main() {
	app := &cli.App{
		Name:      "attested-request",
		Usage:     "Send one HTTP request through the attestation interceptor",
		ArgsUsage: "<url>",
		Flags:     flagsList,
		Action: func(cCtx *cli.Context) error {
			if cCtx.NArg() != 1 {
				return errors.New("expected exactly one URL argument")
			}
			target := cCtx.Args().First()
			logger := flags.SetupLogger(cCtx)

			configJSON, err := os.ReadFile(cCtx.String("config"))
			if err != nil {
				return fmt.Errorf("could not read configuration: %w", err)
			}

			attestationPool, err := certPool(cCtx.String("attestation-ca"))
			if err != nil {
				return err
			}
			newSource := func(cfg interfaces.ClientConfig) (attestation.TokenSource, error) {
				source, err := attestation.NewRemoteSource(cfg)
				if err != nil {
					return nil, err
				}
				if remote, ok := source.(*attestation.RemoteSource); ok && attestationPool != nil {
					remote.Client.Transport = transportWithRoots(attestationPool)
				}
				return source, nil
			}

			client := attestation.NewMemoryClient(newSource, logger)
			b := bridge.New(client, domains.NewRegistry(logger), logger)
			if err := b.ConfigureJSON(configJSON); err != nil {
				logger.Error("Host configuration rejected", "err", err)
				return err
			}
			for _, domain := range b.Registry().Domains() {
				logger.Debug("Protected domain", "hostname", domain.Hostname, "mitmProtected", domain.MITMProtected)
			}

			targetPool, err := certPool(cCtx.String("ca"))
			if err != nil {
				return err
			}
			var base *http.Transport
			if targetPool != nil {
				base = transportWithRoots(targetPool)
			}

			transport, err := b.Transport(base, nil)
			if err != nil {
				return err
			}
			defer transport.CloseIdleConnections()

			var body io.Reader
			if data := cCtx.String("data"); data != "" {
				body = strings.NewReader(data)
			}
			req, err := http.NewRequestWithContext(cCtx.Context, cCtx.String("method"), target, body)
			if err != nil {
				return err
			}
			for _, header := range cCtx.StringSlice("header") {
				name, value, found := strings.Cut(header, ":")
				if !found {
					return fmt.Errorf("malformed header %q", header)
				}
				req.Header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
			}

			resp, err := transport.Client().Do(req)
			if err != nil {
				logger.Error("Request failed", "url", target, "err", err)
				return err
			}
			defer resp.Body.Close()

			stats := client.Stats()
			logger.Info("Request completed",
				"url", target,
				"status", resp.StatusCode,
				"tokenFetches", stats.Fetches,
				"fetchFailures", stats.Failures,
				"cacheInvalidations", stats.Invalidations)

			_, err = io.Copy(os.Stdout, resp.Body)
			return err
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// certPool returns the system roots extended with the certificates in path,
// or nil when path is empty.
func certPool(path string) (*x509.CertPool, error) {
	if path == "" {
		return nil, nil
	}

	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read CA file: %w", err)
	}

	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return pool, nil
}

func transportWithRoots(pool *x509.CertPool) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{
		RootCAs:    pool,
		MinVersion: tls.VersionTLS12,
	}
	return transport
}
