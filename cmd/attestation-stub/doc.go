// Package main (cmd/attestation-stub) runs the development attestation service
// from package stubserver.
//
// Pins are loaded from certificate files at startup:
//
//	attestation-stub --listen-addr 127.0.0.1:8080 --customer me \
//	    --pin api.example.com=./api-cert.pem
//
// With --tls the service generates a self-signed certificate and writes it to
// stdout as PEM, for use with attested-request --attestation-ca.
package main
