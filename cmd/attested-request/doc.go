// Package main (cmd/attested-request) sends a single HTTP request through the
// attestation interceptor and prints the response body.
//
// The interceptor is configured from a JSON host configuration file, the same
// document accepted by bridge.Bridge.ConfigureJSON. Requests to protected
// domains carry an Approov-Token header, and connections to MITM-protected
// domains are pinned to the certificates served by the attestation service.
//
// Usage:
//
//	attested-request --config config.json https://api.example.com/v1/status
//	attested-request --config config.json --method POST --data '{"a":1}' \
//	    --header 'Content-Type: application/json' https://api.example.com/v1/items
package main
