// Package bridge implements the host configuration call of an application: it
// initializes the attestation client, sets the token payload and registers
// protected domains, then hands out interceptor transports bound to them.
//
// Example configuration:
//
//	{
//	    "customerName": "me",
//	    "networkTimeout": 30.0,
//	    "attestationURL": "https://attest.example.com",
//	    "failoverURL": "https://attest-failover.example.com",
//	    "tokenPayloadValue": "A user-defined string",
//	    "protectedDomains": [
//	        {"protectedDomainURL": "https://my.domain1.com/anEndpoint", "isMITMProtectedDomain": "true"},
//	        {"protectedDomainURL": "https://my.domain2.com/anotherEndpoint", "isMITMProtectedDomain": false}
//	    ]
//	}
//
// customerName, networkTimeout, attestationURL and failoverURL initialize the
// attestation client. They can be supplied once; a second attempt fails with
// an error wrapping interfaces.ErrAlreadyInitialized.
package bridge
