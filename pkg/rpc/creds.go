package rpc

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// ServerTLSConfig returns the TLS configuration of a job-control server that
// only accepts clients with a certificate signed by the CA in clientCAFile.
// Only TLS 1.3 is offered.
//
// Clients never need it; rpctest servers and local development servers do.
func ServerTLSConfig(certFile, keyFile, clientCAFile string) (*tls.Config, error) {
	if clientCAFile == "" {
		return nil, fmt.Errorf("%w: job-control server needs a client CA", ErrCASetup)
	}
	certificate, err := loadKeyPair("server", certFile, keyFile)
	if err != nil {
		return nil, err
	}
	clientCAs, err := newCertPool(clientCAFile)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{certificate},
		ClientCAs:    clientCAs,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// clientTLSConfig returns the configuration behind [WithTLS]. An empty
// serverCAFile trusts the system roots.
func clientTLSConfig(certFile, keyFile, serverCAFile string) (*tls.Config, error) {
	certificate, err := loadKeyPair("client", certFile, keyFile)
	if err != nil {
		return nil, err
	}
	rootCAs, err := newCertPool(serverCAFile)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{certificate},
		RootCAs:      rootCAs,
		MinVersion:   tls.VersionTLS13,
	}, nil
}

func loadKeyPair(side, certFile, keyFile string) (tls.Certificate, error) {
	certificate, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("%w: %s cert %q, key %q: %w", ErrCertLoad, side, certFile, keyFile, err)
	}
	return certificate, nil
}

// newCertPool loads the PEM certificates of caFile, or the system pool if
// caFile is empty.
func newCertPool(caFile string) (*x509.CertPool, error) {
	if caFile == "" {
		pool, err := x509.SystemCertPool()
		if err != nil {
			return nil, fmt.Errorf("%w: no system cert pool: %w", ErrCASetup, err)
		}
		return pool, nil
	}
	b, err := os.ReadFile(caFile) //nolint:gosec // G304: CA path is operator supplied
	if err != nil {
		return nil, fmt.Errorf("%w: cannot read CA %q: %w", ErrCASetup, caFile, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(b) {
		return nil, fmt.Errorf("%w: no PEM certificates in %q", ErrCASetup, caFile)
	}
	return pool, nil
}
