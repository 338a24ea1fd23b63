package remotecache

import (
	"crypto/tls"
	"crypto/x509"
	"net"
	"net/http"
	"os"

	"btdt/internal/cacheerr"
)

// buildTransport returns an http.Transport configured with the
// default connect and idle timeouts, trusting rootCertPath's PEM
// bundle instead of the system trust store when rootCertPath is
// non-empty.
func buildTransport(rootCertPath string) (*http.Transport, error) {
	dialer := &net.Dialer{
		Timeout: DefaultConnectTimeout,
	}

	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		IdleConnTimeout:     DefaultIdleTimeout,
		TLSHandshakeTimeout: DefaultConnectTimeout,
	}

	if rootCertPath == "" {
		return transport, nil
	}

	pem, err := os.ReadFile(rootCertPath)
	if err != nil {
		return nil, cacheerr.WithPath(cacheerr.IO, "read root cert bundle", rootCertPath, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, cacheerr.New(cacheerr.InvalidInput, "root cert bundle contains no usable certificates")
	}
	transport.TLSClientConfig = &tls.Config{
		RootCAs: pool,
	}
	return transport, nil
}
