// Package credentials builds the *tls.Config the core uses for its
// HTTP/2-over-TLS connections: ALPN offer list, minimum version, and the
// pluggable certificate-verification modes the spec requires. Automatic
// certificate provisioning is delegated to golang.org/x/crypto/acme/autocert,
// the same library the teacher wires up in examples/autocert.
package credentials

import (
	"crypto/tls"
	"crypto/x509"
	"errors"

	"golang.org/x/crypto/acme"
	"golang.org/x/crypto/acme/autocert"
)

// VerificationMode selects how the peer's certificate is checked.
type VerificationMode int

const (
	// NoVerification disables certificate verification entirely.
	// Dangerous outside of tests.
	NoVerification VerificationMode = iota
	// NoHostnameVerification verifies the certificate chain but skips the
	// hostname/SNI match.
	NoHostnameVerification
	// FullVerification performs the standard chain and hostname check.
	FullVerification
)

// ALPNProtos is the set of application protocols this core offers over
// TLS, in preference order.
var ALPNProtos = []string{"grpc-exp", "h2"}

// Options configures a *tls.Config for either side of the connection.
type Options struct {
	// ServerName is used for SNI and, under FullVerification, hostname
	// matching. Derived by the caller from address.SNIHostname.
	ServerName string

	VerificationMode VerificationMode
	Roots            *x509.CertPool

	// Certificates are the local identity certificates presented to the
	// peer (client certs on the client side, server certs on the server
	// side), used when Autocert is nil.
	Certificates []tls.Certificate

	// Autocert, when set, supplies GetCertificate for automatic
	// provisioning/renewal instead of a static Certificates list. Server
	// side only.
	Autocert *autocert.Manager

	// RequireALPN fails the handshake if the negotiated protocol isn't in
	// ALPNProtos (§4.2's requireALPN check).
	RequireALPN bool
}

// ErrNoALPNNegotiated is returned by CheckALPN when RequireALPN is set and
// the handshake completed without a negotiated protocol.
var ErrNoALPNNegotiated = errors.New("credentials: TLS handshake completed with no negotiated ALPN protocol")

// Build produces a *tls.Config reflecting o.
func (o *Options) Build() *tls.Config {
	cfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
		NextProtos: append([]string{}, ALPNProtos...),
		ServerName: o.ServerName,
	}

	switch o.VerificationMode {
	case NoVerification:
		cfg.InsecureSkipVerify = true
	case NoHostnameVerification:
		cfg.InsecureSkipVerify = true
		cfg.VerifyPeerCertificate = verifyChainIgnoringHostname(o.Roots)
	case FullVerification:
		cfg.RootCAs = o.Roots
	}

	if o.Autocert != nil {
		cfg.GetCertificate = o.Autocert.GetCertificate
		cfg.NextProtos = append(cfg.NextProtos, acme.ALPNProto)
	} else if len(o.Certificates) > 0 {
		cfg.Certificates = o.Certificates
	}

	return cfg
}

// CheckALPN enforces RequireALPN against a completed connection state.
func (o *Options) CheckALPN(state tls.ConnectionState) error {
	if !o.RequireALPN {
		return nil
	}
	for _, p := range ALPNProtos {
		if state.NegotiatedProtocol == p {
			return nil
		}
	}
	return ErrNoALPNNegotiated
}

func verifyChainIgnoringHostname(roots *x509.CertPool) func([][]byte, [][][]byte) error {
	return func(rawCerts [][]byte, _ [][][]byte) error {
		if len(rawCerts) == 0 {
			return errors.New("credentials: no certificate presented")
		}

		certs := make([]*x509.Certificate, len(rawCerts))
		for i, raw := range rawCerts {
			cert, err := x509.ParseCertificate(raw)
			if err != nil {
				return err
			}
			certs[i] = cert
		}

		opts := x509.VerifyOptions{Roots: roots, Intermediates: x509.NewCertPool()}
		for _, c := range certs[1:] {
			opts.Intermediates.AddCert(c)
		}

		_, err := certs[0].Verify(opts)
		return err
	}
}
