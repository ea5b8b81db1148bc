package server

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/agentide/c3/log"
)

// tlsFiles resolves the certificate pair to serve with. Explicit --cert/--key
// win; otherwise a self-signed pair is generated once under the app TLS dir
// and reused across restarts.
func (s *Server) tlsFiles() (certFile, keyFile string, err error) {
	if s.cfg.TLSCert != "" && s.cfg.TLSKey != "" {
		return s.cfg.TLSCert, s.cfg.TLSKey, nil
	}

	certFile = filepath.Join(s.cfg.TLSDir, "cert.pem")
	keyFile = filepath.Join(s.cfg.TLSDir, "key.pem")

	_, certErr := os.Stat(certFile)
	_, keyErr := os.Stat(keyFile)
	if certErr == nil && keyErr == nil {
		return certFile, keyFile, nil
	}

	log.Info().Str("dir", s.cfg.TLSDir).Msg("generating self-signed TLS certificate")
	if err := generateSelfSigned(certFile, keyFile, s.cfg.Host); err != nil {
		return "", "", fmt.Errorf("failed to generate self-signed certificate: %w", err)
	}
	return certFile, keyFile, nil
}

// generateSelfSigned writes a fresh ECDSA P-256 certificate and key. The SANs
// cover localhost plus the bind host so browsers can pin the cert exception
// against whichever name the hub is reached by.
func generateSelfSigned(certFile, keyFile, host string) error {
	privKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return err
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return err
	}

	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject:      pkix.Name{CommonName: "c3 hub"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour * 24 * 825),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{
			x509.ExtKeyUsageServerAuth,
		},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}
	if ip := net.ParseIP(host); ip != nil && !ip.IsLoopback() && !ip.IsUnspecified() {
		template.IPAddresses = append(template.IPAddresses, ip)
	} else if host != "" && host != "localhost" && ip == nil {
		template.DNSNames = append(template.DNSNames, host)
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &privKey.PublicKey, privKey)
	if err != nil {
		return err
	}
	keyBytes, err := x509.MarshalECPrivateKey(privKey)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(certFile), 0o700); err != nil {
		return err
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes})
	if err := os.WriteFile(certFile, certPEM, 0o644); err != nil {
		return err
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes})
	return os.WriteFile(keyFile, keyPEM, 0o600)
}
