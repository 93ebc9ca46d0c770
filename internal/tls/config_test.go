package tls

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// generateTestCertificate creates a self-signed certificate and key valid for the given duration
func generateTestCertificate(t *testing.T, name string, validFor time.Duration) (certPEM, keyPEM []byte) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	template := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: name},
		Issuer:                pkix.Name{CommonName: name},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(validFor),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{name},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM
}

func TestLoadCertificate(t *testing.T) {
	tmpDir := t.TempDir()
	certFile := filepath.Join(tmpDir, "cert.pem")
	keyFile := filepath.Join(tmpDir, "key.pem")
	invalid := filepath.Join(tmpDir, "invalid.pem")

	certPEM, keyPEM := generateTestCertificate(t, "ads.example.com", 30*24*time.Hour)
	os.WriteFile(certFile, certPEM, 0644)
	os.WriteFile(keyFile, keyPEM, 0600)
	os.WriteFile(invalid, []byte("invalid"), 0644)

	tests := []struct {
		name    string
		cert    string
		key     string
		wantErr bool
	}{
		{"valid certificate", certFile, keyFile, false},
		{"missing files", "/nonexistent/cert.pem", "/nonexistent/key.pem", true},
		{"invalid certificate", invalid, keyFile, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadCertificate(tt.cert, tt.key)
			if (err != nil) != tt.wantErr {
				t.Fatalf("LoadCertificate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && (len(cfg.Certificates) != 1 || cfg.MinVersion == 0) {
				t.Errorf("unexpected config %+v", cfg)
			}
		})
	}
}

func TestReadCertificateInfo(t *testing.T) {
	certFile := filepath.Join(t.TempDir(), "cert.pem")
	certPEM, _ := generateTestCertificate(t, "ads.example.com", 5*24*time.Hour)
	os.WriteFile(certFile, certPEM, 0644)

	info, err := ReadCertificateInfo(certFile)
	if err != nil {
		t.Fatalf("ReadCertificateInfo failed: %v", err)
	}
	if info.Domain != "ads.example.com" || len(info.DNSNames) != 1 {
		t.Errorf("unexpected info %+v", info)
	}
	if info.DaysLeft != 4 && info.DaysLeft != 5 {
		t.Errorf("DaysLeft = %d", info.DaysLeft)
	}
	if !info.Expiring(7) || info.Expiring(1) {
		t.Errorf("Expiring() wrong for %d days left", info.DaysLeft)
	}

	notPEM := filepath.Join(t.TempDir(), "plain.txt")
	os.WriteFile(notPEM, []byte("hello"), 0644)
	if _, err := ReadCertificateInfo(notPEM); err == nil {
		t.Error("expected error for non-PEM file")
	}
}

func TestACMECachedCertificates(t *testing.T) {
	cacheDir := t.TempDir()
	certPEM, keyPEM := generateTestCertificate(t, "ads.example.com", 60*24*time.Hour)
	blob := append(append([]byte{}, keyPEM...), certPEM...)
	if err := os.WriteFile(filepath.Join(cacheDir, "ads.example.com"), blob, 0600); err != nil {
		t.Fatal(err)
	}

	m := NewACMEManager("ops@example.com", []string{"ads.example.com", "cdn.example.com"}, cacheDir)
	if len(m.Domains()) != 2 {
		t.Errorf("Domains() = %v", m.Domains())
	}
	if m.TLSConfig().GetCertificate == nil {
		t.Error("TLSConfig should fetch certificates on demand")
	}

	certs := m.CachedCertificates(context.Background())
	if len(certs) != 1 {
		t.Fatalf("expected 1 cached certificate, got %d", len(certs))
	}
	if certs[0].Domain != "ads.example.com" || certs[0].DaysLeft < 58 {
		t.Errorf("unexpected cached certificate %+v", certs[0])
	}
}

func TestACMEHTTPHandlerRedirects(t *testing.T) {
	m := NewACMEManager("", []string{"ads.example.com"}, t.TempDir())

	req := httptest.NewRequest("GET", "http://ads.example.com/api/v1/jobs?status=failed", nil)
	w := httptest.NewRecorder()
	m.HTTPHandler().ServeHTTP(w, req)

	if w.Code != http.StatusMovedPermanently {
		t.Fatalf("Status = %d, want 301", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "https://ads.example.com/api/v1/jobs?status=failed" {
		t.Errorf("Location = %q", loc)
	}
}
