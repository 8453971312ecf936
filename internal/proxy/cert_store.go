package proxy

import (
	"crypto/tls"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"
)

// maxCerts bounds the leaf certificates kept for intercepted hosts
const maxCerts = 1024

// certStore implements goproxy.CertStorage, caching one generated certificate per host
type certStore struct {
	// serializes generation so a host gets a single certificate
	mu    sync.Mutex
	certs *lru.Cache
}

func newCertStore() *certStore {
	certs, _ := lru.New(maxCerts) // only fails on a non-positive size
	return &certStore{certs: certs}
}

func (s *certStore) Fetch(hostname string, gen func() (*tls.Certificate, error)) (*tls.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cert, ok := s.certs.Get(hostname); ok {
		return cert.(*tls.Certificate), nil
	}

	cert, err := gen()
	if err != nil {
		logrus.Errorf("Failed to generate certificate for hostname '%s': %v", hostname, err)
		return nil, fmt.Errorf("failed to generate certificate for hostname '%s': %w", hostname, err)
	}

	s.certs.Add(hostname, cert)
	return cert, nil
}
