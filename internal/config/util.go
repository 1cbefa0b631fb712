package config

import (
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"errors"
)

var errNotRSAKey = errors.New("service provider key is not an rsa key")

// KeyPairRaw holds a PEM encoded key and certificate from the config file.
type KeyPairRaw struct {
	Key  string `yaml:"key"`
	Cert string `yaml:"cert"`
}

func (k KeyPairRaw) Parse() (*rsa.PrivateKey, *x509.Certificate, error) {
	keyPair, err := tls.X509KeyPair([]byte(k.Cert), []byte(k.Key))
	if err != nil {
		return nil, nil, err
	}
	keyPair.Leaf, err = x509.ParseCertificate(keyPair.Certificate[0])
	if err != nil {
		return nil, nil, err
	}

	key, ok := keyPair.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, nil, errNotRSAKey
	}

	return key, keyPair.Leaf, nil
}
