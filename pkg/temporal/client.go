// Package temporal builds the Temporal client configuration shared by the API
// server and the worker.
package temporal

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/pdfbot/slack-pdf-backend/config"
)

// ClientOptions returns the options to dial the Temporal frontend described
// by cfg. TLS is enabled when a client certificate and key are configured.
func ClientOptions(cfg config.TemporalConfig, logger *zap.Logger) (client.Options, error) {
	opts := client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    NewZapAdapter(logger),
	}

	if cfg.Cert == "" || cfg.Key == "" {
		return opts, nil
	}

	tlsConfig, err := tlsConfig(cfg)
	if err != nil {
		return client.Options{}, err
	}
	opts.ConnectionOptions = client.ConnectionOptions{TLS: tlsConfig}

	return opts, nil
}

func tlsConfig(cfg config.TemporalConfig) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(cfg.Cert, cfg.Key)
	if err != nil {
		return nil, fmt.Errorf("loading Temporal client certificate: %w", err)
	}

	tc := &tls.Config{
		Certificates: []tls.Certificate{cert},
		ServerName:   cfg.ServerName,
		MinVersion:   tls.VersionTLS12,
	}

	if cfg.Ca != "" {
		ca, err := os.ReadFile(cfg.Ca)
		if err != nil {
			return nil, fmt.Errorf("reading Temporal CA: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(ca) {
			return nil, fmt.Errorf("no certificates found in Temporal CA %s", cfg.Ca)
		}
		tc.RootCAs = pool
	}

	return tc, nil
}
