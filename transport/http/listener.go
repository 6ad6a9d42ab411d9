package http

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"

	"github.com/gofiber/fiber/v3"
)

// createListener 在 OnStart 中同步绑定端口，端口冲突时启动失败而不是在后台报错
func createListener(addr string, cfg fiber.ListenConfig) (net.Listener, error) {
	if cfg.CertFile == "" || cfg.CertKeyFile == "" {
		return net.Listen(cfg.ListenerNetwork, addr)
	}
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.CertKeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
	}
	tc := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	if cfg.TLSMinVersion > 0 {
		tc.MinVersion = cfg.TLSMinVersion
	}
	if cfg.CertClientFile != "" {
		pem, err := os.ReadFile(cfg.CertClientFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read client CA: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("client CA file contains no certificates")
		}
		tc.ClientCAs = pool
		tc.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return tls.Listen(cfg.ListenerNetwork, addr, tc)
}
