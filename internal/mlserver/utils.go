package mlserver

// utils module
//
// Copyright (c) 2023 - Valentin Kuznetsov <vkuznet@gmail.com>
//

import (
	"compress/gzip"
	"crypto/tls"
	"crypto/x509"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"golang.org/x/crypto/acme/autocert"

	"github.com/vkuznet/gordo-client/pkg/logger"
)

// RootCAs returns cert pool of root CAs found in given directory
func RootCAs(dir string, log logger.Logger) *x509.CertPool {
	rootCAs := x509.NewCertPool()
	if dir == "" {
		return rootCAs
	}
	log.Info("load RootCAs", "dir", dir)
	files, err := os.ReadDir(dir)
	if err != nil {
		log.Error("unable to list RootCAs files", "dir", dir, "error", err)
		return rootCAs
	}
	for _, finfo := range files {
		fname := filepath.Join(dir, finfo.Name())
		caCert, err := os.ReadFile(filepath.Clean(fname))
		if err != nil {
			log.Debug("unable to read CA file", "file", fname, "error", err)
			continue
		}
		if ok := rootCAs.AppendCertsFromPEM(caCert); !ok {
			log.Debug("invalid PEM format while importing trust-chain", "file", fname)
			continue
		}
		log.Debug("load CA file", "file", fname)
	}
	return rootCAs
}

// LetsEncryptServer provides HTTPs server with Let's encrypt for
// given domain names (hosts)
func LetsEncryptServer(handler http.Handler, rootCAs *x509.CertPool, log logger.Logger, hosts ...string) *http.Server {
	// setup LetsEncrypt cert manager
	certManager := autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(hosts...),
		Cache:      autocert.DirCache("certs"),
	}

	tlsConfig := &tls.Config{
		ClientAuth:     tls.RequestClientCert,
		RootCAs:        rootCAs,
		GetCertificate: certManager.GetCertificate,
	}

	// start HTTP server with our rootCAs and LetsEncrypt certificates
	server := &http.Server{
		Addr:      ":https",
		TLSConfig: tlsConfig,
		Handler:   handler,
	}
	// start cert Manager goroutine
	go func() {
		if err := http.ListenAndServe(":http", certManager.HTTPHandler(nil)); err != nil {
			log.Error("LetsEncrypt HTTP handler", "error", err)
		}
	}()
	log.Info("starting LetsEncrypt HTTPs server", "hosts", hosts)
	return server
}

// GzipReader struct to handle GZip'ed content of HTTP requests
type GzipReader struct {
	*gzip.Reader
	io.Closer
}

// Close helper function to close gzip reader
func (gz GzipReader) Close() error {
	return gz.Closer.Close()
}
