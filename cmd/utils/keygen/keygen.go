package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/isheff/het-paxos-ref/internal/logger"
	"github.com/isheff/het-paxos-ref/pkg/identity"
	"github.com/isheff/het-paxos-ref/pkg/message"
)

func main() {
	// Utilities only log errors
	loggerConfig := logger.Config{
		ConsoleOutput: true,
		ConsoleColor:  false,
		FileOutput:    false,
		Level:         "error",
	}
	if err := logger.Init(loggerConfig); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	helpFlag := flag.Bool("help", false, "Show help message")
	hostsFlag := flag.String("hosts", "localhost", "Comma-separated host names for the certificate")
	certOutFlag := flag.String("cert-out", "identity.crt", "Certificate PEM output path")
	keyOutFlag := flag.String("key-out", "identity.key", "Private key PEM output path")
	inspectFlag := flag.String("cert", "", "Certificate PEM file to inspect instead of generating")
	flag.Parse()

	if *helpFlag {
		fmt.Println("Heterogeneous Paxos Identity Generator")
		fmt.Println()
		fmt.Println("Usage:")
		fmt.Println("  keygen                              Generate an identity for localhost")
		fmt.Println("  keygen -hosts a.example,b.example   Generate an identity for the given hosts")
		fmt.Println("  keygen -cert identity.crt           Inspect an existing certificate")
		fmt.Println("  keygen -help                        Show this help")
		return
	}

	if *inspectFlag != "" {
		inspect(*inspectFlag)
		return
	}

	generate(splitHosts(*hostsFlag), *certOutFlag, *keyOutFlag)
}

// generate creates a fresh identity and writes both PEM halves. The key
// file is owner-readable only.
func generate(hostnames []string, certPath, keyPath string) {
	pub, priv, err := identity.GenerateKeyPair(hostnames)
	if err != nil {
		logger.Error("Error generating identity", "error", err)
		os.Exit(1)
	}

	if err := os.WriteFile(certPath, []byte(pub.PEM()), 0644); err != nil {
		logger.Error("Error writing certificate", "error", err)
		os.Exit(1)
	}
	if err := os.WriteFile(keyPath, []byte(priv.PEM()), 0600); err != nil {
		logger.Error("Error writing private key", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Certificate: %s\n", certPath)
	fmt.Printf("Private Key: %s\n", keyPath)
	fmt.Printf("Scheme:      %s\n", pub.Scheme())
	fmt.Printf("Fingerprint: %s\n", message.Sum([]byte(pub.PEM())))
}

// inspect re-parses a certificate and reports what the federation will
// negotiate for it.
func inspect(certPath string) {
	data, err := os.ReadFile(certPath)
	if err != nil {
		logger.Error("Error reading certificate", "error", err)
		os.Exit(1)
	}
	pub, err := identity.NewPublicKey(string(data))
	if err != nil {
		logger.Error("Error parsing certificate", "error", err)
		os.Exit(1)
	}

	supported := pub.SupportedSchemes()
	schemes := make([]string, 0, len(supported))
	for _, schemeID := range supported {
		schemes = append(schemes, schemeID.String())
	}

	fmt.Printf("Subject:     %s\n", pub.Certificate().Subject.CommonName)
	fmt.Printf("Hosts:       %s\n", strings.Join(pub.Certificate().DNSNames, ", "))
	fmt.Printf("Supported:   %s\n", strings.Join(schemes, ", "))
	fmt.Printf("Negotiated:  %s\n", pub.Scheme())
	fmt.Printf("Fingerprint: %s\n", message.Sum([]byte(pub.PEM())))
}

// splitHosts parses the comma-separated -hosts flag.
func splitHosts(flagValue string) []string {
	parts := strings.Split(flagValue, ",")
	hosts := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			hosts = append(hosts, trimmed)
		}
	}
	return hosts
}
