// Package config parses this server's command-line flags. A three-flag
// single-purpose server has no need for a configuration framework; every
// repo in the retrieved pack that reaches this small resolves it the same
// way, with the standard library's flag package.
package config

import "flag"

// Config holds every startup parameter this server accepts.
type Config struct {
	ListenAddr     string
	MetricsAddr    string
	MetadataLogDir string
}

// Parse parses args (excluding the program name) into a Config.
func Parse(args []string) (Config, error) {
	fs := flag.NewFlagSet("kraftd", flag.ContinueOnError)
	cfg := Config{}
	fs.StringVar(&cfg.ListenAddr, "listen", "0.0.0.0:9092", "address to listen for Kafka protocol connections on")
	fs.StringVar(&cfg.MetricsAddr, "metrics-listen", "0.0.0.0:9644", "address to serve Prometheus metrics on")
	fs.StringVar(&cfg.MetadataLogDir, "metadata-log-dir", "/tmp/kraft-combined-logs", "directory holding the controller's metadata log")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
