package config

import (
	"fmt"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// templateFile renders DefaultConfig in the on-disk layout.
func templateFile() fileConfig {
	def := DefaultConfig()
	s := def.Session
	return fileConfig{
		URL:               "ws://localhost:1234/ws",
		Application:       "lightviz",
		Secret:            s.Secret,
		ConnectTimeout:    s.ConnectTimeout.String(),
		HandshakeTimeout:  s.HandshakeTimeout.String(),
		WriteTimeout:      s.WriteTimeout.String(),
		CallTimeout:       s.CallTimeout.String(),
		MaxMessageBytes:   s.MaxMessageBytes,
		StatusAddr:        def.Status.Addr,
		CorsOrigins:       []string{"http://localhost:8080"},
		LogLevel:          def.LogLevel,
		Debounce:          def.Debounce.String(),
		DisconnectTimeout: def.DisconnectTimeout.String(),
	}
}

// Template returns a starter config in format "toml" or "yaml".
func Template(format string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "toml":
		return toml.Marshal(templateFile())
	case "yaml", "yml":
		return yaml.Marshal(templateFile())
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

func WriteTemplate(path, format string, overwrite bool) error {
	data, err := Template(format)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, data, 0o600)
}
