// Package config loads server configuration: positional CLI arguments
// for the things that vary per run, overlaid with a .env file for the
// things that vary per deployment.
package config

import (
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds everything a running server instance needs.
type Config struct {
	// Positional arguments: authentication, admin_authentication,
	// port, ip.
	Authentication      string
	AdminAuthentication string
	Port                string
	IP                  string

	// DataDir is data_<host>_<port> with dots replaced by underscores,
	// matching Server.__init__'s folder naming.
	DataDir string

	// Database settings, overlaid from .env.
	DBType string // "sqlite3" (default) or "postgres"
	DBName string
	DBHost string
	DBPort int
	DBUser string
	DBPass string

	// AdminTOTPSecret enables the optional second factor on the admin
	// handshake shortcut when non-empty.
	AdminTOTPSecret string
}

const defaultPort = "55555"

// Load parses positional CLI arguments, then overlays a .env file of
// deployment-specific settings, creating one with defaults if
// missing.
func Load(args []string, envFile string) (*Config, error) {
	if len(args) > 4 {
		return nil, fmt.Errorf("config: too many arguments (authentication, admin_authentication, port, ip)")
	}
	if len(args) < 1 {
		return nil, fmt.Errorf("config: too few arguments (authentication, admin_authentication, port, ip)")
	}

	positional := [4]string{}
	copy(positional[:], args)

	cfg := &Config{
		Authentication:      positional[0],
		AdminAuthentication: positional[1],
		Port:                positional[2],
		IP:                  positional[3],
		DBType:              "sqlite3",
	}
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if cfg.IP == "" {
		ip, err := localIP()
		if err != nil {
			return nil, fmt.Errorf("config: determine local ip: %w", err)
		}
		cfg.IP = ip
	}

	if envFile == "" {
		envFile = ".env"
	}
	if err := overlayEnvFile(cfg, envFile); err != nil {
		return nil, fmt.Errorf("config: load %s: %w", envFile, err)
	}

	cfg.DataDir = dataDirName(cfg.IP, cfg.Port)
	if cfg.DBName == "" {
		cfg.DBName = filepath.Join(cfg.DataDir, "users.db")
	}

	log.Printf("[config] server args - ip: %s / port: %s", cfg.IP, cfg.Port)
	log.Printf("[config] authentication: %s", strings.Repeat("*", len(cfg.Authentication)))
	log.Printf("[config] admin authentication: %s", strings.Repeat("*", len(cfg.AdminAuthentication)))

	return cfg, nil
}

// dataDirName builds the 'data_<host>_<port>' folder name, replacing
// dots with underscores so IPv4 addresses make legal paths.
func dataDirName(ip, port string) string {
	host := strings.ReplaceAll(ip, ".", "_")
	return fmt.Sprintf("data_%s_%s", host, port)
}

// localIP opens a UDP "connection" to a well-known address purely to
// learn which local interface the kernel would route through, without
// sending any packets.
func localIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}

// overlayEnvFile loads deployment settings from envFile, creating a
// default one if it does not yet exist.
func overlayEnvFile(cfg *Config, envFile string) error {
	if _, err := os.Stat(envFile); os.IsNotExist(err) {
		log.Printf("[config] %s not found, creating with defaults", envFile)
		return writeDefaultEnvFile(envFile)
	}

	values, err := godotenv.Read(envFile)
	if err != nil {
		return err
	}

	if v, ok := values["DB_TYPE"]; ok {
		cfg.DBType = v
	}
	if v, ok := values["DB_NAME"]; ok {
		cfg.DBName = v
	}
	if v, ok := values["DB_HOST"]; ok {
		cfg.DBHost = v
	}
	if v, ok := values["DB_PORT"]; ok {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.DBPort = p
		}
	}
	if v, ok := values["DB_USER"]; ok {
		cfg.DBUser = v
	}
	if v, ok := values["DB_PASSWORD"]; ok {
		cfg.DBPass = v
	}
	if v, ok := values["ADMIN_TOTP_SECRET"]; ok {
		cfg.AdminTOTPSecret = v
	}
	return nil
}

func writeDefaultEnvFile(envFile string) error {
	content := `# chessrelay configuration overlay
# authentication, admin_authentication, port, and ip are positional CLI
# arguments; everything below is deployment configuration.

DB_TYPE=sqlite3
DB_NAME=

# PostgreSQL settings, used only when DB_TYPE=postgres
DB_HOST=localhost
DB_PORT=5432
DB_USER=
DB_PASSWORD=

# Set to enable TOTP second-factor on the admin handshake shortcut.
ADMIN_TOTP_SECRET=
`
	return os.WriteFile(envFile, []byte(content), 0o644)
}

// PostgresDSN builds a lib/pq connection string from the overlay fields.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPass, c.DBName)
}
