// Package cloudsql builds the Postgres connection string for the document
// store from the environment.
//
// Three sources are tried in order:
//   - DATABASE_URL, used as is
//   - INSTANCE_CONNECTION_NAME with DB_USER and DB_NAME, connecting over the
//     Cloud SQL unix socket mounted at /cloudsql/<instance>
//   - DB_HOST with DB_USER and DB_NAME, connecting over TCP
//
// DB_PASSWORD is optional for the socket form (IAM authentication).
package cloudsql

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
)

// ErrNotConfigured is returned when no connection source is set.
var ErrNotConfigured = errors.New("neither DATABASE_URL, INSTANCE_CONNECTION_NAME nor DB_HOST is set")

const socketDir = "/cloudsql"

// Settings are the connection inputs read from the environment.
type Settings struct {
	URL      string
	Instance string
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// FromEnv reads Settings from the process environment.
func FromEnv() Settings {
	return Settings{
		URL:      os.Getenv("DATABASE_URL"),
		Instance: os.Getenv("INSTANCE_CONNECTION_NAME"),
		Host:     os.Getenv("DB_HOST"),
		Port:     os.Getenv("DB_PORT"),
		User:     os.Getenv("DB_USER"),
		Password: os.Getenv("DB_PASSWORD"),
		Name:     os.Getenv("DB_NAME"),
		SSLMode:  os.Getenv("DB_SSLMODE"),
	}
}

// BuildDatabaseURL returns the connection string for the current environment.
func BuildDatabaseURL() (string, error) {
	return FromEnv().DSN()
}

// DSN renders the connection string.
func (s Settings) DSN() (string, error) {
	if s.URL != "" {
		return s.URL, nil
	}
	if s.Instance == "" && s.Host == "" {
		return "", ErrNotConfigured
	}
	if s.User == "" || s.Name == "" {
		return "", fmt.Errorf("DB_USER and DB_NAME must be set when DATABASE_URL is not")
	}

	host := s.Host
	sslMode := s.SSLMode
	if s.Instance != "" {
		host = fmt.Sprintf("%s/%s", socketDir, s.Instance)
		if sslMode == "" {
			sslMode = "disable"
		}
	}
	if sslMode == "" {
		sslMode = "require"
	}

	parts := []string{"host=" + quote(host)}
	if s.Instance == "" && s.Port != "" {
		parts = append(parts, "port="+quote(s.Port))
	}
	parts = append(parts, "user="+quote(s.User))
	if s.Password != "" {
		parts = append(parts, "password="+quote(s.Password))
	}
	parts = append(parts, "dbname="+quote(s.Name), "sslmode="+quote(sslMode))
	return strings.Join(parts, " "), nil
}

// Describe returns the connection details without secrets, for startup logs.
func (s Settings) Describe() map[string]string {
	switch {
	case s.URL != "":
		return map[string]string{"connection_type": "direct", "database_url": Redact(s.URL)}
	case s.Instance != "":
		return map[string]string{
			"connection_type": "cloud_sql",
			"instance":        s.Instance,
			"user":            s.User,
			"database":        s.Name,
			"socket_path":     fmt.Sprintf("%s/%s", socketDir, s.Instance),
		}
	case s.Host != "":
		return map[string]string{"connection_type": "tcp", "host": s.Host, "user": s.User, "database": s.Name}
	default:
		return map[string]string{"connection_type": "none"}
	}
}

// Redact masks the password of a postgres:// URL.
func Redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); !ok {
		return raw
	}
	return u.Redacted()
}

// quote escapes a keyword/value connection parameter.
func quote(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}
