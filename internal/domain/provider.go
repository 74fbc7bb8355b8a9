package domain

import (
	"fmt"
	"time"
)

// ServerConfig describes one NNTP server. It is built once from settings and never mutated;
// a fresh value is built when settings change.
type ServerConfig struct {
	ID                    string
	Host                  string
	Port                  int
	TLS                   bool
	TLSSkipVerify         bool
	Username              string
	Password              string
	MaxConnections        int
	ConnectTimeoutSeconds int
	MaxRetries            int
	Priority              int
}

func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Timeout is the per-operation timeout for connect, login and article fetches.
func (c ServerConfig) Timeout() time.Duration {
	if c.ConnectTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}
