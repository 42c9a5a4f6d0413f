package server

import "time"

type Config struct {
	// MaxPayloadBytes caps uploaded files. Request bodies may exceed it by
	// multipartOverhead for form framing.
	MaxPayloadBytes int64

	// Decrypt attempts allowed per owner+file and per client IP.
	DecryptPerWindow int
	DecryptWindow    time.Duration

	// TrustProxy keys the per-IP limit on X-Forwarded-For.
	TrustProxy bool
}

const multipartOverhead = 1 << 20

func (c *Config) setDefaults() {
	if c.MaxPayloadBytes <= 0 {
		c.MaxPayloadBytes = 10 << 20
	}
	if c.DecryptPerWindow <= 0 {
		c.DecryptPerWindow = 5
	}
	if c.DecryptWindow <= 0 {
		c.DecryptWindow = time.Minute
	}
}
