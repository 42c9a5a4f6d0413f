package vault

import "time"

const (
	DefaultMaxPayloadBytes = 10 << 20
	DefaultHeadroomBuffer  = 10 << 20
	DefaultDurableTimeout  = 10 * time.Second
)

// Policy holds the admission and placement limits applied to every call.
type Policy struct {
	MaxPayloadBytes int64         `json:"max_payload_bytes"`
	HeadroomBuffer  int64         `json:"headroom_buffer_bytes"`
	DurableTimeout  time.Duration `json:"durable_timeout"`
}

func DefaultPolicy() Policy {
	return Policy{
		MaxPayloadBytes: DefaultMaxPayloadBytes,
		HeadroomBuffer:  DefaultHeadroomBuffer,
		DurableTimeout:  DefaultDurableTimeout,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.MaxPayloadBytes <= 0 {
		p.MaxPayloadBytes = d.MaxPayloadBytes
	}
	if p.HeadroomBuffer <= 0 {
		p.HeadroomBuffer = d.HeadroomBuffer
	}
	if p.DurableTimeout <= 0 {
		p.DurableTimeout = d.DurableTimeout
	}
	return p
}
