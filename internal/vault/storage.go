package vault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hamzasheedi/secure-hub/internal/storage"
)

// placement writes blobs to an ordered list of backends, falling through to
// the next one when a backend fails. Each durable attempt is bounded by
// timeout so a hung backend cannot stall the fallback.
type placement struct {
	backends []storage.BlobStore
	timeout  time.Duration
	log      *logrus.Logger
}

func newPlacement(durable, ephemeral storage.BlobStore, timeout time.Duration, log *logrus.Logger) placement {
	p := placement{timeout: timeout, log: log}
	if durable != nil {
		p.backends = append(p.backends, durable)
	}
	p.backends = append(p.backends, ephemeral)
	return p
}

// put returns the location and reference of the stored blob.
func (p placement) put(ctx context.Context, hint string, data []byte) (storage.Location, string, error) {
	var lastErr error
	for i, b := range p.backends {
		ref, err := p.attempt(ctx, b, func(ctx context.Context) (string, error) {
			return b.Put(ctx, hint, data)
		})
		if err == nil {
			return b.Location(), ref, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", "", ctx.Err()
		}
		if i < len(p.backends)-1 {
			p.log.WithFields(logrus.Fields{
				"backend": b.Location(),
				"hint":    hint,
				"error":   err.Error(),
			}).Warn("blob write failed, falling back")
		}
	}
	return "", "", lastErr
}

func (p placement) get(ctx context.Context, loc storage.Location, ref string) ([]byte, error) {
	b, err := p.backend(loc)
	if err != nil {
		return nil, err
	}
	var out []byte
	_, err = p.attempt(ctx, b, func(ctx context.Context) (string, error) {
		var gerr error
		out, gerr = b.Get(ctx, ref)
		return "", gerr
	})
	return out, err
}

func (p placement) delete(ctx context.Context, loc storage.Location, ref string) error {
	b, err := p.backend(loc)
	if err != nil {
		return err
	}
	_, err = p.attempt(ctx, b, func(ctx context.Context) (string, error) {
		return "", b.Delete(ctx, ref)
	})
	return err
}

func (p placement) backend(loc storage.Location) (storage.BlobStore, error) {
	for _, b := range p.backends {
		if b.Location() == loc {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w: no %s backend configured", storage.ErrBackendUnavailable, loc)
}

func (p placement) attempt(ctx context.Context, b storage.BlobStore, fn func(context.Context) (string, error)) (string, error) {
	if b.Location() != storage.Durable || p.timeout <= 0 {
		return fn(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	ref, err := fn(actx)
	if err != nil && errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return "", fmt.Errorf("%w: %s backend timed out after %s", storage.ErrBackendUnavailable, b.Location(), p.timeout)
	}
	return ref, err
}
