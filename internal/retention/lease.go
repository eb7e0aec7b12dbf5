package retention

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

var ErrLeaseHeld = errors.New("retention: lease held by another runner")

const leaseFile = "lease.json"

type lease struct {
	Owner     string    `json:"owner"`
	RunID     string    `json:"run_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// acquire creates the lease file under dir. An expired lease left by a
// crashed runner is taken over.
func acquire(dir string, l lease, now time.Time) error {
	path := filepath.Join(dir, leaseFile)
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			werr := json.NewEncoder(f).Encode(l)
			cerr := f.Close()
			if werr != nil || cerr != nil {
				_ = os.Remove(path)
				return fmt.Errorf("write lease: %w", errors.Join(werr, cerr))
			}
			return nil
		}
		if !errors.Is(err, os.ErrExist) {
			return err
		}
		held, rerr := readLease(path)
		if rerr == nil && now.Before(held.ExpiresAt) {
			return fmt.Errorf("%w: %s until %s", ErrLeaseHeld, held.Owner, held.ExpiresAt.Format(time.RFC3339))
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return ErrLeaseHeld
}

// release removes the lease if owner still holds it.
func release(dir, owner string) error {
	path := filepath.Join(dir, leaseFile)
	held, err := readLease(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err == nil && held.Owner != owner {
		return nil
	}
	return os.Remove(path)
}

func readLease(path string) (lease, error) {
	var l lease
	b, err := os.ReadFile(path)
	if err != nil {
		return l, err
	}
	err = json.Unmarshal(b, &l)
	return l, err
}
