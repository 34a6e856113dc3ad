package cache

import (
	"context"
	"fmt"
	"time"
)

// LeaseKey returns the scan lease key for a linked account. One scan per
// account runs at a time; the lease TTL matches the scan deadline so a
// crashed worker cannot wedge the account forever.
func LeaseKey(accountID int64) string {
	return fmt.Sprintf("scan:lease:%d", accountID)
}

// AcquireLease takes the named lease for ttl. It returns false when another
// holder already has it.
func (r *Redis) AcquireLease(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.rdb.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	return ok, nil
}

// ReleaseLease drops the named lease. Releasing a lease that already expired
// is not an error.
func (r *Redis) ReleaseLease(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("release lease %s: %w", key, err)
	}
	return nil
}
