// validity.go implements the Active rule on top of the model-level
// expiration accessors.
package keys

import (
	"context"
	"time"

	"github.com/riboseinc/keyserver/internal/db/models"
)

// Active reports whether a key is usable at the given instant.
//
// A key without an expiration is always active. An expiring key is active
// only while all of the following hold:
//   - it is its owner's earliest-activated primary key (the owner's current
//     key under the insertion-order rotation rule); ownerless keys rotate
//     against each other as a single pool
//   - its expiry has not passed
//   - its activation date has been reached
func (s *Service) Active(ctx context.Context, key *models.Key, now time.Time) (bool, error) {
	if !key.Expires() {
		return true, nil
	}
	if key.Expired(now) || key.ActivationDate.After(now) {
		return false, nil
	}

	firstID, err := s.store.FirstActivatedKeyID(ctx, key.OwnerType, key.OwnerID)
	if err != nil {
		return false, err
	}
	return firstID == "" || firstID == key.ID, nil
}
