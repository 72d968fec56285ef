// query.go implements fingerprint suffix lookup.
package keys

import (
	"context"

	"github.com/riboseinc/keyserver/internal/db/models"
	"github.com/riboseinc/keyserver/internal/telemetry"
)

// MinFingerprintSuffix is the minimum accepted suffix length. A full v4
// fingerprint is 40 hex characters; 16 characters (the long key ID) is the
// shortest prefix-free handle worth matching, anything shorter is rejected
// without touching the database.
const MinFingerprintSuffix = 16

// LookupFingerprint returns keys whose fingerprint ends with the given
// case-sensitive uppercase-hex suffix. A suffix shorter than
// MinFingerprintSuffix yields an empty result and a nil error: a short
// handle is not an error, it just never matches. By default only primary
// keys are returned.
func (s *Service) LookupFingerprint(ctx context.Context, suffix string, primaryOnly bool) ([]*models.Key, error) {
	if len(suffix) < MinFingerprintSuffix {
		telemetry.FingerprintLookupsTotal.WithLabelValues("too_short").Inc()
		return nil, nil
	}

	found, err := s.store.FindByFingerprintSuffix(ctx, suffix, primaryOnly)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		telemetry.FingerprintLookupsTotal.WithLabelValues("miss").Inc()
		return nil, nil
	}
	telemetry.FingerprintLookupsTotal.WithLabelValues("hit").Inc()
	return found, nil
}
