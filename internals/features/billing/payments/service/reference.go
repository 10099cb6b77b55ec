// file: internals/features/billing/payments/service/reference.go
package service

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenReference builds a payment reference with the given prefix:
// timestamp plus a random suffix. Collisions are negligible, and the
// unique index on payment_reference_number is the actual guarantee.
func GenReference(prefix string) string {
	now := time.Now().UTC().Format("20060102-150405")
	u := uuid.New().String()
	if len(u) > 8 {
		u = u[:8]
	}
	return prefix + "-" + now + "-" + strings.ToUpper(u)
}
