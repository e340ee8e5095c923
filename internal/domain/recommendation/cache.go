package recommendation

import (
	"context"
	"encoding/hex"
	"strconv"

	"golang.org/x/crypto/blake2b"

	"github.com/complyhub/guidance-core/internal/domain/guidance"
)

// Inputs are the values a recommendation set is a function of, besides
// the catalog itself.
type Inputs struct {
	UserID          string
	Completed       guidance.StepSet
	CurrentCategory string
	CompanyAgeDays  int
}

// Hash returns a stable digest of the inputs. The completed set is hashed
// in sorted order and a negative company age hashes like zero, matching
// how candidates are annotated.
func (in Inputs) Hash() string {
	age := in.CompanyAgeDays
	if age < 0 {
		age = 0
	}

	h, _ := blake2b.New256(nil)
	h.Write([]byte(in.UserID))
	h.Write([]byte{0})
	h.Write([]byte(in.CurrentCategory))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(age)))
	h.Write([]byte{0})
	for _, id := range in.Completed.IDs() {
		h.Write([]byte(id))
		h.Write([]byte{0x1f})
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// Cache stores computed sets keyed by (user, inputs hash).
type Cache interface {
	// Get returns the cached set. ok is false on a miss.
	Get(ctx context.Context, userID, inputsHash string) (set Set, ok bool, err error)

	// Put stores a set.
	Put(ctx context.Context, userID, inputsHash string, set Set) error

	// InvalidateUser drops every cached set of the user.
	InvalidateUser(ctx context.Context, userID string) error
}
