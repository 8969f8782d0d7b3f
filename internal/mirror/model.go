package mirror

import (
	"time"

	"github.com/idregistry/idregistry/internal/account"
	"github.com/idregistry/idregistry/internal/registry"
)

// Where a View's verification state came from.
const (
	SourceRegistry = "registry"
	SourceMirror   = "mirror"
)

// Verification is the gateway's denormalised copy of a submission plus the
// off-chain metadata the registry does not store.
type Verification struct {
	ID           string
	Address      account.Address
	IdentityHash string
	ProofRef     string
	DocumentType string
	Nationality  string
	Verified     bool
	VerifiedAt   time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Request is a verification submission made through the gateway.
type Request struct {
	IdentityHash string
	ProofRef     string
	DocumentType string
	Nationality  string
}

// View answers a read: live registry state when reachable, mirror state
// otherwise, plus mirror metadata when present.
type View struct {
	Address      account.Address
	IdentityHash string
	Verified     bool
	Status       registry.Status
	Timestamp    time.Time
	ProofRef     string
	DocumentType string
	Nationality  string
	Source       string
}
