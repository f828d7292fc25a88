package ledger

import (
	"errors"
	"fmt"
)

// Kind classifies ledger failures so callers can branch without reading
// messages.
type Kind string

const (
	KindValidation     Kind = "VALIDATION"
	KindChainIntegrity Kind = "CHAIN_INTEGRITY"
	KindConfiguration  Kind = "CONFIGURATION"
	KindIO             Kind = "IO"
	KindConflict       Kind = "CONFLICT"
	KindNotFound       Kind = "NOT_FOUND"
)

var (
	ErrUnknownEventType         = errors.New("unknown event type")
	ErrInvalidEntityID          = errors.New("entity_id must be a uuid")
	ErrChainFork                = errors.New("prev_hash does not match chain tail")
	ErrImmutable                = errors.New("evidence entries are immutable")
	ErrPublishCredentialMissing = errors.New("publishing enabled but no api key configured")
	ErrAnchorSealed             = errors.New("anchor is sealed; recompute requires force")
	ErrAnchorNotFound           = errors.New("anchor not found")
	ErrAnchorRootChanged        = errors.New("anchor root changed since publication was requested")
)

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain, or "" when
// err carries none.
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return ""
}

func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}
