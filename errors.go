package vecbridge

import (
	"errors"
	"fmt"

	"github.com/hupe1980/vecbridge/engine"
	"github.com/hupe1980/vecbridge/engine/filter"
)

// Kind classifies an error into one of the stable categories surfaced to
// foreign callers. The category is encoded in the message prefix, so callers
// that only see a string can still dispatch on it.
type Kind int

const (
	// KindOther covers engine failures with no more specific category.
	KindOther Kind = iota
	// KindInvalidArgument covers rejected caller input.
	KindInvalidArgument
	// KindIO covers storage and filesystem failures.
	KindIO
	// KindColumnar covers columnar interchange and codec failures.
	KindColumnar
	// KindIndex covers index creation and lookup failures.
	KindIndex
	// KindNotFound covers lookups of tables that do not exist.
	KindNotFound
	// KindAlreadyExists covers creation of tables that already exist.
	KindAlreadyExists
	// KindInvalidName covers rejected table names.
	KindInvalidName
	// KindMissingEmbedding covers queries against tables with no usable
	// vector column.
	KindMissingEmbedding
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "Invalid argument"
	case KindIO:
		return "IO error"
	case KindColumnar:
		return "Arrow error"
	case KindIndex:
		return "Index error"
	case KindNotFound:
		return "Table not found"
	case KindAlreadyExists:
		return "Table already exists"
	case KindInvalidName:
		return "Invalid table name"
	case KindMissingEmbedding:
		return "No vector column"
	default:
		return "Error"
	}
}

// Error is the single error type crossing the bridge boundary.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// NewError builds an Error with the given kind and formatted message.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func invalidArgument(format string, args ...any) *Error {
	return NewError(KindInvalidArgument, format, args...)
}

// Classify normalizes engine and predicate errors into *Error. Errors that
// are already classified pass through unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	var notFound *engine.TableNotFoundError
	if errors.As(err, &notFound) {
		return &Error{Kind: KindNotFound, Message: notFound.Name, cause: err}
	}
	var exists *engine.TableExistsError
	if errors.As(err, &exists) {
		return &Error{Kind: KindAlreadyExists, Message: exists.Name, cause: err}
	}
	var invalidName *engine.InvalidNameError
	if errors.As(err, &invalidName) {
		return &Error{Kind: KindInvalidName, Message: err.Error(), cause: err}
	}
	var noVec *engine.NoVectorColumnError
	if errors.As(err, &noVec) {
		return &Error{Kind: KindMissingEmbedding, Message: err.Error(), cause: err}
	}
	var idxErr *engine.IndexError
	if errors.As(err, &idxErr) {
		return &Error{Kind: KindIndex, Message: err.Error(), cause: err}
	}
	var storage *engine.StorageError
	if errors.As(err, &storage) {
		return &Error{Kind: KindIO, Message: err.Error(), cause: err}
	}
	var mismatch *engine.SchemaMismatchError
	if errors.As(err, &mismatch) {
		return &Error{Kind: KindColumnar, Message: err.Error(), cause: err}
	}
	var unsupported *engine.UnsupportedTypeError
	if errors.As(err, &unsupported) {
		return &Error{Kind: KindColumnar, Message: err.Error(), cause: err}
	}

	// Predicate problems are caller input problems.
	var syntax *filter.SyntaxError
	if errors.As(err, &syntax) {
		return &Error{Kind: KindInvalidArgument, Message: err.Error(), cause: err}
	}
	var unknownPred *filter.UnknownColumnError
	if errors.As(err, &unknownPred) {
		return &Error{Kind: KindInvalidArgument, Message: err.Error(), cause: err}
	}
	var typeErr *filter.TypeError
	if errors.As(err, &typeErr) {
		return &Error{Kind: KindInvalidArgument, Message: err.Error(), cause: err}
	}
	var unknownCol *engine.UnknownColumnError
	if errors.As(err, &unknownCol) {
		return &Error{Kind: KindInvalidArgument, Message: err.Error(), cause: err}
	}
	if errors.Is(err, engine.ErrEmptyPredicate) {
		return &Error{Kind: KindInvalidArgument, Message: err.Error(), cause: err}
	}

	return &Error{Kind: KindOther, Message: err.Error(), cause: err}
}
