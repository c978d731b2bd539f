package types

import "errors"

// ErrorKind classifies failures reported through acknowledgements
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindAuthorization ErrorKind = "authorization"
	KindState         ErrorKind = "state"
	KindInternal      ErrorKind = "internal"
)

// Error is a classified sentinel. Packages declare their own sentinels
// with the constructors below so the router can report a kind without
// knowing every package's error list.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string { return e.Message }

func NewValidationError(msg string) *Error    { return &Error{Kind: KindValidation, Message: msg} }
func NewAuthorizationError(msg string) *Error { return &Error{Kind: KindAuthorization, Message: msg} }
func NewStateError(msg string) *Error         { return &Error{Kind: KindState, Message: msg} }

// KindOf returns the kind of the first classified error in err's chain,
// or KindInternal
func KindOf(err error) ErrorKind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return KindInternal
}

// Protocol-level errors
var (
	ErrUnknownEvent       = NewValidationError("unknown event")
	ErrMalformedPayload   = NewValidationError("malformed payload")
	ErrInvalidSessionCode = NewValidationError("invalid session code")
	ErrInvalidWidgetID    = NewValidationError("widget id must be 1-100 characters")
	ErrInvalidRoomType    = NewValidationError("invalid room type")
	ErrInvalidDisplayName = NewValidationError("display name must be 1-50 characters")
	ErrMissingActivity    = NewValidationError("activity definition is required")
	ErrInvalidActivity    = NewValidationError("activity definition is invalid")
	ErrMissingField       = NewValidationError("required field missing")
	ErrInvalidPollOptions = NewValidationError("poll needs a question and 2-10 options")
	ErrInvalidVote        = NewValidationError("invalid poll option")
	ErrInvalidURL         = NewValidationError("link must be an http or https URL")
	ErrInvalidFeedback    = NewValidationError("feedback value must be between 1 and 5")
	ErrInvalidQuestion    = NewValidationError("question must be 1-500 characters")
	ErrContentTooLarge    = NewValidationError("payload exceeds 64KB limit")
)
