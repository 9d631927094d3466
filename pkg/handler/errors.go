package handler

import "fmt"

// ParameterError reports a request whose parameters were missing or
// malformed. It is raised before any storage access and rendered with the
// parameter-error envelope status.
type ParameterError struct {
	Message string
}

func (e *ParameterError) Error() string {
	return e.Message
}

// MessageNotFoundError reports a lookup for an identifier that matched no
// stored message. ID echoes the identifier exactly as the client supplied
// it.
type MessageNotFoundError struct {
	Message string
	ID      interface{}
}

// NewMessageNotFoundError builds the not-found error for the given raw
// identifier.
func NewMessageNotFoundError(id interface{}) *MessageNotFoundError {
	return &MessageNotFoundError{
		Message: "No message found matching provided ID",
		ID:      id,
	}
}

func (e *MessageNotFoundError) Error() string {
	return fmt.Sprintf("%s (%v)", e.Message, e.ID)
}
