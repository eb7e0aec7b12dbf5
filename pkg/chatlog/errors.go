package chatlog

import "errors"

var (
	ErrInvalidEventForChat   = errors.New("chatlog: event not valid for this chat")
	ErrInvalidEventForThread = errors.New("chatlog: only messages may be added to a thread")
	ErrMessageIDAlreadyUsed  = errors.New("chatlog: message id already used")
	ErrThreadRootNotFound    = errors.New("chatlog: thread root message not found")
	ErrMessageNotFound       = errors.New("chatlog: message not found")
	ErrInvalidLimit          = errors.New("chatlog: at least one of max events and max messages must be set")
	ErrNotAuthorized         = errors.New("chatlog: not authorized")
	ErrMessageDeleted        = errors.New("chatlog: message is deleted")
	ErrMessageNotDeleted     = errors.New("chatlog: message is not deleted")
	ErrImportConflict        = errors.New("chatlog: imported event conflicts with stored event")
	ErrInvalidImport         = errors.New("chatlog: invalid imported event")
)
