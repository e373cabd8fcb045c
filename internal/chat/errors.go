package chat

import "errors"

// ErrNotFound reports that the requested chat does not exist. Storage
// failures are never mapped onto it; callers can rely on errors.Is to
// tell "no chat yet" from "read failed".
var ErrNotFound = errors.New("chat not found")

// ErrTerminalStatus reports an attempt to mutate a chat whose status is
// complete or error. Finished chats are not reopened; a new chat number
// must be allocated instead.
var ErrTerminalStatus = errors.New("chat status is terminal")
