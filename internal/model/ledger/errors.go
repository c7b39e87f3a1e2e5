package ledger

import "github.com/pkg/errors"

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrPageNotFound    = errors.New("page not found")
	ErrNoActiveSession = errors.New("no active session")
	ErrSessionClosed   = errors.New("session is closed")
	ErrDuplicateCommit = errors.New("page already committed")
	ErrDuplicatePage   = errors.New("page id already assigned")
	ErrCorruptPage     = errors.New("corrupt page")
	ErrNotResponse     = errors.New("page is not a response")
)
