package repositories

type ErrNotFound struct {
}

func (e *ErrNotFound) Error() string {
	return "not found"
}

func IsNotFound(err error) bool {
	_, ok := err.(*ErrNotFound)
	return ok
}

type ErrSessionFull struct {
	SessionID string
}

func (e *ErrSessionFull) Error() string {
	return "session " + e.SessionID + " is full"
}

func IsSessionFull(err error) bool {
	_, ok := err.(*ErrSessionFull)
	return ok
}

type ErrSessionLocked struct {
	SessionID string
}

func (e *ErrSessionLocked) Error() string {
	return "session " + e.SessionID + " is locked"
}

func IsSessionLocked(err error) bool {
	_, ok := err.(*ErrSessionLocked)
	return ok
}
