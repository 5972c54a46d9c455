package cascade

import (
	"errors"
	"fmt"
)

var ErrUnknownEventKind = errors.New("unknown event kind")

// Kind names a tag event.
type Kind string

const (
	Test       Kind = "test"
	LostSignal Kind = "lost_signal"
	Moved      Kind = "moved"
	Unmask     Kind = "unmask"
)

type kindInfo struct {
	code int
	text string
}

var kinds = map[Kind]kindInfo{
	Test:       {0, " test"},
	LostSignal: {1, " lost signal"},
	Moved:      {2, " moved"},
	Unmask:     {3, " unmasked"},
}

// Code returns the numeric cause stored on events.
func (k Kind) Code() (int, error) {
	info, ok := kinds[k]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownEventKind, string(k))
	}
	return info.code, nil
}

// Display returns the text appended to the tag name to form an event name.
func (k Kind) Display() (string, error) {
	info, ok := kinds[k]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownEventKind, string(k))
	}
	return info.text, nil
}

// KindByCode maps a stored cause back to its kind.
func KindByCode(code int) (Kind, error) {
	for k, info := range kinds {
		if info.code == code {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: code %d", ErrUnknownEventKind, code)
}
