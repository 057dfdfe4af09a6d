package stdio

import (
	"errors"
	"os/user"
)

// UserProvider resolves the principal for the stdio peer. No bearer token is
// exchanged over stdio; whoever can write to the process's input acts as
// this user.
type UserProvider interface {
	CurrentUserID() (string, error)
}

// OSUserProvider uses the operating system's current user: the username when
// set, otherwise the numeric uid.
type OSUserProvider struct{}

func (OSUserProvider) CurrentUserID() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", err
	}
	if u.Username != "" {
		return u.Username, nil
	}
	return u.Uid, nil
}

// StaticUser is a UserProvider that always returns itself.
type StaticUser string

func (s StaticUser) CurrentUserID() (string, error) {
	if s == "" {
		return "", errors.New("empty user id")
	}
	return string(s), nil
}
