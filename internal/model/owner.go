package model

import (
	"errors"
	"fmt"
)

var ErrInvalidOwner = errors.New("owner must carry exactly one of userId or sessionId")

// Owner is the mutually exclusive attribution of a selection or analysis.
type Owner struct {
	UserID    string
	SessionID string
}

func UserOwner(userID string) Owner {
	return Owner{UserID: userID}
}

func SessionOwner(sessionID string) Owner {
	return Owner{SessionID: sessionID}
}

func (o Owner) IsUser() bool {
	return o.UserID != ""
}

func (o Owner) Validate() error {
	if (o.UserID == "") == (o.SessionID == "") {
		return ErrInvalidOwner
	}
	return nil
}

// Key identifies the owner in cache keys and event channels.
func (o Owner) Key() string {
	if o.IsUser() {
		return fmt.Sprintf("user:%s", o.UserID)
	}
	return fmt.Sprintf("session:%s", o.SessionID)
}

// Columns returns the nullable user_id and session_id column values.
func (o Owner) Columns() (userID, sessionID *string) {
	if o.IsUser() {
		id := o.UserID
		return &id, nil
	}
	id := o.SessionID
	return nil, &id
}
