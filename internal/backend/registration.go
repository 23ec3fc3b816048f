package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/DoyleJ11/ecosmart-kiosk/internal/engine"
)

var ErrInvalidRegistration = errors.New("invalid registration")
var ErrAlreadyRegistered = errors.New("rfid already registered")

var upper = cases.Upper(language.Und)

// NormalizeUID trims and upper-cases a card id the way the backend stores it.
func NormalizeUID(uid string) string {
	return upper.String(strings.TrimSpace(uid))
}

type NewUser struct {
	RFIDUID  string      `json:"rfid_uid"`
	Name     string      `json:"name"`
	Username string      `json:"username"`
	Prodi    string      `json:"prodi"`
	Role     engine.Role `json:"role"`
}

// Normalize returns a cleaned copy and reports the first missing field.
func (u NewUser) Normalize() (NewUser, error) {
	u.RFIDUID = NormalizeUID(u.RFIDUID)
	u.Name = strings.TrimSpace(u.Name)
	u.Username = strings.TrimSpace(u.Username)
	u.Prodi = strings.TrimSpace(u.Prodi)
	if !u.Role.Valid() {
		u.Role = engine.RoleUser
	}

	switch {
	case u.RFIDUID == "":
		return u, fmt.Errorf("%w: rfid_uid required", ErrInvalidRegistration)
	case u.Name == "":
		return u, fmt.Errorf("%w: name required", ErrInvalidRegistration)
	case u.Username == "":
		return u, fmt.Errorf("%w: username required", ErrInvalidRegistration)
	}
	return u, nil
}

type CreateUserResult struct {
	Status  string          `json:"status"`
	Message string          `json:"message,omitempty"`
	User    json.RawMessage `json:"user,omitempty"`
}

// CreateUser registers a new card holder. Only the registration screen uses
// it; the synchronizer never does.
func (c *Client) CreateUser(ctx context.Context, u NewUser) (CreateUserResult, error) {
	u, err := u.Normalize()
	if err != nil {
		return CreateUserResult{}, err
	}
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	var res CreateUserResult
	err = c.postJSON(ctx, "/api/create-user", u, &res)

	var se *StatusError
	switch {
	case errors.As(err, &se) && se.Code == http.StatusConflict:
		return CreateUserResult{Status: "error", Message: se.Message}, fmt.Errorf("%w: %s", ErrAlreadyRegistered, u.RFIDUID)
	case errors.As(err, &se) && se.Code == http.StatusBadRequest:
		return CreateUserResult{Status: "error", Message: se.Message}, fmt.Errorf("%w: %s", ErrInvalidRegistration, se.Message)
	case err != nil:
		return CreateUserResult{}, fmt.Errorf("%w: create user: %w", ErrBackend, err)
	}
	return res, nil
}
