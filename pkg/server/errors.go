package server

import (
	"fmt"
	"net/http"
)

// ValidationError is a malformed trigger request. Status is 400 for a
// missing parameter and 403 for a bound that is not an integer.
type ValidationError struct {
	Param  string
	Status int
	Msg    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Param, e.Msg)
}

// AuthorizationError is a trigger request with the wrong admin key.
type AuthorizationError struct{}

func (*AuthorizationError) Error() string { return "invalid key" }

func missing(param string) error {
	return &ValidationError{Param: param, Status: http.StatusBadRequest, Msg: "missing"}
}

func notInteger(param, value string) error {
	return &ValidationError{Param: param, Status: http.StatusForbidden, Msg: fmt.Sprintf("%q is not an integer", value)}
}
