package odoorpc

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoDatabase indicates a call that needs a database got none, either
	// as an argument or as the client default.
	ErrNoDatabase = errors.New("no database specified")
	// ErrAuthFailed indicates the server rejected the credentials.
	ErrAuthFailed = errors.New("authentication failed")
)

// Error is an Odoo RPC failure, either a server-side fault or a transport
// failure that survived retries.
type Error struct {
	Model      string
	Method     string
	FaultCode  string
	Message    string
	Suggestion string
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Model != "" || e.Method != "" {
		fmt.Fprintf(&b, "odoo rpc %s.%s: ", e.Model, e.Method)
	} else {
		b.WriteString("odoo rpc: ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// faultSuggestions maps known Odoo fault markers to actionable hints. The
// fault string usually carries a Python traceback; we match on the exception
// class name embedded in it.
var faultSuggestions = []struct {
	marker     string
	code       string
	suggestion string
}{
	{"AccessDenied", "AccessDenied", "Check credentials or user permissions."},
	{"AccessError", "AccessError", "Current user lacks permission. Try admin or check access rights."},
	{"MissingError", "MissingError", "The record may have been deleted. Refresh your data."},
	{"ValidationError", "ValidationError", "A required field is missing or invalid. Check constraints."},
	{"UserError", "UserError", "Operation not allowed in current state. Check workflow."},
	{"UniqueViolation", "UniqueViolation", "A record with this value already exists."},
	{"ForeignKeyViolation", "ForeignKeyViolation", "Record is referenced by others. Remove dependents first."},
}

const maxFaultLen = 500

func newFaultError(model, method, fault string) *Error {
	msg := fault
	if len(msg) > maxFaultLen {
		msg = msg[:maxFaultLen]
	}
	e := &Error{Model: model, Method: method, FaultCode: "RPC_ERROR", Message: msg}
	for _, s := range faultSuggestions {
		if strings.Contains(fault, s.marker) {
			e.FaultCode = s.code
			e.Suggestion = s.suggestion
			return e
		}
	}
	e.Suggestion = "Check the service logs for details."
	return e
}
