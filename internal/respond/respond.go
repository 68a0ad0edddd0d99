// Package respond maps command results onto protocol-level outcomes.
//
// The mapping is a pure function of the result - it never touches
// persistence or the network, and the status depends only on the worst
// severity present, never on outcome count or order.
package respond

import (
	"net/http"

	"github.com/prepline/manifest/internal/engine"
	"github.com/prepline/manifest/internal/ir"
)

// Body is the structured response body. Outcomes is present whenever the
// result carried any, success or not: a 200 can still carry warnings, and
// a 409 carries every applicable warning alongside the blocking reason.
type Body struct {
	Success  bool                       `json:"success"`
	Entity   string                     `json:"entity,omitempty"`
	Command  string                     `json:"command,omitempty"`
	Message  string                     `json:"message,omitempty"`
	Outcomes []engine.ConstraintOutcome `json:"outcomes,omitempty"`
	Events   []engine.EmittedEvent      `json:"events,omitempty"`
}

// Response is a protocol-level outcome: an HTTP-style status plus body.
type Response struct {
	Status int  `json:"status"`
	Body   Body `json:"body"`
}

// ToResponse converts a command result into a Response:
//
//	fatal            → 422
//	block            → 409
//	unknown command  → 404
//	warn/info only   → 200 with outcomes
//	clean success    → 200
func ToResponse(result engine.CommandResult) Response {
	switch result.Kind {
	case engine.KindNotFound:
		return Response{
			Status: http.StatusNotFound,
			Body: Body{
				Entity:  result.Entity,
				Command: result.Command,
				Message: "unknown command",
			},
		}
	case engine.KindAmbiguous:
		return Response{
			Status: http.StatusNotFound,
			Body: Body{
				Command: result.Command,
				Message: "command name matches multiple entities; specify one",
			},
		}
	}

	status := http.StatusOK
	switch result.MaxSeverity() {
	case ir.SeverityFatal:
		status = http.StatusUnprocessableEntity
	case ir.SeverityBlock:
		status = http.StatusConflict
	}

	return Response{
		Status: status,
		Body: Body{
			Success:  result.Success,
			Entity:   result.Entity,
			Command:  result.Command,
			Outcomes: result.Outcomes,
			Events:   result.Events,
		},
	}
}
