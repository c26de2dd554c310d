// Package helper manages the native OS-helper subprocess that supplies
// contextual data to the dictation pipeline: the accessibility snapshot
// around the text cursor, permission state, and text insertion.
//
// Communication is newline-delimited JSON over the helper's stdio:
//
//	Request:  {"id": "<uuid>", "method": "<name>", "params": {...}}
//	Response: {"id": "<uuid>", "result": {...}} | {"id": "<uuid>", "error": {...}}
//	Event:    {"event": "<name>", ...}   (unsolicited)
//
// The [Bridge] supervises the subprocess: a crash (any exit other than a
// clean exit 0 or an intentional termination) is recorded and triggers a
// bounded auto-restart, capping restart storms from a persistently broken
// helper while tolerating transient crashes. While the helper is down,
// outbound calls fail immediately rather than queuing.
package helper

import (
	"encoding/json"
	"fmt"
)

// request is the outbound JSON-RPC wire shape.
type request struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// response is the inbound JSON-RPC wire shape.
type response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

// RPCError is a structured error returned by the helper.
type RPCError struct {
	Message string          `json:"message"`
	Code    int             `json:"code,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("helper: rpc error %d: %s", e.Code, e.Message)
	}
	return "helper: rpc error: " + e.Message
}

// ---- typed call variants ----------------------------------------------------

// call is the tagged union of supported outbound methods. Every variant maps
// to exactly one wire method name in methodName, whose switch is exhaustive
// over these types — adding a variant without extending the switch is a
// compile-time visible omission at the call site.
type call interface {
	isCall()
}

// snapshotCall requests the accessibility snapshot around the text cursor.
type snapshotCall struct{}

// permissionCall queries the grant state of one OS permission.
type permissionCall struct {
	Permission Permission `json:"permission"`
}

// insertTextCall asks the helper to insert text at the cursor position.
type insertTextCall struct {
	Text string `json:"text"`
}

func (snapshotCall) isCall()   {}
func (permissionCall) isCall() {}
func (insertTextCall) isCall() {}

// methodName maps a call variant to its wire method name.
func methodName(c call) string {
	switch c.(type) {
	case snapshotCall:
		return "accessibility.snapshot"
	case permissionCall:
		return "permission.check"
	case insertTextCall:
		return "text.insert"
	default:
		// Unreachable while the switch covers every call variant.
		panic(fmt.Sprintf("helper: unknown call variant %T", c))
	}
}

// Permission identifies an OS permission the helper can query.
type Permission string

const (
	// PermissionAccessibility is the OS accessibility / input-monitoring grant
	// required for cursor-context snapshots and text insertion.
	PermissionAccessibility Permission = "accessibility"

	// PermissionMicrophone is the microphone capture grant.
	PermissionMicrophone Permission = "microphone"
)

// AccessibilitySnapshot is the contextual data around the user's text cursor
// at the moment a dictation session starts.
type AccessibilitySnapshot struct {
	// FocusedApp is the bundle or executable name of the frontmost app.
	FocusedApp string `json:"focused_app"`

	// TextBeforeCursor is the text preceding the insertion point in the
	// focused text field, possibly truncated by the helper.
	TextBeforeCursor string `json:"text_before_cursor"`

	// TextAfterCursor is the text following the insertion point.
	TextAfterCursor string `json:"text_after_cursor"`

	// SelectedText is the current selection, if any.
	SelectedText string `json:"selected_text"`
}

// ---- typed push events ------------------------------------------------------

// Event is the interface implemented by all helper push events. Inbound
// lines that do not correlate with a pending request are decoded into one of
// these typed payloads and re-emitted on [Bridge.Events]; they are not
// treated as errors.
type Event interface {
	isHelperEvent()
}

// StatusEvent reports an unsolicited helper status change (e.g. "ready").
type StatusEvent struct {
	Status string `json:"status"`
}

// PermissionEvent reports an OS permission grant change observed by the
// helper.
type PermissionEvent struct {
	Permission Permission `json:"permission"`
	Granted    bool       `json:"granted"`
}

// CrashEvent is emitted by the bridge itself when the helper exits
// abnormally.
type CrashEvent struct {
	Exit ExitStatus
}

// FailureEvent is emitted by the bridge when the restart budget is exhausted
// and the helper will not be restarted again.
type FailureEvent struct {
	Restarts int
}

func (StatusEvent) isHelperEvent()     {}
func (PermissionEvent) isHelperEvent() {}
func (CrashEvent) isHelperEvent()      {}
func (FailureEvent) isHelperEvent()    {}

// eventEnvelope is the generic inbound push-event shape: a discriminator
// plus the raw payload for the typed decode.
type eventEnvelope struct {
	Event string `json:"event"`
}

// parseEvent decodes line into a typed event. ok is false when the line does
// not carry a recognised event discriminator.
func parseEvent(line []byte) (Event, bool) {
	var env eventEnvelope
	if err := json.Unmarshal(line, &env); err != nil || env.Event == "" {
		return nil, false
	}
	switch env.Event {
	case "status":
		var ev StatusEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, false
		}
		return ev, true
	case "permission":
		var ev PermissionEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, false
		}
		return ev, true
	default:
		return nil, false
	}
}
