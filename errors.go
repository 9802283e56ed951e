package voiceparts

import "fmt"

// ActionRequiredError is the engine's user-visible failure envelope: every
// non-fatal rejection (malformed plan, lint failure, validation failure)
// surfaces as one of these instead of a panic (spec §7).
type ActionRequiredError struct {
	Action  string
	Code    string
	Message string
	Context map[string]any
}

func (e *ActionRequiredError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Payload renders the error as the JSON-serializable envelope described in
// spec §6 ("Failure: {status: action_required, action, code, message, ...}").
func (e *ActionRequiredError) Payload() map[string]any {
	out := map[string]any{
		"status":  "action_required",
		"action":  e.Action,
		"code":    e.Code,
		"message": e.Message,
	}
	for k, v := range e.Context {
		out[k] = v
	}
	return out
}

func newActionRequired(code, message string, context ...map[string]any) *ActionRequiredError {
	err := &ActionRequiredError{Action: "action_required", Code: code, Message: message}
	if len(context) > 0 {
		err.Context = context[0]
	}
	return err
}

func withContext(err *ActionRequiredError, ctx map[string]any) *ActionRequiredError {
	out := *err
	merged := map[string]any{}
	for k, v := range out.Context {
		merged[k] = v
	}
	for k, v := range ctx {
		merged[k] = v
	}
	out.Context = merged
	return &out
}

// plainError is used internally by the Parser for checks that get wrapped
// into a structured ActionRequiredError by the caller; it carries no code
// of its own.
type plainError struct{ msg string }

func (e *plainError) Error() string { return e.msg }

func newPlainError(msg string) error { return &plainError{msg: msg} }

// InfeasibleAnchorError is raised by the (external) anchor-budget timing
// helper when a group cannot allocate at least one frame per phoneme; the
// core only knows how to translate it into an action_required payload
// (spec §7, original_source/src/api/timing_errors.py).
type InfeasibleAnchorError struct {
	Stage         string
	GroupIndex    int
	AnchorTotal   int
	PhonemeCount  int
	NoteIndex     *int
	Detail        string
}

func (e *InfeasibleAnchorError) Error() string {
	return fmt.Sprintf("%s: stage=%s group=%d anchor_total=%d phonemes=%d", e.Detail, e.Stage, e.GroupIndex, e.AnchorTotal, e.PhonemeCount)
}

// Payload mirrors the original's InfeasibleAnchorError.to_payload().
func (e *InfeasibleAnchorError) Payload() map[string]any {
	payload := map[string]any{
		"error_type":    "InfeasibleAnchorError",
		"stage":         e.Stage,
		"group_index":   e.GroupIndex,
		"anchor_total":  e.AnchorTotal,
		"phoneme_count": e.PhonemeCount,
		"detail":        e.Detail,
	}
	if e.NoteIndex != nil {
		payload["note_index"] = *e.NoteIndex
	}
	return payload
}

// BuildInfeasibleAnchorActionRequired exposes an InfeasibleAnchorError as
// the action_required envelope callers expect (spec §7).
func BuildInfeasibleAnchorActionRequired(err *InfeasibleAnchorError) *ActionRequiredError {
	ar := newActionRequired("infeasible_anchor_budget", err.Error())
	ar.Context = err.Payload()
	return ar
}
