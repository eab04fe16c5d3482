package runtime

// Outcome classifies how a session ended.
type Outcome string

// Session outcomes.
const (
	// OutcomeSuccess means the stream ended cleanly and every action completed.
	OutcomeSuccess Outcome = "success"
	// OutcomeActionFailed means at least one action failed.
	OutcomeActionFailed Outcome = "action_failed"
	// OutcomeIncomplete means a message ended inside an artifact, an action
	// or a partial tag.
	OutcomeIncomplete Outcome = "incomplete"
	// OutcomeAborted means the session context was cancelled.
	OutcomeAborted Outcome = "aborted"
	// OutcomeSandboxError means the sandbox failed to initialize.
	OutcomeSandboxError Outcome = "sandbox_error"
	// OutcomeStreamError means the input could not be read or decoded.
	OutcomeStreamError Outcome = "stream_error"
	// OutcomePolicyError means the policy rejected a submission.
	OutcomePolicyError Outcome = "policy_error"
)

// Exit codes returned by the CLI for each outcome.
const (
	ExitCodeSuccess      = 0   // success
	ExitCodeActionFailed = 1   // action_failed
	ExitCodeError        = 2   // stream, sandbox or policy error
	ExitCodeIncomplete   = 3   // incomplete
	ExitCodeAborted      = 130 // aborted (SIGINT convention)
)

// ExitCode maps an outcome to the CLI exit code.
func (o Outcome) ExitCode() int {
	switch o {
	case OutcomeSuccess:
		return ExitCodeSuccess
	case OutcomeActionFailed:
		return ExitCodeActionFailed
	case OutcomeIncomplete:
		return ExitCodeIncomplete
	case OutcomeAborted:
		return ExitCodeAborted
	default:
		return ExitCodeError
	}
}

// determineOutcome applies outcome precedence: a cancelled session is
// aborted whatever else happened, then fatal errors, then an incomplete
// stream, then action failures.
func determineOutcome(sessErr error, incomplete bool, failed int) (Outcome, string) {
	switch {
	case IsCanceledError(sessErr):
		return OutcomeAborted, "session aborted"
	case IsSandboxError(sessErr):
		return OutcomeSandboxError, sessErr.Error()
	case IsStreamError(sessErr):
		return OutcomeStreamError, sessErr.Error()
	case IsPolicyError(sessErr):
		return OutcomePolicyError, sessErr.Error()
	case incomplete:
		return OutcomeIncomplete, "stream ended inside an artifact or action"
	case failed > 0:
		return OutcomeActionFailed, "one or more actions failed"
	default:
		return OutcomeSuccess, "session completed successfully"
	}
}
