package engine

// Status is the terminal state of a mutation request.
type Status string

const (
	StatusCommitted  Status = "committed"
	StatusRolledBack Status = "rolled_back"
	StatusRejected   Status = "rejected"
	StatusBusy       Status = "busy"
	StatusCancelled  Status = "cancelled"
)

// Code classifies why a request did not commit cleanly.
type Code string

const (
	CodeNone            Code = ""
	CodeNotFound        Code = "not_found"
	CodeConflict        Code = "conflict"
	CodeAmbiguousTarget Code = "ambiguous_target"
	CodeInvalidInput    Code = "invalid_input"
	CodeApplyFailed     Code = "apply_failed"
	CodeReloadTimeout   Code = "reload_timeout"
	CodeVerifyFailed    Code = "verify_failed"
	CodeRevertFailed    Code = "revert_failed"
	CodeCancelled       Code = "cancelled"
	CodeBusy            Code = "busy"
	CodeSnapshotFailed  Code = "snapshot_failed"
)

// Result is the outcome of one mutation request. Detail is always set;
// AffectedIDs lists every remote record the request created or removed,
// including records left behind by a partial failure, so the caller has
// a cleanup path. SnapshotName is set whenever a checkpoint was taken.
type Result struct {
	Status       Status  `json:"status"`
	Code         Code    `json:"code,omitempty"`
	Detail       string  `json:"detail"`
	AffectedIDs  []int64 `json:"affected_ids,omitempty"`
	SnapshotName string  `json:"snapshot_name,omitempty"`
	// Reverted reports that a verify failure was automatically undone.
	Reverted bool `json:"reverted,omitempty"`
}

func rejected(code Code, detail string) *Result {
	return &Result{Status: StatusRejected, Code: code, Detail: detail}
}

func cancelled(detail string) *Result {
	return &Result{Status: StatusCancelled, Code: CodeCancelled, Detail: detail}
}

func busy(db string) *Result {
	return &Result{
		Status: StatusBusy,
		Code:   CodeBusy,
		Detail: "another mutation is in progress on database " + db,
	}
}

func committed(detail string, ids ...int64) *Result {
	return &Result{Status: StatusCommitted, Detail: detail, AffectedIDs: ids}
}
