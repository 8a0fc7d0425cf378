package model

// Outcome is the in-memory result of dispatching one target. It is
// projected onto the Target and never stored on its own.
type Outcome struct {
	TargetID       int64
	Success        bool
	PlatformPostID string
	ErrorMessage   string
	// Kind is the error kind name for failures, empty on success.
	Kind string
	// FollowUpFailed marks a published target whose follow-up comment
	// could not be posted. It never turns a success into a failure.
	FollowUpFailed bool
	// AlreadyPublished marks a target that was published by an earlier
	// run and skipped by this one. Its row is left untouched.
	AlreadyPublished bool
}

func Succeeded(targetID int64, postID string) Outcome {
	return Outcome{TargetID: targetID, Success: true, PlatformPostID: postID}
}

func Failed(targetID int64, kind, msg string) Outcome {
	return Outcome{TargetID: targetID, Kind: kind, ErrorMessage: msg}
}

// Carried reports a target published by an earlier run as a success.
func Carried(t Target) Outcome {
	o := Outcome{TargetID: t.ID, Success: true, AlreadyPublished: true}
	if t.PlatformPostID != nil {
		o.PlatformPostID = *t.PlatformPostID
	}
	return o
}
