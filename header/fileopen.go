package header

// FileOpenResult is the outcome of opening and validating a map file's
// header. A zero value (Success=false, ErrorMessage="") never occurs: use
// SuccessResult or NewFailure.
type FileOpenResult struct {
	Success      bool
	ErrorMessage string
}

// SuccessResult is the canonical successful FileOpenResult.
var SuccessResult = FileOpenResult{Success: true}

// NewFailure builds a failed FileOpenResult carrying a human-readable
// reason, matching the Java source's `new FileOpenResult(reason)`.
func NewFailure(reason string) FileOpenResult {
	return FileOpenResult{Success: false, ErrorMessage: reason}
}

func (r FileOpenResult) IsSuccess() bool {
	return r.Success
}
