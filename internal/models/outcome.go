// internal/models/outcome.go
package models

// OutcomeKind discriminates UploadOutcome.
type OutcomeKind string

const (
	// OutcomeNone means there was nothing to upload.
	OutcomeNone OutcomeKind = "none"
	// OutcomeStored carries one file id per payload, in payload order.
	OutcomeStored OutcomeKind = "stored"
	// OutcomeInline tells the caller to embed every payload inline.
	OutcomeInline OutcomeKind = "inline"
)

// Fallback reasons reported with OutcomeInline.
const (
	FallbackIncompleteIdentity = "incomplete_identity"
	FallbackStorageUnavailable = "storage_unavailable"
	FallbackUploadFailed       = "upload_failed"
)

// UploadOutcome is either a list of storage references or the inline fallback, never both.
type UploadOutcome struct {
	Kind    OutcomeKind
	FileIDs []string
	Reason  string
}

// NoUpload is the outcome for a submission without images.
func NoUpload() UploadOutcome {
	return UploadOutcome{Kind: OutcomeNone}
}

// Stored builds a successful outcome.
func Stored(fileIDs []string) UploadOutcome {
	ids := make([]string, len(fileIDs))
	copy(ids, fileIDs)
	return UploadOutcome{Kind: OutcomeStored, FileIDs: ids}
}

// Inline builds the fallback outcome.
func Inline(reason string) UploadOutcome {
	return UploadOutcome{Kind: OutcomeInline, Reason: reason}
}

// IsFallback reports whether payloads must be embedded inline.
func (o UploadOutcome) IsFallback() bool {
	return o.Kind == OutcomeInline
}
