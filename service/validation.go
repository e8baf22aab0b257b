package service

import (
	"fmt"
	"strings"

	"xasdb/orm"
	"xasdb/xdi"
)

// AttachmentUpload is one auxiliary file submitted alongside a dataset.
type AttachmentUpload struct {
	Description string
	Filename    string
	Content     []byte
}

func (a AttachmentUpload) empty() bool {
	return strings.TrimSpace(a.Description) == "" &&
		strings.TrimSpace(a.Filename) == "" &&
		len(a.Content) == 0
}

// filterEmptyAttachments drops fully empty entries; description and file
// are optional only as a pair.
func filterEmptyAttachments(batch []AttachmentUpload) []AttachmentUpload {
	kept := make([]AttachmentUpload, 0, len(batch))
	for _, a := range batch {
		if !a.empty() {
			kept = append(kept, a)
		}
	}

	return kept
}

// validateAttachmentBatch checks a whole batch against itself and against
// the dataset's existing attachments, and returns the full set of violated
// constraints rather than stopping at the first.
func validateAttachmentBatch(batch []AttachmentUpload, existing []orm.Attachment) []string {
	var violations []string

	seenDescriptions := map[string]bool{}
	seenFilenames := map[string]bool{}
	for _, a := range existing {
		seenDescriptions[a.Description] = true
		seenFilenames[a.Filename] = true
	}

	for i, a := range batch {
		description := strings.TrimSpace(a.Description)
		filename := strings.TrimSpace(a.Filename)

		if description == "" {
			violations = append(violations, fmt.Sprintf("attachment %d: description is required", i+1))
		}
		if filename == "" {
			violations = append(violations, fmt.Sprintf("attachment %d: file is required", i+1))
		}
		if int64(len(a.Content)) > xdi.MaxFileSize {
			violations = append(violations,
				fmt.Sprintf("attachment %d: file size %d exceeds limit of %d bytes", i+1, len(a.Content), int64(xdi.MaxFileSize)))
		}

		if description != "" {
			if seenDescriptions[description] {
				violations = append(violations, fmt.Sprintf("duplicate attachment description %q", description))
			}
			seenDescriptions[description] = true
		}
		if filename != "" {
			if seenFilenames[filename] {
				violations = append(violations, fmt.Sprintf("duplicate attachment filename %q", filename))
			}
			seenFilenames[filename] = true
		}
	}

	return violations
}
