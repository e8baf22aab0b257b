package service

import (
	"errors"
	"strings"

	"xasdb/orm"
)

// ForbiddenError reports an unauthorized mutation or download attempt. The
// request is never partially applied.
type ForbiddenError struct {
	Action string
}

func (e *ForbiddenError) Error() string {
	return "actor is not allowed to " + e.Action
}

// NotFoundError is all an unprivileged caller learns about a dataset or
// attachment it may not see: not accessible, or does not exist.
type NotFoundError struct {
	Ref string
}

func (e *NotFoundError) Error() string {
	return "not accessible or does not exist: " + e.Ref
}

// UniquenessError aggregates every constraint an attachment batch violated
// during ingestion, so the caller can present all of them at once.
type UniquenessError struct {
	Violations []string
}

func (e *UniquenessError) Error() string {
	return "invalid attachment batch: " + strings.Join(e.Violations, "; ")
}

// ValidationError aggregates every constraint a review/metadata update
// violated. Nothing applies when it is returned.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "invalid update: " + strings.Join(e.Violations, "; ")
}

// ConflictError reports a lost optimistic-concurrency race on a
// review/metadata update.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string {
	return "conflicting concurrent update: " + e.Reason
}

// wrapStoreError converts store-level errors into the public taxonomy.
func wrapStoreError(err error, ref string) error {
	if err == nil {
		return nil
	}

	var notFound *orm.NotFoundError
	if errors.As(err, &notFound) {
		return &NotFoundError{Ref: ref}
	}

	var conflict *orm.ConflictError
	if errors.As(err, &conflict) {
		return &ConflictError{Reason: conflict.Conflict}
	}

	return err
}
