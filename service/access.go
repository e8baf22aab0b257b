package service

import "xasdb/orm"

// canRead evaluates the read decision table: owners and privileged actors
// always read their datasets; everyone else, anonymous included, only reads
// Approved ones.
func canRead(dataset *orm.Dataset, actor Actor) bool {
	if actor.Privileged {
		return true
	}
	if actor.Authenticated && actor.ID == dataset.UploaderID {
		return true
	}

	return dataset.ReviewStatus == orm.ReviewApproved
}

// canDownload requires read eligibility plus authentication: anonymous
// callers never download, even Approved content.
func canDownload(dataset *orm.Dataset, actor Actor) bool {
	return actor.Authenticated && canRead(dataset, actor)
}
