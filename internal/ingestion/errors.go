package ingestion

import (
	"fmt"
	"strings"

	"github.com/prism-lake/ecommerce-etl/internal/model"
)

// RetrievalError reports a failed download or unpack of the source dataset.
type RetrievalError struct {
	Dataset model.Dataset
	Err     error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieve %s: %v", e.Dataset, e.Err)
}

func (e *RetrievalError) Unwrap() error {
	return e.Err
}

// UploadError reports the files that could not be uploaded. Objects uploaded
// before the failure stay in the bucket.
type UploadError struct {
	Failed []Outcome
	Err    error
}

func (e *UploadError) Error() string {
	if len(e.Failed) == 0 {
		return fmt.Sprintf("upload: %v", e.Err)
	}
	objects := make([]string, len(e.Failed))
	for i, o := range e.Failed {
		objects[i] = o.Object
	}
	return fmt.Sprintf("upload %s: %v", strings.Join(objects, ", "), e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// IncompletePartitionError reports configured entities with no object in the
// partition after a run.
type IncompletePartitionError struct {
	Partition string
	Missing   []string
}

func (e *IncompletePartitionError) Error() string {
	return fmt.Sprintf("partition %s is missing entities: %s", e.Partition, strings.Join(e.Missing, ", "))
}
