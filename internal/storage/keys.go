package storage

import (
	"fmt"
	"strings"
	"time"
)

// PartitionKey is the date-derived object prefix of one run, e.g. "2026/02/05/".
type PartitionKey string

// NewPartitionKey derives the partition prefix from a run's logical date.
func NewPartitionKey(date time.Time) PartitionKey {
	return PartitionKey(date.Format("2006/01/02/"))
}

// ObjectName returns the destination object name for a staged file.
func (k PartitionKey) ObjectName(fileName string) string {
	return string(k) + fileName
}

// EntityObject returns the object holding one entity of the partition.
func (k PartitionKey) EntityObject(entity, extension string) string {
	return k.ObjectName(entity + extension)
}

func (k PartitionKey) String() string {
	return string(k)
}

// ObjectURL returns the HTTP(S) location of an object, path-style.
func ObjectURL(endpoint string, useSSL bool, bucket, name string) string {
	scheme := "http"
	if useSSL {
		scheme = "https"
	}
	endpoint = strings.TrimSuffix(endpoint, "/")
	return fmt.Sprintf("%s://%s/%s/%s", scheme, endpoint, bucket, name)
}
