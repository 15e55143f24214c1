package ir

// Collection names a partition of mirrored records.
type Collection string

const (
	CollectionSOS      Collection = "sos"
	CollectionRescuers Collection = "rescuers"
)

// RowID is the remote row key for a record: "<collection>_<recordId>".
func (c Collection) RowID(recordID string) string {
	return string(c) + "_" + recordID
}
