package postgres

import "time"

// pgtimeNullable scans a nullable TIMESTAMPTZ column into a zero-value
// time.Time when the column is NULL, matching the domain types' own
// convention of using a zero time.Time for "not yet set"
// (Job.StartedAt, JobItem.ProcessingCompletedAt, etc).
type pgtimeNullable struct {
	Time time.Time
}

func (n *pgtimeNullable) Scan(src any) error {
	if src == nil {
		n.Time = time.Time{}
		return nil
	}
	t, ok := src.(time.Time)
	if !ok {
		return nil
	}
	n.Time = t
	return nil
}
