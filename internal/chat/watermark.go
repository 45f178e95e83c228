package chat

// Watermarks stores the per-activity "last viewed" time, in unix
// milliseconds, for the current user. Reads of an activity never viewed
// return 0.
type Watermarks interface {
	Get(activityID string) int64
	Set(activityID string, ms int64)
}

// WatermarkKey is the storage key of an activity's watermark.
func WatermarkKey(activityID string) string {
	return "last_viewed_" + activityID
}
