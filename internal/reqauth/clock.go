package reqauth

import "time"

// acceptanceWindow is the ±5-minute timestamp tolerance from §4.5.
const acceptanceWindow = 5 * time.Minute

func nowUnixMillis() int64 {
	return time.Now().UnixMilli()
}
