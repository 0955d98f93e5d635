package instance

import "os"

// GetID identifies the running process in logs: the platform dyno name,
// then WORKER_ID, then "local".
func GetID() string {
	for _, key := range []string{"DYNO", "WORKER_ID"} {
		if id := os.Getenv(key); id != "" {
			return id
		}
	}
	return "local"
}
