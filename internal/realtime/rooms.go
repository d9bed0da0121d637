package realtime

import "sync"

const roomPrefix = "job_"

// RoomID derives the chat room of a job.
func RoomID(jobID string) string {
	return roomPrefix + jobID
}

// Rooms maps job ids to their chat room. Entries are created lazily and
// kept for the lifetime of the process.
type Rooms struct {
	mu    sync.RWMutex
	byJob map[string]string
}

func NewRooms() *Rooms {
	return &Rooms{byJob: make(map[string]string)}
}

// Ensure returns the room of jobID, creating it on first use.
func (r *Rooms) Ensure(jobID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if roomID, ok := r.byJob[jobID]; ok {
		return roomID
	}
	roomID := RoomID(jobID)
	r.byJob[jobID] = roomID
	return roomID
}

func (r *Rooms) Lookup(jobID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roomID, ok := r.byJob[jobID]
	return roomID, ok
}

func (r *Rooms) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byJob)
}
