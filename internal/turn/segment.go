package turn

import "github.com/Gokhulnath/Manus/internal/models"

// Segment returns the messages strictly after the last user message in
// history. When history holds no user message the whole history is
// returned and found is false; callers should treat that as suspicious,
// since it replays an entire past conversation as the current turn.
func Segment(history []models.Message) (segment []models.Message, found bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == models.RoleUser {
			return history[i+1:], true
		}
	}
	return history, false
}

// SegmentAfter returns the messages strictly after the user message with
// id userID. If that message is not in history yet, the segment is empty:
// whatever follows an older user message belongs to an older turn. An
// empty userID falls back to Segment.
func SegmentAfter(history []models.Message, userID string) (segment []models.Message, found bool) {
	if userID == "" {
		return Segment(history)
	}
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].ID == userID {
			return history[i+1:], true
		}
	}
	return nil, false
}
