package memory

// Context scope modes: the granularity at which conversation memory is
// shared.
const (
	ScopeRoomUser = "room-user"
	ScopeRoom     = "room"
	ScopeThread   = "thread"
)

// ContextKey derives the memory key for a message given the configured
// scope. Unknown scopes fall back to room-user, the narrowest sharing
// granularity.
func ContextKey(scope, room, user, thread string) string {
	switch scope {
	case ScopeRoom:
		return "room:" + room
	case ScopeThread:
		if thread != "" {
			return "thread:" + thread
		}
		// Messages outside any thread share the room context.
		return "room:" + room
	default:
		return "room:" + room + ":user:" + user
	}
}
