package types

import (
	"regexp"
	"strings"
)

type RoomKind string

const (
	RoomKindClub  RoomKind = "CLUB"
	RoomKindDJ    RoomKind = "DJ"
	RoomKindAdhoc RoomKind = "ADHOC"
)

var roomIdPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

// ValidRoomId reports whether id is usable as a room identifier.
func ValidRoomId(id string) bool {
	return roomIdPattern.MatchString(id)
}

// ClubRoomID is the room of a club's chat.
func ClubRoomID(clubId string) string {
	return "club-" + clubId
}

// DJRoomID is the fan room of a DJ's live set.
func DJRoomID(djId string) string {
	return "live-" + djId
}

// RoomKindOf classifies a room id by its naming convention. All kinds behave the same in the chat core.
func RoomKindOf(roomId string) RoomKind {
	switch {
	case strings.HasPrefix(roomId, "club-"):
		return RoomKindClub
	case strings.HasPrefix(roomId, "live-"), strings.HasPrefix(roomId, "dj-"):
		return RoomKindDJ
	}
	return RoomKindAdhoc
}
