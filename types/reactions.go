package types

import (
	"encoding/json"
	"sort"
)

// Reactions maps an emoji to the ids of the users that reacted with it. Each (emoji, user) pair appears at
// most once and the user lists are kept sorted.
type Reactions map[string][]string

// Add returns false if the user already reacted with emoji.
func (r Reactions) Add(emoji, userId string) bool {
	users := r[emoji]
	i := sort.SearchStrings(users, userId)
	if i < len(users) && users[i] == userId {
		return false
	}
	users = append(users, "")
	copy(users[i+1:], users[i:])
	users[i] = userId
	r[emoji] = users
	return true
}

// Remove returns false if there was nothing to remove. Emojis without users are dropped.
func (r Reactions) Remove(emoji, userId string) bool {
	users := r[emoji]
	i := sort.SearchStrings(users, userId)
	if i >= len(users) || users[i] != userId {
		return false
	}
	users = append(users[:i], users[i+1:]...)
	if len(users) == 0 {
		delete(r, emoji)
	} else {
		r[emoji] = users
	}
	return true
}

func (r Reactions) Has(emoji, userId string) bool {
	users := r[emoji]
	i := sort.SearchStrings(users, userId)
	return i < len(users) && users[i] == userId
}

// MarshalJSON never emits null, clients always get an object.
func (r Reactions) MarshalJSON() ([]byte, error) {
	if r == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string][]string(r))
}

func (r *Reactions) UnmarshalJSON(b []byte) error {
	t := map[string][]string{}
	if err := json.Unmarshal(b, &t); err != nil {
		return err
	}
	for emoji := range t {
		sort.Strings(t[emoji])
	}
	*r = Reactions(t)
	return nil
}
