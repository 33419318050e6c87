package redis

import "fmt"

// Key prefix for all server data
const keyPrefix = "starlane"

// cookieKey returns the Redis key for a cookie entry
func cookieKey(token string) string {
	return fmt.Sprintf("%s:cookie:%s", keyPrefix, token)
}

// cookieIndexKey returns the Redis key for the SET of live cookie tokens
func cookieIndexKey() string {
	return fmt.Sprintf("%s:idx:cookies", keyPrefix)
}

// credentialKey returns the Redis key for a player credential
func credentialKey(playerName string) string {
	return fmt.Sprintf("%s:credential:%s", keyPrefix, playerName)
}

// saveMetaKey returns the Redis key for save-game metadata
func saveMetaKey(id string) string {
	return fmt.Sprintf("%s:save:meta:%s", keyPrefix, id)
}

// saveDataKey returns the Redis key for the opaque save-game blob
func saveDataKey(id string) string {
	return fmt.Sprintf("%s:save:data:%s", keyPrefix, id)
}

// saveIndexKey returns the Redis key for the SET of save-game ids
func saveIndexKey() string {
	return fmt.Sprintf("%s:idx:saves", keyPrefix)
}
