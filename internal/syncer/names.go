package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/rewired-gh/stakesync/internal/logger"
	"github.com/rewired-gh/stakesync/internal/remote"
)

// nameCache resolves user ids to display names for remote-edit notifications,
// falling back to a truncated id when the profile lookup fails.
type nameCache struct {
	client        *remote.Client
	profilesTable string

	mu    sync.Mutex
	names map[string]string
}

func newNameCache(client *remote.Client, profilesTable string) *nameCache {
	return &nameCache{
		client:        client,
		profilesTable: profilesTable,
		names:         make(map[string]string),
	}
}

func (n *nameCache) displayName(userID string) string {
	n.mu.Lock()
	if name, ok := n.names[userID]; ok {
		n.mu.Unlock()
		return name
	}
	n.mu.Unlock()

	name := truncateID(userID)
	if n.profilesTable != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		var rows []struct {
			DisplayName string `json:"display_name"`
		}
		err := n.client.Select(ctx, n.profilesTable, remote.Filter{"id": userID}, &rows)
		if err != nil {
			logger.Debug("Profile lookup for %s failed: %v", truncateID(userID), err)
		} else if len(rows) > 0 && rows[0].DisplayName != "" {
			name = rows[0].DisplayName
		}
	}

	n.mu.Lock()
	n.names[userID] = name
	n.mu.Unlock()
	return name
}

func truncateID(userID string) string {
	if len(userID) > 8 {
		return userID[:8]
	}
	return userID
}
