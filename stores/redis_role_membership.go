package stores

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/carevault/accessctl"
)

// RedisRoleMembershipStore stores subject->roles in Redis sets
// (key: rolemem:{subjectID}).
type RedisRoleMembershipStore struct {
	client *redis.Client
	keyFmt string // format string, e.g. "rolemem:%s"
}

func NewRedisRoleMembershipStore(client *redis.Client) *RedisRoleMembershipStore {
	return &RedisRoleMembershipStore{client: client, keyFmt: "rolemem:%s"}
}

func (r *RedisRoleMembershipStore) key(subjectID string) string {
	return fmt.Sprintf(r.keyFmt, subjectID)
}

func (r *RedisRoleMembershipStore) AssignRole(ctx context.Context, subjectID, role string) error {
	return r.client.SAdd(ctx, r.key(subjectID), role).Err()
}

func (r *RedisRoleMembershipStore) RevokeRole(ctx context.Context, subjectID, role string) error {
	return r.client.SRem(ctx, r.key(subjectID), role).Err()
}

func (r *RedisRoleMembershipStore) ListRoles(ctx context.Context, subjectID string) ([]string, error) {
	return r.client.SMembers(ctx, r.key(subjectID)).Result()
}

// ListMemberships walks every rolemem:* key and flattens the sets into
// (subject, role) pairs for the role cache bulk load.
func (r *RedisRoleMembershipStore) ListMemberships(ctx context.Context) ([]accessctl.RoleMembership, error) {
	pattern := fmt.Sprintf(r.keyFmt, "*")
	prefix := strings.TrimSuffix(pattern, "*")
	out := make([]accessctl.RoleMembership, 0)
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			subjectID := strings.TrimPrefix(key, prefix)
			roles, err := r.client.SMembers(ctx, key).Result()
			if err != nil {
				return nil, err
			}
			for _, role := range roles {
				out = append(out, accessctl.RoleMembership{SubjectID: subjectID, Role: role})
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return out, nil
}
