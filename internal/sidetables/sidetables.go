// Package sidetables reads the two external-state tables
// (enabled_tag_keys, cost_category_rules) once per run, with an optional
// Redis cache so repeated runs against the same org within a short TTL
// skip the Postgres round-trip.
package sidetables

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/jordigilh/ocpaggregator/internal/aggregate"
	"github.com/jordigilh/ocpaggregator/internal/ocperrors"
)

const cacheTTL = 5 * time.Minute

// Store reads the side tables from a *sql.DB and optionally caches them in
// Redis, keyed by org-id.
type Store struct {
	db     *sql.DB
	schema string
	redis  *redis.Client
}

// New constructs a Store. redisClient may be nil, in which case every read
// goes straight to Postgres.
func New(db *sql.DB, schema string, redisClient *redis.Client) *Store {
	return &Store{db: db, schema: schema, redis: redisClient}
}

// EnabledTagKeys reads reporting_ocpenabledtagkeys where enabled = true.
func (s *Store) EnabledTagKeys(ctx context.Context, orgID string) ([]string, error) {
	cacheKey := "ocpaggregator:tagkeys:" + orgID
	if s.redis != nil {
		if cached, err := s.redis.Get(ctx, cacheKey).Result(); err == nil {
			var keys []string
			if jsonErr := json.Unmarshal([]byte(cached), &keys); jsonErr == nil {
				log.Debug().Str("org_id", orgID).Msg("enabled tag keys served from redis cache")
				return keys, nil
			}
		}
	}

	query := fmt.Sprintf(`SELECT key FROM %s.reporting_ocpenabledtagkeys WHERE enabled = true`, pqIdent(s.schema))
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, ocperrors.NewConnectivity("failed to read enabled_tag_keys", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, ocperrors.NewSchema("failed to scan enabled_tag_keys row", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, ocperrors.NewConnectivity("error iterating enabled_tag_keys", err)
	}

	if s.redis != nil {
		if encoded, err := json.Marshal(keys); err == nil {
			s.redis.Set(ctx, cacheKey, encoded, cacheTTL)
		}
	}
	return keys, nil
}

// CostCategoryRules reads reporting_ocp_cost_category in full; there is no
// enabled flag to filter on.
func (s *Store) CostCategoryRules(ctx context.Context, orgID string) ([]aggregate.CostCategoryRule, error) {
	cacheKey := "ocpaggregator:costcategory:" + orgID
	if s.redis != nil {
		if cached, err := s.redis.Get(ctx, cacheKey).Result(); err == nil {
			var rules []aggregate.CostCategoryRule
			if jsonErr := json.Unmarshal([]byte(cached), &rules); jsonErr == nil {
				log.Debug().Str("org_id", orgID).Msg("cost category rules served from redis cache")
				return rules, nil
			}
		}
	}

	query := fmt.Sprintf(`SELECT id, name, namespace_pattern FROM %s.reporting_ocp_cost_category`, pqIdent(s.schema))
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, ocperrors.NewConnectivity("failed to read cost_category_rules", err)
	}
	defer rows.Close()

	var rules []aggregate.CostCategoryRule
	for rows.Next() {
		var r aggregate.CostCategoryRule
		if err := rows.Scan(&r.ID, &r.Name, &r.NamespacePattern); err != nil {
			return nil, ocperrors.NewSchema("failed to scan cost_category_rules row", err)
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, ocperrors.NewConnectivity("error iterating cost_category_rules", err)
	}

	if s.redis != nil {
		if encoded, err := json.Marshal(rules); err == nil {
			s.redis.Set(ctx, cacheKey, encoded, cacheTTL)
		}
	}
	return rules, nil
}

// pqIdent quotes a schema name as a Postgres identifier. Schema names here
// come from this process's own configuration, never from row data, so a
// simple double-quote wrap is sufficient.
func pqIdent(name string) string {
	return `"` + name + `"`
}
