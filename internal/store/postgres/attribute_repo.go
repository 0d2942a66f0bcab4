package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mattetre/reservoir-indexer/internal/domain/model"
)

type AttributeRepo struct {
	db *DB
}

func NewAttributeRepo(db *DB) *AttributeRepo {
	return &AttributeRepo{db: db}
}

// GetStaticAttributes returns every ranked attribute key of a collection with
// all its values and the token ids carrying each value, highest rank first.
func (r *AttributeRepo) GetStaticAttributes(ctx context.Context, collectionID string) ([]model.StaticAttribute, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT
			ak.key,
			ak.kind,
			json_agg(json_build_object(
				'value', a.value,
				'count', a.token_count,
				'tokens', COALESCE((
					SELECT array_agg(ta.token_id ORDER BY ta.token_id)::TEXT[]
					FROM token_attributes ta
					WHERE ta.attribute_id = a.id
				), '{}'::TEXT[])
			) ORDER BY a.token_count DESC, a.value ASC) AS values
		FROM attribute_keys ak
		JOIN attributes a ON ak.id = a.attribute_key_id
		WHERE ak.collection_id = $1
			AND ak.rank IS NOT NULL
		GROUP BY ak.id
		ORDER BY ak.rank DESC
	`, strings.ToLower(collectionID))
	if err != nil {
		return nil, fmt.Errorf("get static attributes of %s: %w", collectionID, err)
	}
	defer rows.Close()

	var out []model.StaticAttribute
	for rows.Next() {
		var (
			attr   model.StaticAttribute
			values []byte
		)
		if err := rows.Scan(&attr.Key, &attr.Kind, &values); err != nil {
			return nil, fmt.Errorf("scan static attribute: %w", err)
		}
		if err := json.Unmarshal(values, &attr.Values); err != nil {
			return nil, fmt.Errorf("decode values of attribute %q: %w", attr.Key, err)
		}
		out = append(out, attr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate static attributes: %w", err)
	}
	return out, nil
}
