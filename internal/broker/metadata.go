package broker

import (
	"context"
	"encoding/json"
)

const metadataField = "record"

// loadMetadata reads the metadata record for id, returning (nil, nil)
// if none exists yet.
func (b *Broker) loadMetadata(ctx context.Context, id string) (*Metadata, error) {
	fields, err := b.sub.HashGetAll(ctx, b.layout.MetadataKey(id))
	if err != nil {
		return nil, err
	}
	raw, ok := fields[metadataField]
	if !ok || raw == "" {
		return nil, nil
	}
	var meta Metadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// saveMetadata writes meta for id, replacing any existing record.
func (b *Broker) saveMetadata(ctx context.Context, id string, meta Metadata) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return b.sub.HashSet(ctx, b.layout.MetadataKey(id), map[string]interface{}{metadataField: string(raw)})
}

// purgeMetadata deletes the metadata record for id.
func (b *Broker) purgeMetadata(ctx context.Context, id string) error {
	return b.sub.HashDelete(ctx, b.layout.MetadataKey(id))
}
