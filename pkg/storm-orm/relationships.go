package orm

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/iancoleman/strcase"
)

// relationTag is the parsed form of an orm tag on a relation field:
//
//	Summary *TaskImportSummary `db:"-" orm:"has_one,foreign_keys:vendor_id|vendor_name,glue:and"`
//
// Key lists are separated with "|". Anything the tag leaves out falls back to
// the naming conventions of the declaration.
type relationTag struct {
	Kind        RelationKind
	ForeignKeys []string
	LocalKeys   []string
	OwnerKeys   []string
	Glue        string
}

func parseRelationTag(tag string) (relationTag, error) {
	parts := strings.Split(tag, ",")
	kind := strings.TrimSpace(parts[0])

	rel := relationTag{Kind: RelationKind(kind)}
	switch rel.Kind {
	case KindHasOne, KindHasMany, KindBelongsTo:
	default:
		return rel, fmt.Errorf("unknown relationship type: %s", kind)
	}

	for _, part := range parts[1:] {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		key, value, ok := strings.Cut(part, ":")
		if !ok {
			return rel, fmt.Errorf("invalid relationship parameter %q, expected 'key:value'", part)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case "foreign_keys", "foreign_key":
			rel.ForeignKeys = splitKeys(value)
		case "local_keys", "local_key":
			rel.LocalKeys = splitKeys(value)
		case "owner_keys", "owner_key":
			rel.OwnerKeys = splitKeys(value)
		case "glue":
			if _, err := ParseGlue(value); err != nil {
				return rel, err
			}
			rel.Glue = value
		default:
			return rel, fmt.Errorf("unknown relationship parameter: %s", key)
		}
	}

	return rel, nil
}

func splitKeys(value string) []string {
	var keys []string
	for _, key := range strings.Split(value, "|") {
		if key = strings.TrimSpace(key); key != "" {
			keys = append(keys, key)
		}
	}
	return keys
}

// parseRelationTags reads the orm tags of a model type. The relation name is
// the field's relation tag when present, otherwise its snake_case name.
func parseRelationTags(structType reflect.Type) (map[string]relationTag, map[string][]int, error) {
	tags := make(map[string]relationTag)
	indexes := make(map[string][]int)

	for i := 0; i < structType.NumField(); i++ {
		field := structType.Field(i)
		if !field.IsExported() {
			continue
		}

		name := field.Tag.Get("relation")
		ormTag := field.Tag.Get("orm")
		if name == "" && ormTag == "" {
			continue
		}
		if name == "" {
			name = strcase.ToSnake(field.Name)
		}
		indexes[name] = field.Index

		if ormTag == "" {
			continue
		}
		rel, err := parseRelationTag(ormTag)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse relationship for field %s: %w", field.Name, err)
		}
		tags[name] = rel
	}

	return tags, indexes, nil
}

// applyTo fills the options a declaration left empty
func (t relationTag) applyTo(cfg *relationConfig, kind RelationKind) error {
	if t.Kind != kind {
		return fmt.Errorf("relation tag declares %s, declaration is %s", t.Kind, kind)
	}
	if len(cfg.foreignKeys) == 0 {
		cfg.foreignKeys = t.ForeignKeys
	}
	if len(cfg.localKeys) == 0 {
		cfg.localKeys = t.LocalKeys
	}
	if len(cfg.ownerKeys) == 0 {
		cfg.ownerKeys = t.OwnerKeys
	}
	if cfg.glue == "" {
		cfg.glue = t.Glue
	}
	return nil
}
