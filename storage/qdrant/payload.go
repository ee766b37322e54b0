package qdrant

import (
	"strings"

	qpb "github.com/qdrant/go-client/qdrant"

	"github.com/pondera-systems/pondera/core"
	"github.com/pondera-systems/pondera/storage"
)

// Payload field names. Metadata entries are flattened under metaPrefix so
// they stay filterable without nested payload structures.
const (
	payloadItemID   = "item_id"
	payloadSourceID = "source_id"
	payloadDocType  = "doc_type"
	payloadText     = "text"
	payloadSection  = "section"
	metaPrefix      = "meta."
)

func stringValue(s string) *qpb.Value {
	return &qpb.Value{Kind: &qpb.Value_StringValue{StringValue: s}}
}

// chunkPayload builds the point payload carried alongside the vector.
func chunkPayload(chunk *core.Chunk) map[string]*qpb.Value {
	payload := map[string]*qpb.Value{
		payloadItemID:   stringValue(chunk.ItemID),
		payloadSourceID: stringValue(chunk.SourceID),
		payloadText:     stringValue(chunk.Text),
	}
	if chunk.DocType != "" {
		payload[payloadDocType] = stringValue(chunk.DocType)
	}
	if chunk.Section != "" {
		payload[payloadSection] = stringValue(chunk.Section)
	}
	for k, v := range chunk.Metadata {
		payload[metaPrefix+k] = stringValue(v)
	}
	return payload
}

// hitFromScoredPoint converts a Qdrant result into a core.SearchHit.
func hitFromScoredPoint(point *qpb.ScoredPoint) *core.SearchHit {
	payload := point.GetPayload()

	hit := &core.SearchHit{
		ChunkID:  point.GetId().GetUuid(),
		ItemID:   payload[payloadItemID].GetStringValue(),
		SourceID: payload[payloadSourceID].GetStringValue(),
		Text:     payload[payloadText].GetStringValue(),
		Score:    point.GetScore(),
		Section:  payload[payloadSection].GetStringValue(),
	}

	for k, v := range payload {
		if name, ok := strings.CutPrefix(k, metaPrefix); ok {
			if hit.Metadata == nil {
				hit.Metadata = make(map[string]string)
			}
			hit.Metadata[name] = v.GetStringValue()
		}
	}
	return hit
}

// keywordCondition matches a payload field against one exact value.
func keywordCondition(key, value string) *qpb.Condition {
	return &qpb.Condition{
		ConditionOneOf: &qpb.Condition_Field{
			Field: &qpb.FieldCondition{
				Key: key,
				Match: &qpb.Match{
					MatchValue: &qpb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

// anyOfCondition matches a payload field against any of the given values.
// A single value collapses to a plain keyword match.
func anyOfCondition(key string, values []string) *qpb.Condition {
	if len(values) == 1 {
		return keywordCondition(key, values[0])
	}
	should := make([]*qpb.Condition, 0, len(values))
	for _, v := range values {
		should = append(should, keywordCondition(key, v))
	}
	return &qpb.Condition{
		ConditionOneOf: &qpb.Condition_Filter{
			Filter: &qpb.Filter{Should: should},
		},
	}
}

// buildFilter translates a storage.SearchFilter into a Qdrant filter.
// Fields combine with AND; values within one field combine with OR.
// Returns nil for an empty filter.
func buildFilter(filter storage.SearchFilter) *qpb.Filter {
	if filter.Empty() {
		return nil
	}

	var must []*qpb.Condition
	if len(filter.SourceIDs) > 0 {
		must = append(must, anyOfCondition(payloadSourceID, filter.SourceIDs))
	}
	if len(filter.ItemIDs) > 0 {
		must = append(must, anyOfCondition(payloadItemID, filter.ItemIDs))
	}
	if len(filter.DocTypes) > 0 {
		must = append(must, anyOfCondition(payloadDocType, filter.DocTypes))
	}
	return &qpb.Filter{Must: must}
}
