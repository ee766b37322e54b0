// Copyright 2026 Pondera Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package qdrant implements storage.VectorIndex against a Qdrant server
// over gRPC. It is the production backend for deployments whose corpus
// outgrows the embedded index.
package qdrant

import (
	"context"
	"fmt"
	"log/slog"

	qpb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/pondera-systems/pondera/core"
	"github.com/pondera-systems/pondera/storage"
)

// Index talks to a Qdrant collection over gRPC.
type Index struct {
	conn        *grpc.ClientConn
	collections qpb.CollectionsClient
	points      qpb.PointsClient
	collection  string
	logger      *slog.Logger
}

// NewIndex connects to a Qdrant server and binds to the named collection.
// The collection is created on the first EnsureReady call.
//
// Returns storage.VectorIndex to enforce abstraction.
func NewIndex(addr, collection string) (storage.VectorIndex, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant at %s: %w", addr, err)
	}

	return &Index{
		conn:        conn,
		collections: qpb.NewCollectionsClient(conn),
		points:      qpb.NewPointsClient(conn),
		collection:  collection,
		logger:      slog.Default().With("component", "qdrant", "collection", collection),
	}, nil
}

// Close closes the gRPC connection.
func (x *Index) Close() error {
	return x.conn.Close()
}

// EnsureReady creates the collection with cosine distance if it doesn't
// exist, or verifies the dimension if it does.
func (x *Index) EnsureReady(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", storage.ErrInvalidQuery)
	}

	exists, err := x.collections.CollectionExists(ctx, &qpb.CollectionExistsRequest{
		CollectionName: x.collection,
	})
	if err != nil {
		return core.Transient(fmt.Errorf("checking collection: %w", err))
	}

	if !exists.GetResult().GetExists() {
		_, err = x.collections.Create(ctx, &qpb.CreateCollection{
			CollectionName: x.collection,
			VectorsConfig: &qpb.VectorsConfig{
				Config: &qpb.VectorsConfig_Params{
					Params: &qpb.VectorParams{
						Size:     uint64(dimension),
						Distance: qpb.Distance_Cosine,
					},
				},
			},
		})
		if err != nil {
			return core.Transient(fmt.Errorf("creating collection: %w", err))
		}
		x.logger.Info("created collection", "dimension", dimension)
		return nil
	}

	info, err := x.collections.Get(ctx, &qpb.GetCollectionInfoRequest{CollectionName: x.collection})
	if err != nil {
		return core.Transient(fmt.Errorf("reading collection info: %w", err))
	}
	got := int(info.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize())
	if got != dimension {
		return fmt.Errorf("%w: collection holds %d-dim vectors, requested %d",
			storage.ErrDimensionMismatch, got, dimension)
	}
	return nil
}

// Upsert writes chunks keyed by their deterministic point IDs. Qdrant
// overwrites points with an existing ID, which is what makes re-ingestion
// idempotent.
func (x *Index) Upsert(ctx context.Context, chunks []*core.Chunk) error {
	points := make([]*qpb.PointStruct, 0, len(chunks))
	for _, chunk := range chunks {
		points = append(points, &qpb.PointStruct{
			Id: &qpb.PointId{PointIdOptions: &qpb.PointId_Uuid{Uuid: chunk.PointID()}},
			Vectors: &qpb.Vectors{
				VectorsOptions: &qpb.Vectors_Vector{
					Vector: &qpb.Vector{
						Vector: &qpb.Vector_Dense{Dense: &qpb.DenseVector{Data: chunk.Vector}},
					},
				},
			},
			Payload: chunkPayload(chunk),
		})
	}

	wait := true
	_, err := x.points.Upsert(ctx, &qpb.UpsertPoints{
		CollectionName: x.collection,
		Points:         points,
		Wait:           &wait,
	})
	if err != nil {
		return core.Transient(fmt.Errorf("upserting %d points: %w", len(points), err))
	}

	x.logger.Debug("upserted points", "count", len(points))
	return nil
}

// Search runs a similarity query with the threshold enforced server-side.
// Qdrant's score_threshold is inclusive, matching the contract.
func (x *Index) Search(ctx context.Context, vector []float32, limit int, threshold float32, filter storage.SearchFilter) ([]*core.SearchHit, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", storage.ErrInvalidQuery)
	}

	resp, err := x.points.Search(ctx, &qpb.SearchPoints{
		CollectionName: x.collection,
		Vector:         vector,
		Limit:          uint64(limit),
		ScoreThreshold: &threshold,
		Filter:         buildFilter(filter),
		WithPayload: &qpb.WithPayloadSelector{
			SelectorOptions: &qpb.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, core.Transient(fmt.Errorf("searching: %w", err))
	}

	hits := make([]*core.SearchHit, 0, len(resp.GetResult()))
	for _, point := range resp.GetResult() {
		hits = append(hits, hitFromScoredPoint(point))
	}
	return hits, nil
}

// DeleteByItem removes all points belonging to a content item.
func (x *Index) DeleteByItem(ctx context.Context, itemID string) error {
	wait := true
	_, err := x.points.Delete(ctx, &qpb.DeletePoints{
		CollectionName: x.collection,
		Wait:           &wait,
		Points: &qpb.PointsSelector{
			PointsSelectorOneOf: &qpb.PointsSelector_Filter{
				Filter: &qpb.Filter{
					Must: []*qpb.Condition{keywordCondition(payloadItemID, itemID)},
				},
			},
		},
	})
	if err != nil {
		return core.Transient(fmt.Errorf("deleting points for item %s: %w", itemID, err))
	}
	return nil
}

// Count returns the exact number of points in the collection.
func (x *Index) Count(ctx context.Context) (uint64, error) {
	exact := true
	resp, err := x.points.Count(ctx, &qpb.CountPoints{
		CollectionName: x.collection,
		Exact:          &exact,
	})
	if err != nil {
		return 0, core.Transient(fmt.Errorf("counting points: %w", err))
	}
	return resp.GetResult().GetCount(), nil
}
