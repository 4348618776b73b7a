package migrate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/qdrant/go-client/qdrant"
)

// Options configures a one-shot collection copy.
type Options struct {
	Host              string
	Port              int
	APIKey            string
	SourceCollections []string
	DestCollection    string
	FilterJSON        string
	BatchSize         int
}

// Run copies every point matching the filter from each source collection
// into the destination collection. The destination must already exist; a
// missing source is logged and skipped so partial inventories don't abort
// the whole run.
func Run(ctx context.Context, opts Options) error {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 256
	}

	filter, err := BuildFilter(opts.FilterJSON)
	if err != nil {
		return err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   opts.Host,
		Port:   opts.Port,
		APIKey: opts.APIKey,
	})
	if err != nil {
		return fmt.Errorf("connect to vector store at %s:%d: %w", opts.Host, opts.Port, err)
	}
	defer client.Close()

	exists, err := client.CollectionExists(ctx, opts.DestCollection)
	if err != nil {
		return fmt.Errorf("check destination collection %q: %w", opts.DestCollection, err)
	}
	if !exists {
		return fmt.Errorf("destination collection %q not found", opts.DestCollection)
	}

	slog.Info("starting collection migration",
		"host", opts.Host,
		"sources", opts.SourceCollections,
		"destination", opts.DestCollection,
		"filter", opts.FilterJSON,
	)

	total := 0
	for _, source := range opts.SourceCollections {
		source = strings.TrimSpace(source)
		if source == "" {
			continue
		}

		copied, err := copyCollection(ctx, client, source, opts.DestCollection, filter, uint32(opts.BatchSize))
		if err != nil {
			return fmt.Errorf("migrate from %q: %w", source, err)
		}
		slog.Info("source collection migrated", "collection", source, "documents", copied)
		total += copied
	}

	slog.Info("migration complete", "total_documents", total)
	return nil
}

func copyCollection(ctx context.Context, client *qdrant.Client, source, dest string, filter *qdrant.Filter, batch uint32) (int, error) {
	exists, err := client.CollectionExists(ctx, source)
	if err != nil {
		return 0, fmt.Errorf("check source collection: %w", err)
	}
	if !exists {
		slog.Warn("source collection does not exist, skipping", "collection", source)
		return 0, nil
	}

	var offset *qdrant.PointId
	copied := 0
	for {
		resp, err := client.GetPointsClient().Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: source,
			Filter:         filter,
			Limit:          &batch,
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(true),
		})
		if err != nil {
			return copied, fmt.Errorf("scroll: %w", err)
		}

		points := resp.GetResult()
		if len(points) == 0 {
			break
		}

		upserts := make([]*qdrant.PointStruct, 0, len(points))
		for _, point := range points {
			upserts = append(upserts, &qdrant.PointStruct{
				Id:      point.GetId(),
				Payload: point.GetPayload(),
				Vectors: vectorsFromOutput(point.GetVectors()),
			})
		}

		if _, err := client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: dest,
			Points:         upserts,
			Wait:           qdrant.PtrOf(true),
		}); err != nil {
			return copied, fmt.Errorf("upsert batch: %w", err)
		}
		copied += len(points)
		slog.Debug("batch copied", "collection", source, "batch", len(points), "total", copied)

		offset = resp.GetNextPageOffset()
		if offset == nil {
			break
		}
	}

	return copied, nil
}

func vectorsFromOutput(out *qdrant.VectorsOutput) *qdrant.Vectors {
	if out == nil {
		return nil
	}
	if v := out.GetVector(); v != nil {
		return qdrant.NewVectors(v.GetData()...)
	}
	if named := out.GetVectors(); named != nil {
		vectors := make(map[string]*qdrant.Vector, len(named.GetVectors()))
		for name, v := range named.GetVectors() {
			vectors[name] = qdrant.NewVector(v.GetData()...)
		}
		return qdrant.NewVectorsMap(vectors)
	}
	return nil
}

// BuildFilter converts flat JSON equality criteria into a vector-store
// filter. An empty or "{}" input means no filter at all.
func BuildFilter(filterJSON string) (*qdrant.Filter, error) {
	filterJSON = strings.TrimSpace(filterJSON)
	if filterJSON == "" || filterJSON == "{}" {
		return nil, nil
	}

	var criteria map[string]any
	if err := json.Unmarshal([]byte(filterJSON), &criteria); err != nil {
		return nil, fmt.Errorf("parse filter json: %w", err)
	}
	if len(criteria) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(criteria))
	for key := range criteria {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	conditions := make([]*qdrant.Condition, 0, len(keys))
	for _, key := range keys {
		switch value := criteria[key].(type) {
		case string:
			conditions = append(conditions, qdrant.NewMatch(key, value))
		case bool:
			conditions = append(conditions, qdrant.NewMatchBool(key, value))
		case float64:
			if value != math.Trunc(value) {
				return nil, fmt.Errorf("filter field %q: fractional numbers are not matchable", key)
			}
			conditions = append(conditions, qdrant.NewMatchInt(key, int64(value)))
		default:
			return nil, fmt.Errorf("filter field %q: unsupported value type %T", key, value)
		}
	}

	return &qdrant.Filter{Must: conditions}, nil
}
