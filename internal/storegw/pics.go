package storegw

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"danbooru-captioner/internal/model"
)

const picsCollection = "pics"
const characterStatsCollection = "character_stats"
const characterStatsGeneralCollection = "character_stats.general"

// PicsGateway is the metadata store gateway (C1): point reads, ranged ID
// scans, URL synthesis, and character-statistics lookup.
type PicsGateway struct {
	client *Client
}

// NewPicsGateway returns a gateway bound to client.
func NewPicsGateway(client *Client) *PicsGateway {
	return &PicsGateway{client: client}
}

func (g *PicsGateway) coll() *mongo.Collection {
	return g.client.collection(g.client.PicsDB, picsCollection)
}

// Get performs a point read of the image record for id. A missing record
// returns the NotFoundImageRecord sentinel, not an error (spec.md §4.1).
func (g *PicsGateway) Get(ctx context.Context, id int64) (model.ImageRecord, error) {
	return withBreaker(g.client, "pics", func() (model.ImageRecord, error) {
		var rec model.ImageRecord
		err := g.coll().FindOne(ctx, bson.M{"_id": id}).Decode(&rec)
		if err == mongo.ErrNoDocuments {
			return model.NotFoundImageRecord(id), nil
		}
		if err != nil {
			return model.ImageRecord{}, err
		}
		return rec, nil
	})
}

// BuildURLBatch performs a single projected scan over ids, returning the
// (url, status) triple for each. URL synthesis itself is pure (spec.md
// §4.1); only the read is I/O.
func (g *PicsGateway) BuildURLBatch(ctx context.Context, ids []int64) (map[int64]model.URLResolution, error) {
	return withBreaker(g.client, "pics", func() (map[int64]model.URLResolution, error) {
		result := make(map[int64]model.URLResolution, len(ids))
		for _, id := range ids {
			result[id] = model.URLResolution{ID: id, Status: 404}
		}
		if len(ids) == 0 {
			return result, nil
		}

		projection := bson.M{"_id": 1, "md5": 1, "file_ext": 1}
		cursor, err := g.coll().Find(ctx, bson.M{"_id": bson.M{"$in": ids}}, options.Find().
			SetProjection(projection).SetBatchSize(10000))
		if err != nil {
			return nil, err
		}
		defer cursor.Close(ctx)

		for cursor.Next(ctx) {
			var rec model.ImageRecord
			if err := cursor.Decode(&rec); err != nil {
				return nil, err
			}
			result[rec.ID] = model.URLResolution{ID: rec.ID, URL: rec.BuildURL(), Status: rec.URLStatus()}
		}
		if err := cursor.Err(); err != nil {
			return nil, err
		}
		return result, nil
	})
}

// BuildURLsInKey scans [key*100000, (key+1)*100000), projected to (id, md5,
// file_ext), batching cursor reads to bound memory to one shard's
// projection (spec.md §4.1).
func (g *PicsGateway) BuildURLsInKey(ctx context.Context, key int64) (map[int64]model.URLResolution, error) {
	return withBreaker(g.client, "pics", func() (map[int64]model.URLResolution, error) {
		start := key * 100000
		end := (key + 1) * 100000

		projection := bson.M{"_id": 1, "md5": 1, "file_ext": 1}
		cursor, err := g.coll().Find(ctx, bson.M{"_id": bson.M{"$gte": start, "$lt": end}}, options.Find().
			SetProjection(projection).SetBatchSize(1000))
		if err != nil {
			return nil, err
		}
		defer cursor.Close(ctx)

		result := make(map[int64]model.URLResolution)
		for cursor.Next(ctx) {
			var rec model.ImageRecord
			if err := cursor.Decode(&rec); err != nil {
				return nil, err
			}
			result[rec.ID] = model.URLResolution{ID: rec.ID, URL: rec.BuildURL(), Status: rec.URLStatus()}
		}
		if err := cursor.Err(); err != nil {
			return nil, err
		}
		return result, nil
	})
}

// CharacterStats looks up the attribute/series data recorded for a
// character tag. ok is false when no such entry exists
// (extract_character_stats returning None), distinct from an entry that
// exists but carries empty attribute/series lists.
func (g *PicsGateway) CharacterStats(ctx context.Context, name string) (model.CharacterStats, bool, error) {
	type result struct {
		stats model.CharacterStats
		ok    bool
	}
	r, err := withBreaker(g.client, "pics", func() (result, error) {
		coll := g.client.collection(g.client.PicsDB, characterStatsCollection)
		var stats model.CharacterStats
		err := coll.FindOne(ctx, bson.M{"_id": name}).Decode(&stats)
		if err == mongo.ErrNoDocuments {
			return result{}, nil
		}
		if err != nil {
			return result{}, err
		}
		return result{stats: stats, ok: true}, nil
	})
	return r.stats, r.ok, err
}

// AttributeFrequency looks up the recorded global frequency for an
// attribute name in the character_stats.general sub-collection (pymongo's
// dot-attribute access on the character_stats collection in
// character_analyzer.py:64-67). ok is false when no such document exists.
func (g *PicsGateway) AttributeFrequency(ctx context.Context, attribute string) (float64, bool, error) {
	type result struct {
		frequency float64
		ok        bool
	}
	r, err := withBreaker(g.client, "pics", func() (result, error) {
		coll := g.client.collection(g.client.PicsDB, characterStatsGeneralCollection)
		var doc struct {
			Frequency float64 `bson:"frequency"`
		}
		err := coll.FindOne(ctx, bson.M{"name": attribute}).Decode(&doc)
		if err == mongo.ErrNoDocuments {
			return result{}, nil
		}
		if err != nil {
			return result{}, err
		}
		return result{frequency: doc.Frequency, ok: true}, nil
	})
	return r.frequency, r.ok, err
}
