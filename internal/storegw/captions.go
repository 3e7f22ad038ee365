package storegw

import (
	"context"
	"os"
	"path/filepath"
	"strconv"

	json "github.com/goccy/go-json"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"danbooru-captioner/internal/model"
)

// CaptionsGateway is the caption store gateway (C2): shard-routed upsert
// and ranged scan of prior outcomes, and the idempotent processed
// predicate. Grounded on mongo_collections/danbooru_gemini_captions.py.
type CaptionsGateway struct {
	client *Client
}

// NewCaptionsGateway returns a gateway bound to client.
func NewCaptionsGateway(client *Client) *CaptionsGateway {
	return &CaptionsGateway{client: client}
}

func (g *CaptionsGateway) coll(id int64) *mongo.Collection {
	return g.client.collection(g.client.OutcomeDB, model.ShardKey(id))
}

// Upsert routes by shard, sets created_at if absent, and overwrites only
// the fields carried by outcome (spec.md §4.2).
func (g *CaptionsGateway) Upsert(ctx context.Context, createdAt func() float64, outcome model.CaptionOutcome) error {
	_, err := withBreaker(g.client, "captions", func() (struct{}, error) {
		update := bson.M{"$set": outcome}
		if outcome.CreatedAt == 0 {
			update["$setOnInsert"] = bson.M{"created_at": createdAt()}
		}
		_, err := g.coll(outcome.ID).UpdateOne(ctx,
			bson.M{"_id": outcome.ID},
			update,
			options.Update().SetUpsert(true),
		)
		return struct{}{}, err
	})
	return err
}

// Get returns the outcome for id, or ok=false if none exists.
func (g *CaptionsGateway) Get(ctx context.Context, id int64) (model.CaptionOutcome, bool, error) {
	type result struct {
		outcome model.CaptionOutcome
		ok      bool
	}
	r, err := withBreaker(g.client, "captions", func() (result, error) {
		var outcome model.CaptionOutcome
		err := g.coll(id).FindOne(ctx, bson.M{"_id": id}).Decode(&outcome)
		if err == mongo.ErrNoDocuments {
			return result{}, nil
		}
		if err != nil {
			return result{}, err
		}
		return result{outcome: outcome, ok: true}, nil
	})
	return r.outcome, r.ok, err
}

// IsSuccessfullyProcessed implements C8's narrower "Start" skip gate: only
// an outcome whose success field is true counts, per
// batch_processor.py::check_existing_result (narrower than the broader
// ExistingInRange processed predicate used by C9's pre-scan).
func (g *CaptionsGateway) IsSuccessfullyProcessed(ctx context.Context, id int64) (bool, error) {
	outcome, ok, err := g.Get(ctx, id)
	if err != nil || !ok {
		return false, err
	}
	return outcome.Success, nil
}

// ExistingInRange performs a projected scan across [start, end), decomposed
// into per-shard scans, returning the ids satisfying the processed
// predicate (spec.md §4.2, §9 Open Question #1: success OR prompt present
// OR status_code in the reserved done-set, including 405).
func (g *CaptionsGateway) ExistingInRange(ctx context.Context, start, end int64) (map[int64]bool, error) {
	return withBreaker(g.client, "captions", func() (map[int64]bool, error) {
		result := make(map[int64]bool)
		if end <= start {
			return result, nil
		}
		startShard := start / 100000
		endShard := (end - 1) / 100000

		for shard := startShard; shard <= endShard; shard++ {
			collStart := start
			if s := shard * 100000; s > collStart {
				collStart = s
			}
			collEnd := end
			if e := (shard + 1) * 100000; e < collEnd {
				collEnd = e
			}

			coll := g.client.collection(g.client.OutcomeDB, strconv.FormatInt(shard, 10))
			filter := bson.M{
				"_id": bson.M{"$gte": collStart, "$lt": collEnd},
				"$or": []bson.M{
					{"success": true},
					{"prompt": bson.M{"$exists": true}},
					{"status_code": bson.M{"$in": []int{200, 403, 404, 405, 998, 999}}},
				},
			}
			cursor, err := coll.Find(ctx, filter, options.Find().SetProjection(bson.M{"_id": 1}))
			if err != nil {
				return nil, err
			}
			for cursor.Next(ctx) {
				var doc struct {
					ID int64 `bson:"_id"`
				}
				if err := cursor.Decode(&doc); err != nil {
					cursor.Close(ctx)
					return nil, err
				}
				result[doc.ID] = true
			}
			err = cursor.Err()
			cursor.Close(ctx)
			if err != nil {
				return nil, err
			}
		}
		return result, nil
	})
}

// SaveResultFile writes outcome as a side artifact to <dir>/<id>_caption.json.
func (g *CaptionsGateway) SaveResultFile(id int64, outcome model.CaptionOutcome, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(outcome, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(dir, strconv.FormatInt(id, 10)+"_caption.json")
	return os.WriteFile(path, data, 0o644)
}
