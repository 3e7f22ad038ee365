package storegw

import (
	"context"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"danbooru-captioner/internal/model"
)

const tagsCollection = "tags"

// TagsGateway is the tag graph gateway (C3): parent/child/related queries.
// A missing node yields an empty result and a warning, never an error
// (spec.md §4.3). Grounded on mongo_collections/danbooru_tags.py.
type TagsGateway struct {
	client *Client
	logger *slog.Logger
}

// NewTagsGateway returns a gateway bound to client, logging missing-node
// warnings through logger.
func NewTagsGateway(client *Client, logger *slog.Logger) *TagsGateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &TagsGateway{client: client, logger: logger}
}

func (g *TagsGateway) coll() *mongo.Collection {
	return g.client.collection(g.client.TagsDB, tagsCollection)
}

func (g *TagsGateway) find(ctx context.Context, name, field string) ([]string, error) {
	return withBreaker(g.client, "tags", func() ([]string, error) {
		var node model.TagNode
		err := g.coll().FindOne(ctx, bson.M{"name": name}, options.FindOne().
			SetProjection(bson.M{field: 1})).Decode(&node)
		if err == mongo.ErrNoDocuments {
			g.logger.Warn("tag node not found", "tag", name, "field", field)
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		switch field {
		case "parents":
			return node.Parents, nil
		case "children":
			return node.Children, nil
		case "related":
			return node.Related, nil
		}
		return nil, nil
	})
}

// IsRoot reports whether name has no parents in the tag graph. A missing
// node is treated as non-root (matches judge_root_tag's "missing tag ⇒
// warning + false").
func (g *TagsGateway) IsRoot(ctx context.Context, name string) (bool, error) {
	return withBreaker(g.client, "tags", func() (bool, error) {
		var node model.TagNode
		err := g.coll().FindOne(ctx, bson.M{"name": name}, options.FindOne().
			SetProjection(bson.M{"parents": 1})).Decode(&node)
		if err == mongo.ErrNoDocuments {
			g.logger.Warn("tag node not found", "tag", name)
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return node.IsRoot(), nil
	})
}

// Children returns the child tags of name, or an empty slice if missing.
func (g *TagsGateway) Children(ctx context.Context, name string) ([]string, error) {
	return g.find(ctx, name, "children")
}

// Parents returns the parent tags of name, or an empty slice if missing.
func (g *TagsGateway) Parents(ctx context.Context, name string) ([]string, error) {
	return g.find(ctx, name, "parents")
}

// Related returns the related tags of name, or an empty slice if missing.
func (g *TagsGateway) Related(ctx context.Context, name string) ([]string, error) {
	return g.find(ctx, name, "related")
}
