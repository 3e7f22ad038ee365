// Package character implements the character cross-verification and
// relationship-tree visualization used to enrich the model prompt (C6).
// Grounded on gemini_caption/character_analyzer.py.
package character

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"danbooru-captioner/internal/model"
)

// CharDict is the per-character attribute/series cross-verification result
// (character_analyzer.py's char_dict entries).
type CharDict struct {
	Attribute []string
	Series    []string
}

// StatsReader looks up recorded character statistics, satisfied by
// storegw.PicsGateway.
type StatsReader interface {
	CharacterStats(ctx context.Context, name string) (model.CharacterStats, bool, error)
	// AttributeFrequency looks up an attribute's recorded global frequency
	// from the character_stats.general sub-collection, used as the
	// fallback corroboration path in CrossVerify.
	AttributeFrequency(ctx context.Context, attribute string) (float64, bool, error)
}

// attributeFrequencyThreshold is the minimum recorded global frequency at
// which an attribute absent from the image's own tags is still kept
// (character_analyzer.py:66: "attr_doc.get('frequency', 0) > 0.5").
const attributeFrequencyThreshold = 0.5

// TagGraphReader answers root/child queries against the tag graph,
// satisfied by storegw.TagsGateway.
type TagGraphReader interface {
	IsRoot(ctx context.Context, name string) (bool, error)
	Children(ctx context.Context, name string) ([]string, error)
}

// Analyzer cross-verifies character tags against recorded statistics and
// renders the tag-relationship tree used by the prompt builder.
type Analyzer struct {
	pics StatsReader
	tags TagGraphReader
}

// NewAnalyzer returns an Analyzer bound to the given gateways.
func NewAnalyzer(pics StatsReader, tags TagGraphReader) *Analyzer {
	return &Analyzer{pics: pics, tags: tags}
}

// CrossVerify cross-checks each of an image's character tags against its
// recorded CharacterStats, keeping only attributes/series that are
// corroborated by the image's own general/copyright tags (or, for
// attributes absent from the image, by a >0.5 recorded frequency).
func (a *Analyzer) CrossVerify(ctx context.Context, record model.ImageRecord) (map[string]CharDict, error) {
	result := make(map[string]CharDict)
	for _, char := range record.CharacterTags {
		stats, ok, err := a.pics.CharacterStats(ctx, char)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		dict := CharDict{}
		for _, attr := range stats.Attribute {
			// An attribute corroborated by the image's own general tags is
			// kept outright; one absent from them is still kept if its
			// recorded global frequency clears the threshold.
			if contains(record.GeneralTags, attr) {
				dict.Attribute = append(dict.Attribute, attr)
				continue
			}
			if freq, ok, err := a.pics.AttributeFrequency(ctx, attr); err != nil {
				return nil, err
			} else if ok && freq > attributeFrequencyThreshold {
				dict.Attribute = append(dict.Attribute, attr)
			}
		}
		for series := range stats.Series {
			if contains(record.CopyrightTags, series) {
				dict.Series = append(dict.Series, series)
			}
		}
		sort.Strings(dict.Attribute)
		sort.Strings(dict.Series)
		result[char] = dict
	}
	return result, nil
}

// BuildTreeByTags groups tags into root→children trees using the tag
// graph's parent/child edges, then strips any tag that appears as another
// root's child (character_analyzer.py::build_tree_by_tags).
func (a *Analyzer) BuildTreeByTags(ctx context.Context, tags []string) (map[string][]string, error) {
	sorted := append([]string(nil), tags...)
	sort.Strings(sorted)

	var roots []string
	for _, tag := range sorted {
		isRoot, err := a.tags.IsRoot(ctx, tag)
		if err != nil {
			return nil, err
		}
		if isRoot {
			roots = append(roots, tag)
		}
	}

	tree := make(map[string][]string)
	var childrenTags []string
	for _, root := range roots {
		children, err := a.tags.Children(ctx, root)
		if err != nil {
			return nil, err
		}
		var kept []string
		for _, child := range children {
			if contains(tags, child) {
				kept = append(kept, child)
				childrenTags = append(childrenTags, child)
			}
		}
		tree[root] = kept
	}
	for _, tag := range childrenTags {
		delete(tree, tag)
	}
	return tree, nil
}

var tipMessage = map[string]string{
	"zh": "\n\n提示：带缩进的角色通常是上级的形态/皮肤版本，应优先识别具体形态。若同时存在父级和子级角色，请同时在描述中指出。\n      这些是一些可能出现在画面中的角色的参考，你可以根据他们的平时的通常特征进行人物判断，提供的信息中子级角色通常是父级角色的某个形态或是皮肤，能判断出子级角色的话就不要重复判断父级角色，除非两者都出现",
	"en": "\n\nTip: Indented roles are usually alternative forms/skins of parent characters. Prefer identifying specific forms, but include both if coexisting.\n      This could be the character's name, or it could refer to a specific outfit or state of the character. When describing, naturally mention the character's name and do not forget this. The model will know the character's features once the name is provided, so you can simplify the description of the character's inherent traits or omit them, provided you are certain which character is in the scene.\"\n        ",
}

var headerMessage = map[string]string{
	"zh": "角色检索参考信息表：图片中很大概率会出现以下标签的角色，请根据参考信息进行角色判断，把判断在画面的角色自然的在描述中提到其名称，可以看情况选择合适的提到出自哪个系列，提到系列时如果角色标签中带有系列名的话请酌情去除角色中的系列名，如果是皮肤或是特殊形态在你确定的情况下也可以提到\n══════════════════",
	"en": "Character Search Reference Information Table: The following characters are likely to appear in the image, please identify them based on the reference information, and naturally mention the character's name in the description, you can choose the appropriate series to mention according to the situation, if the character's tag contains the series name, please remove the series name according to the situation\n═══════════════════════════",
}

// VisualizeTree renders char_dict as a pre-order indented tree with
// EN/ZH headers and a trailing tip message. Returns ok=false when char_dict
// is empty (no tree to render, matching visualize_tree's None return).
func (a *Analyzer) VisualizeTree(ctx context.Context, charDict map[string]CharDict, language string) (string, bool, error) {
	if len(charDict) == 0 {
		return "", false, nil
	}
	names := make([]string, 0, len(charDict))
	for name := range charDict {
		names = append(names, name)
	}
	tree, err := a.BuildTreeByTags(ctx, names)
	if err != nil {
		return "", false, err
	}

	var lines []string
	lines = append(lines, headerMessage[pickLang(language)])

	var walk func(node string, depth int)
	walk = func(node string, depth int) {
		lines = append(lines, buildSection(node, depth, charDict, language))
		for _, child := range tree[node] {
			walk(child, depth+1)
		}
	}
	rootNames := make([]string, 0, len(tree))
	for root := range tree {
		rootNames = append(rootNames, root)
	}
	sort.Strings(rootNames)
	for _, root := range rootNames {
		walk(root, 0)
	}
	lines = append(lines, tipMessage[pickLang(language)])

	return "\n" + strings.Join(lines, "\n") + "\n", true, nil
}

func buildSection(tag string, level int, charDict map[string]CharDict, language string) string {
	indent := strings.Repeat("  ", level)
	dict := charDict[tag]
	attribute := strings.Join(dict.Attribute, ", ")
	series := strings.Join(dict.Series, ", ")
	if pickLang(language) == "zh" {
		if attribute == "" {
			attribute = "无"
		}
		if series == "" {
			series = "无"
		}
		return fmt.Sprintf("%s• %s\n%s  │ 角色特征: %s\n%s  └─ 作品系列: %s", indent, tag, indent, attribute, indent, series)
	}
	if attribute == "" {
		attribute = "None"
	}
	if series == "" {
		series = "None"
	}
	return fmt.Sprintf("%s• %s\n%s  │ Features: %s\n%s  └─ Series: %s", indent, tag, indent, attribute, indent, series)
}

func pickLang(language string) string {
	if language == "zh" {
		return "zh"
	}
	return "en"
}

func contains(list []string, item string) bool {
	for _, v := range list {
		if v == item {
			return true
		}
	}
	return false
}
