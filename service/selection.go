package service

import (
	"context"
	"strings"

	"github.com/samber/lo"
	"zh.xyz/dv/ora2pg/catalog"
	"zh.xyz/dv/ora2pg/models"
)

// Selection 待迁移的表与存储对象
type Selection struct {
	Tables  []string           `json:"tables"`
	Objects []models.ObjectKey `json:"objects"`
}

// Empty 是否没有选择任何对象
func (s Selection) Empty() bool {
	return len(s.Tables) == 0 && len(s.Objects) == 0
}

// ReferenceSource 查询表和对象的引用关系
type ReferenceSource interface {
	Owner() string
	ReferencedTables(ctx context.Context, table string) ([]catalog.Reference, error)
	ReferencedObjects(ctx context.Context, name string) ([]catalog.Reference, error)
}

// ExpandSelection 把被引用的同owner表和对象加入选择，直到不再变化；
// 引用其他owner的表或对象被移出选择，作为跨schema引用返回。
// 依赖已移出对象的表或对象同样被移出，这条依赖也作为引用返回
func ExpandSelection(ctx context.Context, src ReferenceSource, sel Selection) (Selection, []models.OuterReference, error) {
	owner := strings.ToUpper(src.Owner())
	tables := lo.Uniq(lo.Map(sel.Tables, func(t string, _ int) string { return strings.ToUpper(t) }))
	objects := lo.Uniq(sel.Objects)

	var outer []models.OuterReference
	excludedTables := make(map[string]bool)
	excludedObjects := make(map[models.ObjectKey]bool)
	external := func(r catalog.Reference) bool { return !strings.EqualFold(r.Owner, owner) }
	tableRefs := make(map[string][]catalog.Reference)
	objectRefs := make(map[models.ObjectKey][]catalog.Reference)

	ti, oi := 0, 0
	for ti < len(tables) || oi < len(objects) {
		for ; ti < len(tables); ti++ {
			table := tables[ti]
			refs, err := src.ReferencedTables(ctx, table)
			if err != nil {
				return Selection{}, nil, err
			}
			if foreign := lo.Filter(refs, func(r catalog.Reference, _ int) bool { return external(r) }); len(foreign) > 0 {
				excludedTables[table] = true
				for _, r := range foreign {
					outer = append(outer, models.OuterReference{
						Object:    models.ObjectKey{Kind: models.KindTable, Name: table},
						RefSchema: r.Owner,
						RefObject: models.ObjectKey{Kind: models.KindTable, Name: r.Name},
					})
				}
				continue
			}
			tableRefs[table] = refs
			for _, r := range refs {
				if r.Name != table && !lo.Contains(tables, r.Name) {
					tables = append(tables, r.Name)
				}
			}
		}

		for ; oi < len(objects); oi++ {
			obj := objects[oi]
			refs, err := src.ReferencedObjects(ctx, obj.Name)
			if err != nil {
				return Selection{}, nil, err
			}
			if foreign := lo.Filter(refs, func(r catalog.Reference, _ int) bool { return external(r) }); len(foreign) > 0 {
				excludedObjects[obj] = true
				for _, r := range foreign {
					outer = append(outer, models.OuterReference{
						Object:    obj,
						RefSchema: r.Owner,
						RefObject: models.ObjectKey{Kind: models.ObjectKind(strings.ToUpper(r.Kind)), Name: r.Name},
					})
				}
				continue
			}
			objectRefs[obj] = refs
			for _, r := range refs {
				kind, ok := models.ParseObjectKind(r.Kind)
				switch {
				case !ok:
				case kind == models.KindTable:
					if !lo.Contains(tables, r.Name) {
						tables = append(tables, r.Name)
					}
				default:
					key := models.ObjectKey{Kind: kind, Name: r.Name}
					if key != obj && !lo.Contains(objects, key) {
						objects = append(objects, key)
					}
				}
			}
		}
	}

	excluded := func(r catalog.Reference) (models.ObjectKey, bool) {
		kind, ok := models.ParseObjectKind(r.Kind)
		if !ok {
			return models.ObjectKey{}, false
		}
		key := models.ObjectKey{Kind: kind, Name: r.Name}
		if kind == models.KindTable {
			return key, excludedTables[r.Name]
		}
		return key, excludedObjects[key]
	}

	for changed := true; changed; {
		changed = false
		for _, table := range tables {
			if excludedTables[table] {
				continue
			}
			for _, r := range tableRefs[table] {
				if r.Name != table && excludedTables[r.Name] {
					excludedTables[table] = true
					changed = true
					outer = append(outer, models.OuterReference{
						Object:    models.ObjectKey{Kind: models.KindTable, Name: table},
						RefSchema: r.Owner,
						RefObject: models.ObjectKey{Kind: models.KindTable, Name: r.Name},
					})
					break
				}
			}
		}
		for _, obj := range objects {
			if excludedObjects[obj] {
				continue
			}
			for _, r := range objectRefs[obj] {
				if key, ok := excluded(r); ok && key != obj {
					excludedObjects[obj] = true
					changed = true
					outer = append(outer, models.OuterReference{Object: obj, RefSchema: r.Owner, RefObject: key})
					break
				}
			}
		}
	}

	return Selection{
		Tables:  lo.Filter(tables, func(t string, _ int) bool { return !excludedTables[t] }),
		Objects: lo.Filter(objects, func(k models.ObjectKey, _ int) bool { return !excludedObjects[k] }),
	}, outer, nil
}
