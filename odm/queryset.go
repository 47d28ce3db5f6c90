package odm

import (
	"context"
	"fmt"

	"github.com/kenobix/kenobix"
)

const paginateChunkSize = 100

// QueryOptions carries the optional limit/offset arguments shared by
// Filter and All.
type QueryOptions struct {
	Limit  int // 0 means "every matching row"
	Offset int
}

// Filter applies Filters and returns every matching instance of T,
// translating lookup-operator suffixes. Use FilterPaginated for the
// lazy, chunked form.
func Filter[T any, PT modelPtr[T]](ctx context.Context, filters Filters, opts QueryOptions) ([]PT, error) {
	coll, _, err := collectionFor[T, PT](ctx)
	if err != nil {
		return nil, err
	}
	preds, err := toPredicates(filters)
	if err != nil {
		return nil, err
	}
	records, err := coll.SearchOptimized(ctx, preds, opts.Limit, opts.Offset)
	if err != nil {
		return nil, err
	}
	return hydrateAll[T, PT](records)
}

// FilterPaginated returns a Paginator over Filters, fetching in chunks
// of 100.
func FilterPaginated[T any, PT modelPtr[T]](ctx context.Context, filters Filters) *Paginator[T, PT] {
	return &Paginator[T, PT]{ctx: ctx, filters: filters, chunkSize: paginateChunkSize}
}

// All returns every instance of T.
func All[T any, PT modelPtr[T]](ctx context.Context, opts QueryOptions) ([]PT, error) {
	return Filter[T, PT](ctx, Filters{}, opts)
}

// Get returns the single instance matching filters, or nil if none
// match (limit=1 under the hood).
func Get[T any, PT modelPtr[T]](ctx context.Context, filters Filters) (PT, error) {
	results, err := Filter[T, PT](ctx, filters, QueryOptions{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return results[0], nil
}

// GetByID returns the instance with the given id, or nil if absent.
func GetByID[T any, PT modelPtr[T]](ctx context.Context, id int64) (PT, error) {
	coll, _, err := collectionFor[T, PT](ctx)
	if err != nil {
		return nil, err
	}
	rec, ok, err := coll.GetByID(ctx, id)
	if err != nil || !ok {
		return nil, err
	}
	return hydrate[T, PT](rec)
}

// Count returns the number of instances of T matching filters.
func Count[T any, PT modelPtr[T]](ctx context.Context, filters Filters) (int64, error) {
	coll, _, err := collectionFor[T, PT](ctx)
	if err != nil {
		return 0, err
	}
	preds, err := toPredicates(filters)
	if err != nil {
		return 0, err
	}
	if len(preds) == 0 {
		return coll.Count(ctx, "", nil)
	}
	// Collection.Count only compiles a single equality predicate; a
	// general multi-predicate count shares Filter's routing and
	// measures the result length instead.
	records, err := coll.SearchOptimized(ctx, preds, 0, 0)
	if err != nil {
		return 0, err
	}
	return int64(len(records)), nil
}

// InsertMany batch-inserts instances, assigning each its _id in order.
func InsertMany[T any, PT modelPtr[T]](ctx context.Context, instances []PT) error {
	coll, _, err := collectionFor[T, PT](ctx)
	if err != nil {
		return err
	}
	docs := make([]kenobix.Document, len(instances))
	for i, inst := range instances {
		doc, err := toDict[T, PT](inst)
		if err != nil {
			return err
		}
		docs[i] = doc
	}
	ids, err := coll.InsertMany(ctx, docs)
	if err != nil {
		return err
	}
	for i, inst := range instances {
		inst.SetID(ids[i])
	}
	return nil
}

// DeleteMany removes every instance matching filters. At least one
// filter is required; empty filters fail with ErrMissingPredicate.
func DeleteMany[T any, PT modelPtr[T]](ctx context.Context, filters Filters) (int64, error) {
	if len(filters) == 0 {
		return 0, fmt.Errorf("delete_many: %w", kenobix.ErrMissingPredicate)
	}
	coll, _, err := collectionFor[T, PT](ctx)
	if err != nil {
		return 0, err
	}
	preds, err := toPredicates(filters)
	if err != nil {
		return 0, err
	}
	records, err := coll.SearchOptimized(ctx, preds, 0, 0)
	if err != nil {
		return 0, err
	}
	// DeleteMany's filter set is a general conjunction, which doesn't
	// map to the single indexed key/value pair Collection.Remove
	// expects, so matching rows are deleted individually by id.
	var n int64
	for _, rec := range records {
		removed, err := coll.RemoveByID(ctx, rec.ID)
		if err != nil {
			return n, err
		}
		if removed {
			n++
		}
	}
	return n, nil
}

// Save inserts x if it has no assigned id, otherwise updates the row
// with that id by replacing its data. Saves go through whatever
// transaction state is currently active on the bound database, since
// Collection.Insert/UpdateByID do.
func Save[T any, PT modelPtr[T]](ctx context.Context, x PT) error {
	coll, _, err := collectionFor[T, PT](ctx)
	if err != nil {
		return err
	}
	doc, err := toDict[T, PT](x)
	if err != nil {
		return err
	}

	if x.ID() == 0 {
		id, err := coll.Insert(ctx, doc)
		if err != nil {
			return err
		}
		x.SetID(id)
		return nil
	}

	_, err = coll.UpdateByID(ctx, x.ID(), doc)
	return err
}

// Delete removes x's row, identified by its assigned id. Fails with
// ErrUnsavedInstance when x has no id.
func Delete[T any, PT modelPtr[T]](ctx context.Context, x PT) error {
	if x.ID() == 0 {
		return fmt.Errorf("delete: %w", kenobix.ErrUnsavedInstance)
	}
	coll, _, err := collectionFor[T, PT](ctx)
	if err != nil {
		return err
	}
	_, err = coll.RemoveByID(ctx, x.ID())
	return err
}

func hydrate[T any, PT modelPtr[T]](rec kenobix.Record) (PT, error) {
	inst, err := fromDict[T, PT](rec.Data)
	if err != nil {
		return nil, err
	}
	inst.SetID(rec.ID)
	return inst, nil
}

func hydrateAll[T any, PT modelPtr[T]](records []kenobix.Record) ([]PT, error) {
	out := make([]PT, 0, len(records))
	for _, rec := range records {
		inst, err := hydrate[T, PT](rec)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, nil
}

// Paginator is a lazy finite sequence over a filter set: it fetches
// chunkSize rows at a time and is restartable only in the sense that
// calling Filter/FilterPaginated again produces a fresh sequence.
type Paginator[T any, PT modelPtr[T]] struct {
	ctx       context.Context
	filters   Filters
	chunkSize int

	buf    []PT
	offset int
	done   bool
}

// Next returns the next instance in the sequence, or (nil, false) once
// exhausted.
func (p *Paginator[T, PT]) Next() (PT, bool, error) {
	if len(p.buf) == 0 && !p.done {
		page, err := Filter[T, PT](p.ctx, p.filters, QueryOptions{Limit: p.chunkSize, Offset: p.offset})
		if err != nil {
			return nil, false, err
		}
		p.offset += len(page)
		p.buf = page
		if len(page) < p.chunkSize {
			p.done = true
		}
	}
	if len(p.buf) == 0 {
		return nil, false, nil
	}
	next := p.buf[0]
	p.buf = p.buf[1:]
	return next, true, nil
}
