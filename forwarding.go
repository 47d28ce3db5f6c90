package kenobix

import "context"

// defaultCollection returns (creating if necessary) the handle for
// DefaultCollectionName, with no indexed fields. It backs the legacy
// single-collection API: the database handle's CRUD methods forward to
// it.
func (d *Database) defaultCollection(ctx context.Context) (*Collection, error) {
	return d.Collection(ctx, DefaultCollectionName)
}

// Insert forwards to the default collection's Insert.
func (d *Database) Insert(ctx context.Context, doc Document) (int64, error) {
	c, err := d.defaultCollection(ctx)
	if err != nil {
		return 0, err
	}
	return c.Insert(ctx, doc)
}

// InsertMany forwards to the default collection's InsertMany.
func (d *Database) InsertMany(ctx context.Context, docs []Document) ([]int64, error) {
	c, err := d.defaultCollection(ctx)
	if err != nil {
		return nil, err
	}
	return c.InsertMany(ctx, docs)
}

// Update forwards to the default collection's Update.
func (d *Database) Update(ctx context.Context, key string, value any, patch Document) (bool, error) {
	c, err := d.defaultCollection(ctx)
	if err != nil {
		return false, err
	}
	return c.Update(ctx, key, value, patch)
}

// Remove forwards to the default collection's Remove.
func (d *Database) Remove(ctx context.Context, key string, value any) (int64, error) {
	c, err := d.defaultCollection(ctx)
	if err != nil {
		return 0, err
	}
	return c.Remove(ctx, key, value)
}

// Purge forwards to the default collection's Purge.
func (d *Database) Purge(ctx context.Context) error {
	c, err := d.defaultCollection(ctx)
	if err != nil {
		return err
	}
	return c.Purge(ctx)
}

// All forwards to the default collection's All.
func (d *Database) All(ctx context.Context, limit, offset int) ([]Record, error) {
	c, err := d.defaultCollection(ctx)
	if err != nil {
		return nil, err
	}
	return c.All(ctx, limit, offset)
}

// Search forwards to the default collection's Search.
func (d *Database) Search(ctx context.Context, key string, value any, limit, offset int) ([]Record, error) {
	c, err := d.defaultCollection(ctx)
	if err != nil {
		return nil, err
	}
	return c.Search(ctx, key, value, limit, offset)
}

// Count forwards to the default collection's Count.
func (d *Database) Count(ctx context.Context) (int64, error) {
	c, err := d.defaultCollection(ctx)
	if err != nil {
		return 0, err
	}
	return c.Count(ctx, "", nil)
}
