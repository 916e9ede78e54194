package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObject struct {
	Base
	Value int
}

func TestCreateRefAndGet(t *testing.T) {
	t.Parallel()

	mgr := NewManager()
	var h Handle

	err := mgr.WithRetry(context.Background(), func(tx *Tx) error {
		h = tx.CreateRef(&fakeObject{Value: 42})
		return nil
	})
	require.NoError(t, err)
	assert.False(t, h.IsZero())

	err = mgr.WithRetry(context.Background(), func(tx *Tx) error {
		obj, err := tx.Get(h)
		if err != nil {
			return err
		}
		assert.Equal(t, 42, obj.(*fakeObject).Value)
		return nil
	})
	require.NoError(t, err)
}

func TestGet_MissingHandleReturnsErrNotFound(t *testing.T) {
	t.Parallel()

	mgr := NewManager()
	err := mgr.WithRetry(context.Background(), func(tx *Tx) error {
		_, err := tx.Get(Handle{})
		return err
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkForUpdate_PersistsAcrossCommit(t *testing.T) {
	t.Parallel()

	mgr := NewManager()
	var h Handle
	require.NoError(t, mgr.WithRetry(context.Background(), func(tx *Tx) error {
		h = tx.CreateRef(&fakeObject{Value: 1})
		return nil
	}))

	require.NoError(t, mgr.WithRetry(context.Background(), func(tx *Tx) error {
		obj, err := tx.Get(h)
		if err != nil {
			return err
		}
		fo := obj.(*fakeObject)
		fo.Value = 2
		return tx.MarkForUpdate(fo)
	}))

	require.NoError(t, mgr.WithRetry(context.Background(), func(tx *Tx) error {
		obj, err := tx.Get(h)
		if err != nil {
			return err
		}
		assert.Equal(t, 2, obj.(*fakeObject).Value)
		return nil
	}))
}

func TestRemoveObject(t *testing.T) {
	t.Parallel()

	mgr := NewManager()
	var h Handle
	require.NoError(t, mgr.WithRetry(context.Background(), func(tx *Tx) error {
		h = tx.CreateRef(&fakeObject{Value: 1})
		return nil
	}))

	require.NoError(t, mgr.WithRetry(context.Background(), func(tx *Tx) error {
		obj, err := tx.Get(h)
		if err != nil {
			return err
		}
		return tx.RemoveObject(obj.(*fakeObject))
	}))

	err := mgr.WithRetry(context.Background(), func(tx *Tx) error {
		_, err := tx.Get(h)
		return err
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestCommit_AbortsOnConflictingWrite simulates two concurrent
// transactions racing to update the same object: the second to commit
// must see its read set invalidated and abort.
func TestCommit_AbortsOnConflictingWrite(t *testing.T) {
	t.Parallel()

	mgr := NewManager()
	var h Handle
	require.NoError(t, mgr.WithRetry(context.Background(), func(tx *Tx) error {
		h = tx.CreateRef(&fakeObject{Value: 1})
		return nil
	}))

	txA := mgr.Begin(context.Background())
	objA, err := txA.Get(h)
	require.NoError(t, err)
	require.NoError(t, txA.MarkForUpdate(objA.(*fakeObject)))

	txB := mgr.Begin(context.Background())
	objB, err := txB.Get(h)
	require.NoError(t, err)
	objB.(*fakeObject).Value = 99
	require.NoError(t, txB.MarkForUpdate(objB.(*fakeObject)))
	require.NoError(t, txB.Commit())

	err = txA.Commit()
	assert.ErrorIs(t, err, ErrTransactionAborted)
}

func TestWithRetry_RetriesOnAbort(t *testing.T) {
	t.Parallel()

	mgr := NewManager()
	var h Handle
	require.NoError(t, mgr.WithRetry(context.Background(), func(tx *Tx) error {
		h = tx.CreateRef(&fakeObject{Value: 0})
		return nil
	}))

	attempts := 0
	err := mgr.WithRetry(context.Background(), func(tx *Tx) error {
		attempts++

		obj, err := tx.Get(h)
		if err != nil {
			return err
		}

		if attempts == 1 {
			// Simulate another writer sneaking in between this
			// transaction's read and its commit.
			require.NoError(t, mgr.WithRetry(context.Background(), func(racer *Tx) error {
				robj, err := racer.Get(h)
				if err != nil {
					return err
				}
				robj.(*fakeObject).Value = -1
				return racer.MarkForUpdate(robj.(*fakeObject))
			}))
		}

		fo := obj.(*fakeObject)
		fo.Value++
		return tx.MarkForUpdate(fo)
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, attempts, 2)
}

func TestIsManaged(t *testing.T) {
	t.Parallel()

	type managed struct {
		ManagedBase
	}

	mgr := NewManager()
	require.NoError(t, mgr.WithRetry(context.Background(), func(tx *Tx) error {
		assert.True(t, tx.IsManaged(&managed{}))
		assert.False(t, tx.IsManaged("plain string"))
		assert.False(t, tx.IsManaged(42))
		return nil
	}))
}

func TestBox(t *testing.T) {
	t.Parallel()

	mgr := NewManager()
	var h Handle
	require.NoError(t, mgr.WithRetry(context.Background(), func(tx *Tx) error {
		h = tx.CreateRef(NewBox("hello"))
		return nil
	}))

	require.NoError(t, mgr.WithRetry(context.Background(), func(tx *Tx) error {
		obj, err := tx.Get(h)
		if err != nil {
			return err
		}
		box := obj.(*Box[string])
		assert.Equal(t, "hello", box.Get())
		box.Set("world")
		return tx.MarkForUpdate(box)
	}))

	require.NoError(t, mgr.WithRetry(context.Background(), func(tx *Tx) error {
		obj, err := tx.Get(h)
		if err != nil {
			return err
		}
		assert.Equal(t, "world", obj.(*Box[string]).Get())
		return nil
	}))
}
