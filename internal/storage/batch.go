package storage

// Batch buffers writes and applies them together on Commit.
// A batch that is never committed leaves the database untouched.
type Batch interface {
	Writer
	Commit() error
}

// Batcher is implemented by databases that can commit a batch atomically.
type Batcher interface {
	NewBatch() Batch
}

// NewBatch returns an atomic batch when db supports one, and a buffered
// non-atomic batch otherwise.
func NewBatch(db DB) Batch {
	if b, ok := db.(Batcher); ok {
		return b.NewBatch()
	}
	return &fallbackBatch{db: db}
}

type batchOp struct {
	key   []byte
	value []byte // nil means delete
}

// fallbackBatch buffers writes and replays them one by one on Commit.
type fallbackBatch struct {
	db  Writer
	ops []batchOp
}

func (fb *fallbackBatch) Put(key, value []byte) error {
	v := make([]byte, len(value))
	copy(v, value)
	fb.ops = append(fb.ops, batchOp{key: copyBytes(key), value: v})
	return nil
}

func (fb *fallbackBatch) Delete(key []byte) error {
	fb.ops = append(fb.ops, batchOp{key: copyBytes(key)})
	return nil
}

func (fb *fallbackBatch) Commit() error {
	for _, op := range fb.ops {
		if op.value == nil {
			if err := fb.db.Delete(op.key); err != nil {
				return err
			}
			continue
		}
		if err := fb.db.Put(op.key, op.value); err != nil {
			return err
		}
	}
	fb.ops = nil
	return nil
}

func copyBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
