package batch

import "github.com/callrelay/callrelay/internal/callingester/model"

// Buffer is the ordered working set of records waiting for the next flush. It is not safe for
// concurrent use; the Flusher that owns it serialises every access.
type Buffer struct {
	records []*model.BufferedRecord
}

func NewBuffer() *Buffer {
	return &Buffer{}
}

func (b *Buffer) Append(record *model.BufferedRecord) {
	b.records = append(b.records, record)
}

// Drain returns every buffered record in append order and leaves the buffer empty. It is the only
// way records leave the buffer.
func (b *Buffer) Drain() []*model.BufferedRecord {
	drained := b.records
	b.records = nil
	return drained
}

func (b *Buffer) Size() int {
	return len(b.records)
}

func (b *Buffer) IsEmpty() bool {
	return len(b.records) == 0
}
