package http2

import (
	"sort"
)

// Streams is a sorted-by-id collection of in-flight streams.
//
// It carries no internal locking: the Dispatcher goroutine is its sole
// owner, per the connection's single-writer stream-table design, so a
// mutex would only add overhead for contention that can't happen.
type Streams struct {
	list []*Stream
}

// Len returns the number of tracked streams.
func (strms *Streams) Len() int {
	return len(strms.list)
}

// Range calls fn for every tracked stream, in ascending id order. fn
// must not mutate strms.
func (strms *Streams) Range(fn func(*Stream)) {
	for _, s := range strms.list {
		fn(s)
	}
}

func (strms *Streams) Insert(s *Stream) {
	i := sort.Search(len(strms.list), func(i int) bool {
		return strms.list[i].id >= s.id
	})

	if i == len(strms.list) {
		strms.list = append(strms.list, s)
	} else {
		// TODO: overflows?
		strms.list = append(strms.list[:i+1], strms.list[i:]...)
		strms.list[i] = s
	}
}

func (strms *Streams) Del(id uint32) *Stream {
	i := sort.Search(len(strms.list), func(i int) bool {
		return strms.list[i].id >= id
	})

	if i < len(strms.list) && strms.list[i].id == id {
		strm := strms.list[i]
		strms.list = append(strms.list[:i], strms.list[i+1:]...)
		return strm
	}

	return nil
}

func (strms *Streams) Get(id uint32) *Stream {
	i := sort.Search(len(strms.list), func(i int) bool {
		return strms.list[i].id >= id
	})
	if i < len(strms.list) && strms.list[i].id == id {
		return strms.list[i]
	}

	return nil
}
