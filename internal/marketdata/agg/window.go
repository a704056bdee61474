package agg

import (
	"sort"

	"hadoji/internal/model"
)

// window holds in-flight candle accumulators ordered by minute.
// It stays small in practice (a handful of entries for a near-ordered feed),
// so a sorted slice beats a map for both lookup and ordered eviction.
type window struct {
	slots []*model.Candle // ascending by Minute
}

// find returns the index of minute m, or the insertion point and false.
func (w *window) find(m model.MinuteKey) (int, bool) {
	i := sort.Search(len(w.slots), func(i int) bool { return w.slots[i].Minute >= m })
	return i, i < len(w.slots) && w.slots[i].Minute == m
}

// get returns the accumulator for minute m, if any.
func (w *window) get(m model.MinuteKey) *model.Candle {
	if i, ok := w.find(m); ok {
		return w.slots[i]
	}
	return nil
}

// insert adds c keeping the slice ordered. c.Minute must not already exist.
func (w *window) insert(c *model.Candle) {
	i, _ := w.find(c.Minute)
	w.slots = append(w.slots, nil)
	copy(w.slots[i+1:], w.slots[i:])
	w.slots[i] = c
}

// take removes and returns the accumulator for minute m.
func (w *window) take(m model.MinuteKey) (*model.Candle, bool) {
	i, ok := w.find(m)
	if !ok {
		return nil, false
	}
	c := w.slots[i]
	w.slots = append(w.slots[:i], w.slots[i+1:]...)
	return c, true
}

// evictBefore removes every accumulator older than cutoff, oldest first.
func (w *window) evictBefore(cutoff model.MinuteKey) []*model.Candle {
	i, _ := w.find(cutoff)
	if i == 0 {
		return nil
	}
	evicted := make([]*model.Candle, i)
	copy(evicted, w.slots[:i])
	w.slots = append(w.slots[:0], w.slots[i:]...)
	return evicted
}

// evictAfter removes every accumulator newer than cutoff, oldest first.
func (w *window) evictAfter(cutoff model.MinuteKey) []*model.Candle {
	i, ok := w.find(cutoff)
	if ok {
		i++
	}
	if i == len(w.slots) {
		return nil
	}
	evicted := make([]*model.Candle, len(w.slots)-i)
	copy(evicted, w.slots[i:])
	w.slots = w.slots[:i]
	return evicted
}

func (w *window) len() int { return len(w.slots) }
