package txlog

import "github.com/kolkov/txmem/internal/tm/meta"

// OrecSnapshot pairs an orec with the version observed when the owning
// transaction read through it.
type OrecSnapshot struct {
	O *meta.Orec
	V uint64
}

// OrecLog is the per-transaction list of orec observations. Value-based
// algorithms re-validate the whole log on every read.
type OrecLog struct {
	entries []OrecSnapshot
}

// NewOrecLog builds an empty orec log.
func NewOrecLog() *OrecLog {
	return &OrecLog{entries: make([]OrecSnapshot, 0, 64)}
}

// Insert appends an observation.
//
//go:nosplit
func (ol *OrecLog) Insert(o *meta.Orec, v uint64) {
	ol.entries = append(ol.entries, OrecSnapshot{O: o, V: v})
}

// Entries exposes the observations in insertion order.
//
//go:nosplit
func (ol *OrecLog) Entries() []OrecSnapshot {
	return ol.entries
}

// Reset clears the log, keeping its backing storage.
//
//go:nosplit
func (ol *OrecLog) Reset() {
	ol.entries = ol.entries[:0]
}

// OrecList is a plain list of orecs, used for the locks a committing
// transaction has acquired.
type OrecList struct {
	entries []*meta.Orec
}

// NewOrecList builds an empty orec list.
func NewOrecList() *OrecList {
	return &OrecList{entries: make([]*meta.Orec, 0, 64)}
}

// Insert appends an orec.
//
//go:nosplit
func (l *OrecList) Insert(o *meta.Orec) {
	l.entries = append(l.entries, o)
}

// Entries exposes the list in insertion order.
//
//go:nosplit
func (l *OrecList) Entries() []*meta.Orec {
	return l.entries
}

// Reset clears the list, keeping its backing storage.
//
//go:nosplit
func (l *OrecList) Reset() {
	l.entries = l.entries[:0]
}

// ByteLockList is a list of bytelock references; one per descriptor for
// read reservations and one for write ownership.
type ByteLockList struct {
	entries []*meta.ByteLock
}

// NewByteLockList builds an empty bytelock list.
func NewByteLockList() *ByteLockList {
	return &ByteLockList{entries: make([]*meta.ByteLock, 0, 64)}
}

// Insert appends a bytelock.
//
//go:nosplit
func (l *ByteLockList) Insert(b *meta.ByteLock) {
	l.entries = append(l.entries, b)
}

// Entries exposes the list in insertion order.
//
//go:nosplit
func (l *ByteLockList) Entries() []*meta.ByteLock {
	return l.entries
}

// Reset clears the list, keeping its backing storage.
//
//go:nosplit
func (l *ByteLockList) Reset() {
	l.entries = l.entries[:0]
}
