package sim

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/plcsim/go-mfs/internal/queue"
	"github.com/plcsim/go-mfs/telegram"
)

// DefaultJournalCap is the journal size used when no explicit cap is given.
const DefaultJournalCap = 5000

// Dir classifies a journal entry.
type Dir string

const (
	DirRX  Dir = "RX"  // telegram received from the host
	DirTX  Dir = "TX"  // telegram written to the wire
	DirSys Dir = "SYS" // connection or simulator notice, no telegram
)

// Handshake tags relating a movement order to its confirmation.
const (
	HandshakeReq = "REQ"
	HandshakeAck = "ACK"
)

// Entry is one journal record. Index is monotonically increasing and
// survives eviction, so entries keep their identity after old records
// rotate out.
type Entry struct {
	Index     uint64
	At        time.Time
	Dir       Dir
	Telegram  *telegram.Telegram
	Handshake string
	Notice    string
}

// Journal is a bounded, concurrency safe record of telegram traffic.
// When full it evicts the oldest entry.
type Journal struct {
	mu        sync.Mutex
	ring      *queue.Ring[Entry]
	nextIndex uint64

	rxCount *xsync.Counter
	txCount *xsync.Counter
}

// NewJournal creates a journal retaining at most capacity entries.
// A capacity below 1 falls back to DefaultJournalCap.
func NewJournal(capacity int) *Journal {
	if capacity < 1 {
		capacity = DefaultJournalCap
	}

	return &Journal{
		ring:    queue.NewRing[Entry](capacity),
		rxCount: xsync.NewCounter(),
		txCount: xsync.NewCounter(),
	}
}

// Record appends a telegram entry and returns its index.
func (j *Journal) Record(dir Dir, tg *telegram.Telegram) uint64 {
	switch dir {
	case DirRX:
		j.rxCount.Inc()
	case DirTX:
		j.txCount.Inc()
	}

	return j.append(Entry{
		At:       time.Now(),
		Dir:      dir,
		Telegram: tg,
	})
}

// System appends a notice entry without a telegram and returns its index.
func (j *Journal) System(notice string) uint64 {
	return j.append(Entry{
		At:     time.Now(),
		Dir:    DirSys,
		Notice: notice,
	})
}

// Tag sets the handshake tag of an existing entry. Tagging is post-hoc: the
// relation between an order and its confirmation is only known after the
// confirmation is produced. Tagging an evicted index is a no-op.
func (j *Journal) Tag(index uint64, tag string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	first := j.nextIndex - uint64(j.ring.Len())
	if index < first || index >= j.nextIndex {
		return
	}

	if entry := j.ring.At(int(index - first)); entry != nil {
		entry.Handshake = tag
	}
}

// Snapshot returns a copy of the retained entries in insertion order.
func (j *Journal) Snapshot() []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.ring.Snapshot()
}

// Len returns the number of retained entries.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.ring.Len()
}

// RxCount returns the number of received telegrams recorded, including
// entries already evicted from the ring.
func (j *Journal) RxCount() int64 {
	return j.rxCount.Value()
}

// TxCount returns the number of transmitted telegrams recorded, including
// entries already evicted from the ring.
func (j *Journal) TxCount() int64 {
	return j.txCount.Value()
}

func (j *Journal) append(entry Entry) uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()

	entry.Index = j.nextIndex
	j.nextIndex++
	j.ring.Push(entry)

	return entry.Index
}

// ExportTSV writes the retained entries as tab separated rows with a header
// line. Tabs, carriage returns and newlines inside field values are stripped
// so each entry stays on exactly one row.
func (j *Journal) ExportTSV(w io.Writer) error {
	entries := j.Snapshot()

	if _, err := io.WriteString(w, "index\ttime\tdir\ttype\tsubtype\tsource\tdest\tseq\tdata\thandshake\tnotice\n"); err != nil {
		return err
	}

	for i := range entries {
		entry := &entries[i]

		var typ, subType, source, dest, seq, data string
		if tg := entry.Telegram; tg != nil {
			typ = string(tg.Type)
			subType = tg.SubType
			source = tg.Source
			dest = tg.Destination
			seq = fmt.Sprintf("%06d", tg.Sequence)
			data = strings.TrimRight(tg.Data, " ")
		}

		row := []string{
			fmt.Sprintf("%d", entry.Index),
			entry.At.Format(time.RFC3339Nano),
			string(entry.Dir),
			typ, subType, source, dest, seq, data,
			entry.Handshake,
			entry.Notice,
		}

		for col, val := range row {
			row[col] = sanitizeTSV(val)
		}

		if _, err := io.WriteString(w, strings.Join(row, "\t")+"\n"); err != nil {
			return err
		}
	}

	return nil
}

// journalRecord is the JSON export shape of one entry.
type journalRecord struct {
	Index     uint64    `json:"index"`
	At        time.Time `json:"at"`
	Dir       string    `json:"dir"`
	Type      string    `json:"type,omitempty"`
	SubType   string    `json:"sub_type,omitempty"`
	Source    string    `json:"source,omitempty"`
	Dest      string    `json:"dest,omitempty"`
	Sequence  int       `json:"seq,omitempty"`
	Data      string    `json:"data,omitempty"`
	Degraded  bool      `json:"degraded,omitempty"`
	Handshake string    `json:"handshake,omitempty"`
	Notice    string    `json:"notice,omitempty"`
}

// ExportJSON writes the retained entries as JSON lines, one object per entry.
func (j *Journal) ExportJSON(w io.Writer) error {
	entries := j.Snapshot()
	json := jsoniter.ConfigCompatibleWithStandardLibrary

	for i := range entries {
		entry := &entries[i]

		record := journalRecord{
			Index:     entry.Index,
			At:        entry.At,
			Dir:       string(entry.Dir),
			Handshake: entry.Handshake,
			Notice:    entry.Notice,
		}

		if tg := entry.Telegram; tg != nil {
			record.Type = string(tg.Type)
			record.SubType = tg.SubType
			record.Source = tg.Source
			record.Dest = tg.Destination
			record.Sequence = tg.Sequence
			record.Data = strings.TrimRight(tg.Data, " ")
			record.Degraded = tg.Degraded
		}

		buf, err := json.Marshal(&record)
		if err != nil {
			return err
		}

		if _, err := w.Write(append(buf, '\n')); err != nil {
			return err
		}
	}

	return nil
}

var tsvSanitizer = strings.NewReplacer("\t", " ", "\r", " ", "\n", " ")

func sanitizeTSV(s string) string {
	return tsvSanitizer.Replace(s)
}
