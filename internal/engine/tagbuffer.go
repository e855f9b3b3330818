package engine

import (
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/samthesuperhero/clourfid/internal/protocol"
)

// TagBuffer accumulates decoded tag records in arrival order,
// suppressing duplicates whose non-excluded fields are identical
// (§8 property 6, §5 ordering guarantees). Not safe for concurrent
// use; the engine's single-threaded loop owns it.
type TagBuffer struct {
	excludeLabels map[string]struct{}
	records       []protocol.TagRecord
	seen          map[string]struct{}
}

// NewTagBuffer creates a TagBuffer that ignores differences in the
// named tag-data parameter labels (e.g. "SERIES_NUM", "TIME") when
// deciding whether two records are duplicates, per the
// tag-param-duplicate-exclude config setting.
func NewTagBuffer(excludeLabels []string) *TagBuffer {
	set := make(map[string]struct{}, len(excludeLabels))
	for _, l := range excludeLabels {
		set[l] = struct{}{}
	}
	return &TagBuffer{excludeLabels: set, seen: map[string]struct{}{}}
}

func (b *TagBuffer) fingerprint(rec protocol.TagRecord) string {
	var sb strings.Builder
	sb.WriteString(hex.EncodeToString(rec.EPC))
	sb.WriteByte('|')
	sb.WriteString(strconv.Itoa(int(rec.PC)))
	sb.WriteByte('|')
	sb.WriteString(strconv.Itoa(int(rec.AntID)))

	ids := make([]int, 0, len(rec.Params))
	for id := range rec.Params {
		label, known := protocol.DecodeTagData[id]
		if known {
			if _, excluded := b.excludeLabels[label]; excluded {
				continue
			}
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		v := rec.Params[id]
		sb.WriteByte('|')
		sb.WriteString(strconv.Itoa(id))
		sb.WriteByte(':')
		sb.WriteString(strconv.Itoa(int(v.Byte)))
		sb.WriteString(hex.EncodeToString(v.Bytes))
		sb.WriteString(strconv.FormatFloat(v.Time, 'f', -1, 64))
	}
	return sb.String()
}

// Insert appends rec if it is not a duplicate of any record already
// buffered, and reports whether it was added.
func (b *TagBuffer) Insert(rec protocol.TagRecord) bool {
	fp := b.fingerprint(rec)
	if _, dup := b.seen[fp]; dup {
		return false
	}
	b.seen[fp] = struct{}{}
	b.records = append(b.records, rec)
	return true
}

// Len returns the number of buffered records.
func (b *TagBuffer) Len() int { return len(b.records) }

// All returns every buffered record, oldest first.
func (b *TagBuffer) All() []protocol.TagRecord { return b.records }

// Clear empties the buffer and returns how many records were erased,
// for the STS cleandata api-method.
func (b *TagBuffer) Clear() int {
	n := len(b.records)
	b.records = nil
	b.seen = map[string]struct{}{}
	return n
}
