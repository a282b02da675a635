package engine

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Message IDs written by the engine.
const (
	MsgTruncated = "SQL0445" // value of a parameter truncated on input
	MsgPrint     = "LPRINTF" // text printed by a procedure body
)

// Message is one job log entry.
type Message struct {
	Seq       uint64
	ID        string
	Procedure string
	Text      string
	Time      time.Time
}

func (m Message) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-7s", m.Time.Format("15:04:05.000"), m.ID)
	if m.Procedure != "" {
		b.WriteString(" ")
		b.WriteString(m.Procedure)
	}
	b.WriteString(": ")
	b.WriteString(m.Text)
	return b.String()
}

// JobLog is a bounded in-memory message log. Counts are kept for every
// message ever added, including those evicted from the window.
type JobLog struct {
	mu      sync.Mutex
	entries []Message
	max     int
	seq     uint64
	counts  map[string]int
}

// NewJobLog keeps the last max messages. max <= 0 keeps 1000.
func NewJobLog(max int) *JobLog {
	if max <= 0 {
		max = 1000
	}
	return &JobLog{max: max, counts: make(map[string]int)}
}

// Add appends a message and returns it.
func (j *JobLog) Add(id, procedure, text string) Message {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.seq++
	m := Message{Seq: j.seq, ID: id, Procedure: procedure, Text: text, Time: time.Now()}
	j.entries = append(j.entries, m)
	if len(j.entries) > j.max {
		j.entries = append(j.entries[:0:0], j.entries[len(j.entries)-j.max:]...)
	}
	j.counts[id]++
	return m
}

// Count returns how many messages with the given ID were ever added.
func (j *JobLog) Count(id string) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.counts[id]
}

// Seq returns the sequence number of the newest message.
func (j *JobLog) Seq() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq
}

// Entries returns the retained messages, oldest first.
func (j *JobLog) Entries() []Message {
	return j.Since(0)
}

// Since returns retained messages with a sequence number above seq.
func (j *JobLog) Since(seq uint64) []Message {
	j.mu.Lock()
	defer j.mu.Unlock()

	var out []Message
	for _, m := range j.entries {
		if m.Seq > seq {
			out = append(out, m)
		}
	}
	return out
}
