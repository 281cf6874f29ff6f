package capture

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Sample is one telemetry record as it arrived on the wire.
type Sample struct {
	SessionID  string
	Seq        int
	TimeMs     int
	MilliVolts int
	MilliAmps  int
	Received   time.Time
}

// ErrQueueFull is returned when the writer cannot keep up.
var ErrQueueFull = errors.New("journal queue full")

// Journal writes samples to JSONL and/or CSV on a background goroutine so the
// receive loop never blocks on disk.
type Journal struct {
	sessionID  string
	q          chan Sample
	enableJSON bool
	enableCSV  bool

	jsonFile   *os.File
	jsonWriter *bufio.Writer

	csvFile   *os.File
	csvWriter *csv.Writer

	closeOnce sync.Once
	closed    chan struct{}

	// err is the first write failure; set by loop only.
	err error
}

// Open creates dir, opens one file per enabled format named after the session,
// and starts the writer.
func Open(dir, sessionID, fileType string, maxQueue int) (*Journal, error) {
	if dir == "" {
		dir = "data/capture"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}

	j := &Journal{
		sessionID: sessionID,
		q:         make(chan Sample, maxQueueIfPositive(maxQueue, 1000)),
		closed:    make(chan struct{}),
	}
	switch strings.ToLower(strings.TrimSpace(fileType)) {
	case "json", "jsonl":
		j.enableJSON = true
	case "csv":
		j.enableCSV = true
	case "json+csv", "csv+json", "both", "":
		j.enableJSON = true
		j.enableCSV = true
	default:
		return nil, fmt.Errorf("unsupported capture file_type %q", fileType)
	}

	if j.enableJSON {
		jf, err := os.OpenFile(filepath.Join(dir, sessionID+".jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open json journal: %w", err)
		}
		j.jsonFile = jf
		j.jsonWriter = bufio.NewWriterSize(jf, 64*1024)
	}
	if j.enableCSV {
		cf, err := os.OpenFile(filepath.Join(dir, sessionID+".csv"), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			if j.jsonFile != nil {
				j.jsonFile.Close()
			}
			return nil, fmt.Errorf("open csv journal: %w", err)
		}
		j.csvFile = cf
		j.csvWriter = csv.NewWriter(cf)
		if err := j.csvWriter.Write([]string{"received", "session_id", "seq", "time_ms", "mv", "ma"}); err != nil {
			j.closeFiles()
			return nil, fmt.Errorf("write csv header: %w", err)
		}
	}

	go j.loop()
	return j, nil
}

func maxQueueIfPositive(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func (j *Journal) loop() {
	for s := range j.q {
		if j.enableJSON {
			j.record(j.writeJSONL(s))
		}
		if j.enableCSV {
			j.record(j.writeCSV(s))
		}
	}
	if j.jsonWriter != nil {
		j.record(j.jsonWriter.Flush())
	}
	if j.csvWriter != nil {
		j.csvWriter.Flush()
		j.record(j.csvWriter.Error())
	}
	close(j.closed)
}

// record logs the first write failure; later ones are dropped.
func (j *Journal) record(err error) {
	if err == nil || j.err != nil {
		return
	}
	j.err = err
	log.Printf("capture %s: write failed, journal incomplete: %v", j.sessionID, err)
}

// Handle queues a sample without blocking.
func (j *Journal) Handle(s Sample) error {
	select {
	case j.q <- s:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close drains the queue, flushes and closes the files. Safe to call twice.
func (j *Journal) Close() {
	j.closeOnce.Do(func() {
		close(j.q)
		<-j.closed
		j.closeFiles()
	})
}

func (j *Journal) closeFiles() {
	if j.jsonFile != nil {
		j.jsonFile.Close()
	}
	if j.csvFile != nil {
		j.csvFile.Close()
	}
}

func (j *Journal) writeJSONL(s Sample) error {
	b, err := json.Marshal(map[string]any{
		"received":   s.Received.Format(time.RFC3339Nano),
		"session_id": s.SessionID,
		"seq":        s.Seq,
		"time_ms":    s.TimeMs,
		"mv":         s.MilliVolts,
		"ma":         s.MilliAmps,
	})
	if err != nil {
		return err
	}
	if _, err := j.jsonWriter.Write(b); err != nil {
		return err
	}
	_, err = j.jsonWriter.WriteString("\n")
	return err
}

func (j *Journal) writeCSV(s Sample) error {
	return j.csvWriter.Write([]string{
		s.Received.Format(time.RFC3339Nano),
		s.SessionID,
		strconv.Itoa(s.Seq),
		strconv.Itoa(s.TimeMs),
		strconv.Itoa(s.MilliVolts),
		strconv.Itoa(s.MilliAmps),
	})
}
