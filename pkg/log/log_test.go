package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{" WARNING ", LevelWarn, false},
		{"err", LevelError, false},
		{"none", LevelOff, false},
		{"", LevelInfo, false},
		{"chatty", LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestCategoryLevels(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{
		DefaultLevel:   LevelInfo,
		CategoryLevels: map[Category]Level{CategoryBind: LevelDebug},
		Output:         &buf,
	})

	l.Execute().Debug("hidden")
	l.Bind().Debug("resolved descriptor", "slot", 1)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug entry leaked through info level: %q", out)
	}
	if !strings.Contains(out, "[bind] resolved descriptor slot=1") {
		t.Errorf("bind debug entry missing: %q", out)
	}
}

func TestSetAllLevels(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{DefaultLevel: LevelWarn, Output: &buf})

	l.Decode().Info("before")
	l.SetAllLevels(LevelDebug)
	l.Decode().Debug("after")

	if strings.Contains(buf.String(), "before") {
		t.Error("info entry should have been filtered")
	}
	if !strings.Contains(buf.String(), "after") {
		t.Error("debug entry should pass after SetAllLevels")
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{DefaultLevel: LevelDebug, Output: &buf, Format: FormatJSON})

	l.Execute().Error("call failed", errors.New("boom"), "procedure", "SP_TEST")

	var decoded map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if decoded["level"] != "ERROR" {
		t.Errorf("level = %v, want ERROR", decoded["level"])
	}
	if decoded["error"] != "boom" {
		t.Errorf("error = %v, want boom", decoded["error"])
	}
	fields, _ := decoded["fields"].(map[string]interface{})
	if fields["procedure"] != "SP_TEST" {
		t.Errorf("fields = %v", fields)
	}
}

func TestSinkAndFieldLogger(t *testing.T) {
	l := New(Config{DefaultLevel: LevelDebug, Output: &bytes.Buffer{}})

	var got []*Entry
	l.AddSink(func(e *Entry) { got = append(got, e) })

	fl := l.Bind().WithFields("statement", "CALL X(?)")
	fl.Warn("value truncated", "slot", 2)

	if len(got) != 1 {
		t.Fatalf("sink saw %d entries, want 1", len(got))
	}
	if got[0].Field("statement") != "CALL X(?)" || got[0].Field("slot") != 2 {
		t.Errorf("fields = %v", got[0].Fields)
	}
}

func TestAsyncFlushOnClose(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{DefaultLevel: LevelInfo, Output: &buf, AsyncBuffer: 16})

	for i := 0; i < 5; i++ {
		l.Connection().Info("opened")
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if n := strings.Count(buf.String(), "opened"); n != 5 {
		t.Errorf("flushed %d entries, want 5", n)
	}
	logged, dropped := l.Stats()
	if logged != 5 || dropped != 0 {
		t.Errorf("Stats() = %d, %d; want 5, 0", logged, dropped)
	}
}

func TestAsyncCloseWhileLogging(t *testing.T) {
	l := New(Config{DefaultLevel: LevelInfo, Output: io.Discard, AsyncBuffer: 4})

	const workers, per = 8, 200
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < per; i++ {
				l.Execute().Info("call")
			}
		}()
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	wg.Wait()
	if err := l.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	logged, dropped := l.Stats()
	if logged+dropped != workers*per {
		t.Errorf("logged %d + dropped %d, want %d", logged, dropped, workers*per)
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	l.Bind().Info("nothing happens")
}
