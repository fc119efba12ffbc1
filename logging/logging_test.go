package logging

import (
	"bytes"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
)

func TestBufferedStartup(t *testing.T) {
	if err := Init(true, "DEBUG", "text", ""); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	slog.Info("Startup log")

	var pane bytes.Buffer
	if err := SetOutput(&pane); err != nil {
		t.Fatalf("SetOutput failed: %v", err)
	}

	if !strings.Contains(pane.String(), "Startup log") {
		t.Errorf("Expected buffered record to be flushed to the pane. Got: %s", pane.String())
	}

	slog.Info("Live log")
	if !strings.Contains(pane.String(), "Live log") {
		t.Errorf("Expected live record to be written to the pane. Got: %s", pane.String())
	}

	BufferOutput()
	slog.Info("Held back log")
	if strings.Contains(pane.String(), "Held back log") {
		t.Errorf("Expected record to be buffered after BufferOutput. Got: %s", pane.String())
	}

	if err := Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestFileLogging(t *testing.T) {
	tempFile, err := os.CreateTemp("", "gosense-test.log")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	defer os.Remove(tempFile.Name())

	if err := Init(false, "INFO", "json", tempFile.Name()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	slog.Info("Daemon log", "device", "livingroom")

	if err := Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	content, err := os.ReadFile(tempFile.Name())
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(content), `"msg":"Daemon log"`) || !strings.Contains(string(content), `"device":"livingroom"`) {
		t.Errorf("Expected JSON record in the log file. Got: %s", string(content))
	}
}

func TestLevelFiltering(t *testing.T) {
	if err := Init(true, "WARN", "text", ""); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	slog.Debug("invisible")
	slog.Info("also invisible")
	slog.Warn("visible")

	var pane bytes.Buffer
	if err := SetOutput(&pane); err != nil {
		t.Fatalf("SetOutput failed: %v", err)
	}
	if strings.Contains(pane.String(), "invisible") {
		t.Errorf("Expected records below WARN to be dropped. Got: %s", pane.String())
	}
	if !strings.Contains(pane.String(), "visible") {
		t.Errorf("Expected WARN record to pass. Got: %s", pane.String())
	}

	if err := Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestStderrFallbackOnClose(t *testing.T) {
	if err := Init(true, "DEBUG", "text", ""); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	slog.Info("Shutdown log")

	oldStderr := os.Stderr
	r, w, _ := os.Pipe()
	os.Stderr = w

	var wg sync.WaitGroup
	wg.Add(1)
	var captured string
	go func() {
		defer wg.Done()
		buf := make([]byte, 1024)
		n, _ := r.Read(buf)
		captured = string(buf[:n])
	}()

	if err := Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	w.Close()
	wg.Wait()
	os.Stderr = oldStderr

	if !strings.Contains(captured, "Shutdown log") {
		t.Errorf("Expected buffered records to end up on stderr. Got: %s", captured)
	}
}
