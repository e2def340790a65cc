package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

const (
	pollInterval = 250 * time.Millisecond
	maxLineBytes = 1024 * 1024
)

// Request selects which part of a log file to read.
type Request struct {
	// Offset is a byte position from a previous Chunk; negative means
	// "start from the last Lines lines".
	Offset int64
	Lines  int
	// Wait is how long to poll for new output when nothing is available yet.
	Wait time.Duration
}

// Chunk is a batch of lines and the offset to resume from.
type Chunk struct {
	Lines  []string `json:"lines"`
	Offset int64    `json:"offset"`
}

// Tail reads path according to req. A missing file yields an empty chunk
// with offset 0 so callers can start before the daemon writes anything.
func Tail(ctx context.Context, path string, req Request) (Chunk, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return Chunk{Lines: []string{}}, nil
	}
	if err != nil {
		return Chunk{}, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return Chunk{}, fmt.Errorf("log path %q is a directory", path)
	}

	var chunk Chunk
	if req.Offset < 0 {
		chunk, err = lastLines(path, req.Lines)
	} else {
		offset := req.Offset
		if offset > info.Size() {
			// file was truncated or replaced; resume from its end
			offset = info.Size()
		}
		chunk, err = readFrom(path, offset)
	}
	if err != nil || len(chunk.Lines) > 0 || req.Wait <= 0 {
		return chunk, err
	}
	return poll(ctx, path, chunk.Offset, req.Wait)
}

func lastLines(path string, n int) (Chunk, error) {
	file, err := os.Open(path)
	if err != nil {
		return Chunk{}, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if n <= 0 {
		end, err := file.Seek(0, io.SeekEnd)
		if err != nil {
			return Chunk{}, fmt.Errorf("seek log file: %w", err)
		}
		return Chunk{Lines: []string{}, Offset: end}, nil
	}

	window := make([]string, 0, n)
	scanner := newScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if len(window) == n {
			window = append(window[:0], window[1:]...)
		}
		window = append(window, line)
	}
	if err := scanner.Err(); err != nil {
		return Chunk{}, fmt.Errorf("read log file: %w", err)
	}
	end, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		return Chunk{}, fmt.Errorf("seek log file: %w", err)
	}
	return Chunk{Lines: window, Offset: end}, nil
}

func readFrom(path string, offset int64) (Chunk, error) {
	file, err := os.Open(path)
	if err != nil {
		return Chunk{}, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return Chunk{}, fmt.Errorf("seek log file: %w", err)
	}
	lines := []string{}
	next := offset
	reader := bufio.NewReaderSize(file, 64*1024)
	for {
		line, err := reader.ReadString('\n')
		if errors.Is(err, io.EOF) {
			// a partial line stays unread until its newline lands
			break
		}
		if err != nil {
			return Chunk{}, fmt.Errorf("read log file: %w", err)
		}
		next += int64(len(line))
		lines = append(lines, trimNewline(line))
	}
	return Chunk{Lines: lines, Offset: next}, nil
}

func poll(ctx context.Context, path string, offset int64, wait time.Duration) (Chunk, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return Chunk{Lines: []string{}, Offset: offset}, ctx.Err()
		case <-timer.C:
			return Chunk{Lines: []string{}, Offset: offset}, nil
		case <-ticker.C:
		}
		chunk, err := readFrom(path, offset)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return chunk, err
		}
		if len(chunk.Lines) > 0 {
			return chunk, nil
		}
	}
}

func newScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return scanner
}

func trimNewline(line string) string {
	if n := len(line); n > 0 && line[n-1] == '\n' {
		line = line[:n-1]
		if n := len(line); n > 0 && line[n-1] == '\r' {
			line = line[:n-1]
		}
	}
	return line
}
