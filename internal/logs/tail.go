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

// pollInterval is how often a follow request re-reads the file while waiting
// for new lines.
const pollInterval = 250 * time.Millisecond

// maxLineSize bounds a single log line during scanning.
const maxLineSize = 1024 * 1024

// TailOptions control a Tail call. A negative Offset means start from the
// end: return the newest Limit lines and the offset after them. Follow makes
// the call linger up to Wait for new lines when none are pending.
type TailOptions struct {
	Offset int64
	Limit  int
	Follow bool
	Wait   time.Duration
}

// TailResult carries the lines read and the offset to pass to the next call.
type TailResult struct {
	Lines  []string
	Offset int64
}

// Tail reads log lines from path according to opts. A missing file is not an
// error: the result carries offset zero so pollers keep working while the
// daemon has not written anything yet.
func Tail(ctx context.Context, path string, opts TailOptions) (TailResult, error) {
	res := TailResult{Offset: opts.Offset}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			res.Offset = 0
			return res, nil
		}
		return res, fmt.Errorf("stat log: %w", err)
	}
	if info.IsDir() {
		return res, fmt.Errorf("%q is a directory, not a log file", path)
	}

	if opts.Offset < 0 {
		res.Lines, res.Offset, err = lastLines(path, opts.Limit)
	} else {
		offset := opts.Offset
		if offset > info.Size() {
			offset = info.Size()
		}
		res.Lines, res.Offset, err = linesFrom(path, offset)
	}
	if err != nil {
		return TailResult{Offset: opts.Offset}, err
	}

	if opts.Follow && opts.Wait > 0 && len(res.Lines) == 0 {
		return awaitLines(ctx, path, res.Offset, opts.Wait)
	}
	return res, nil
}

func newLineScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return scanner
}

// lastLines returns the newest limit lines and the end-of-file offset.
func lastLines(path string, limit int) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open log: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, 0, fmt.Errorf("stat log: %w", err)
	}
	if limit <= 0 {
		return nil, info.Size(), nil
	}

	// Slide a window of the newest limit lines across the file in one pass.
	var tail []string
	scanner := newLineScanner(file)
	for scanner.Scan() {
		tail = append(tail, scanner.Text())
		if len(tail) > limit {
			tail = tail[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("scan log: %w", err)
	}

	offset, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, 0, fmt.Errorf("resolve log offset: %w", err)
	}
	return tail, offset, nil
}

// linesFrom returns every line from offset onward and the offset after the
// last byte consumed.
func linesFrom(path string, offset int64) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open log: %w", err)
	}
	defer file.Close()

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, 0, fmt.Errorf("seek log: %w", err)
	}

	var out []string
	scanner := newLineScanner(file)
	for scanner.Scan() {
		out = append(out, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("scan log: %w", err)
	}

	pos, err := file.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, 0, fmt.Errorf("resolve log offset: %w", err)
	}
	return out, pos, nil
}

// awaitLines polls the file until new lines appear, the wait elapses, or the
// context ends. The returned offset is always safe to resume from.
func awaitLines(ctx context.Context, path string, offset int64, wait time.Duration) (TailResult, error) {
	stopAt := time.Now().Add(wait)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	res := TailResult{Offset: offset}
	for {
		fresh, next, err := linesFrom(path, offset)
		if err != nil {
			return res, err
		}
		res.Offset = next
		if len(fresh) > 0 {
			res.Lines = fresh
			return res, nil
		}
		if time.Now().After(stopAt) {
			return res, nil
		}

		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-ticker.C:
		}
	}
}
