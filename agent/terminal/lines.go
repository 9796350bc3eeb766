package terminal

import (
	"bufio"
	"context"
	"sync"
)

type lineResult struct {
	line string
	err  error
}

// lineReader reads lines on a background goroutine so a read can be
// abandoned when ctx ends. At most one read is outstanding; a read left
// behind by a cancelled call is handed to the next caller.
type lineReader struct {
	in      *bufio.Reader
	once    sync.Once
	req     chan struct{}
	res     chan lineResult
	waiting bool
}

func newLineReader(in *bufio.Reader) *lineReader {
	return &lineReader{
		in:  in,
		req: make(chan struct{}),
		res: make(chan lineResult),
	}
}

func (l *lineReader) loop() {
	for range l.req {
		line, err := l.in.ReadString('\n')
		l.res <- lineResult{line: line, err: err}
	}
}

// ReadLine returns the next line including its newline, or ctx's error if
// ctx ends first.
func (l *lineReader) ReadLine(ctx context.Context) (string, error) {
	l.once.Do(func() { go l.loop() })
	if !l.waiting {
		l.req <- struct{}{}
		l.waiting = true
	}
	select {
	case r := <-l.res:
		l.waiting = false
		return r.line, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
