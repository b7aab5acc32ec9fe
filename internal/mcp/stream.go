package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"sync"

	"go.lsp.dev/jsonrpc2"

	"github.com/kyleking/askdb/internal/logging"
)

const maxLineBytes = 4 << 20

// lineStream frames JSON-RPC messages as one JSON document per line, the
// stdio transport MCP hosts speak. Header framing from jsonrpc2.NewStream is
// not understood by them.
type lineStream struct {
	in     *bufio.Reader
	out    io.Writer
	closer []io.Closer
	logger *logging.Logger

	mu sync.Mutex
}

// NewLineStream reads requests from r and writes responses to w.
func NewLineStream(r io.Reader, w io.Writer, logger *logging.Logger) jsonrpc2.Stream {
	s := &lineStream{
		in:     bufio.NewReaderSize(r, 64<<10),
		out:    w,
		logger: logger,
	}

	for _, v := range []any{r, w} {
		if c, ok := v.(io.Closer); ok {
			s.closer = append(s.closer, c)
		}
	}

	return s
}

// Read returns the next message. Blank and undecodable lines are skipped.
func (s *lineStream) Read(ctx context.Context) (jsonrpc2.Message, int64, error) {
	var total int64

	for {
		if err := ctx.Err(); err != nil {
			return nil, total, err
		}

		line, err := s.readLine()
		total += int64(len(line))

		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			msg, derr := jsonrpc2.DecodeMessage(trimmed)
			if derr == nil {
				return msg, total, nil
			}

			s.logger.WithError(derr).Warn("skipping malformed JSON-RPC line")
		}

		if err != nil {
			return nil, total, err
		}
	}
}

func (s *lineStream) readLine() ([]byte, error) {
	var line []byte

	for {
		chunk, err := s.in.ReadSlice('\n')
		line = append(line, chunk...)

		if len(line) > maxLineBytes {
			return nil, fmt.Errorf("message exceeds %d bytes", maxLineBytes)
		}

		if !stderrors.Is(err, bufio.ErrBufferFull) {
			return line, err
		}
	}
}

func (s *lineStream) Write(_ context.Context, msg jsonrpc2.Message) (int64, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("marshaling message: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.out.Write(append(data, '\n'))

	return int64(n), err
}

func (s *lineStream) Close() error {
	var errs []error
	for _, c := range s.closer {
		errs = append(errs, c.Close())
	}

	return stderrors.Join(errs...)
}
