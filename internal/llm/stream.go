package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/spherical/comic-extractor/internal/domain"
)

// maxEventBytes bounds one SSE line. Vision answers arrive as many small
// deltas, so this is only hit by a broken stream.
const maxEventBytes = 1 << 20

// streamEvent is one `data:` payload of a chat completion stream. Providers
// report failures that happen after the headers as an error payload.
type streamEvent struct {
	Choices []Choice `json:"choices"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// readStream forwards the content deltas of an SSE chat stream to out
// until the stream finishes, fails or ctx ends. It never closes out.
func readStream(ctx context.Context, r io.Reader, out chan<- string) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxEventBytes)

	for sc.Scan() {
		data, ok := strings.CutPrefix(sc.Text(), "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			return nil
		}

		var ev streamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}
		if ev.Error != nil {
			return domain.APIError("stream failed: "+ev.Error.Message, nil)
		}
		if len(ev.Choices) == 0 {
			continue
		}

		choice := ev.Choices[0]
		if choice.Delta.Content != "" {
			select {
			case out <- choice.Delta.Content:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if choice.FinishReason != "" {
			return nil
		}
	}
	if err := sc.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return domain.APIError("read stream", err)
	}
	return nil
}
