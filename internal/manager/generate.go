package manager

import (
	"context"
	"encoding/json"
	"io"

	"github.com/ysm446/sd-to-wan-prompt/pkg/types"
)

// Generate submits req and streams NDJSON to w: a start line with the
// request id, one line per fragment, then a done line with the terminal
// status. Errors before admission are returned and nothing is written; once
// streaming has begun failures are reported in the done line.
func (m *Manager) Generate(ctx context.Context, req Request, w io.Writer, flusher func()) error {
	st, err := m.Submit(ctx, req)
	if err != nil {
		return err
	}
	flush := func() {
		if flusher != nil {
			flusher()
		}
	}
	enc := json.NewEncoder(w)
	if err := enc.Encode(types.GenerateStartLine{RequestID: st.RequestID, PresetID: st.PresetID}); err != nil {
		st.Cancel()
		st.Wait()
		return nil
	}
	flush()
	for frag := range st.Fragments() {
		if err := enc.Encode(types.FragmentLine{Fragment: frag}); err != nil {
			// client went away
			st.Cancel()
			st.Wait()
			return nil
		}
		flush()
	}
	res := st.Wait()
	_ = enc.Encode(doneLine(st.RequestID, res))
	flush()
	return nil
}

// doneLine renders the terminal result of a stream.
func doneLine(requestID string, res Result) types.GenerateDoneLine {
	line := types.GenerateDoneLine{
		Done:         true,
		RequestID:    requestID,
		Status:       string(res.Status),
		Content:      res.Text,
		FinishReason: res.FinishReason,
	}
	if u := res.Usage; u.TotalTokens > 0 || u.CompletionTokens > 0 {
		line.Usage = &types.Usage{PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens, TotalTokens: u.TotalTokens}
	}
	if res.Err != nil && res.Status == StatusFailed {
		line.Error = res.Err.Error()
		line.Kind = kindOf(res.Err)
	}
	return line
}
