package embedlog

import (
	"context"
	"time"

	oembedfilter "github.com/ferro-labs/oembed-filter"
	"github.com/ferro-labs/oembed-filter/internal/logging"
)

// Hook returns a filter event hook that writes embedded, rejected and failed
// links to w.
func Hook(w Writer) oembedfilter.EventHookFunc {
	return func(ctx context.Context, subject string, data map[string]interface{}) {
		var stage string
		switch subject {
		case oembedfilter.SubjectLinkEmbedded:
			stage = StageEmbedded
		case oembedfilter.SubjectLinkRejected:
			stage = StageRejected
		case oembedfilter.SubjectLinkFailed:
			stage = StageFailed
		default:
			return
		}
		entry := Entry{
			TraceID:      str(data["trace_id"]),
			Stage:        stage,
			Provider:     str(data["provider"]),
			URL:          str(data["url"]),
			Type:         str(data["type"]),
			ErrorMessage: str(data["error"]),
			CreatedAt:    time.Now().UTC(),
		}
		entry.CacheHit, _ = data["cache_hit"].(bool)

		// The request context may already be done when the hook runs.
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := w.Write(wctx, entry); err != nil {
			logging.Logger.Warn("embed log write failed", "error", err)
		}
	}
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}
