package transport

import (
	"fmt"
	"maps"

	"github.com/charmbracelet/log"

	"cyclone/internal/logger"
)

// ProgressMessageMaker turns whatever a command reports through its progress callback into the
// map sent to the client.
type ProgressMessageMaker struct {
	logger *log.Logger
	log    bool
}

// NewProgressMessageMaker creates a maker. When logProgress is set every message is also logged
// at debug level.
func NewProgressMessageMaker(logProgress bool) *ProgressMessageMaker {
	return &ProgressMessageMaker{
		logger: logger.NewStyledLogger("Progress"),
		log:    logProgress,
	}
}

// Make builds the progress map for message. keyvals are alternating keys and values merged into
// the result.
//
//   - an error becomes {"error_code": <type>, "error": <details or message>}
//   - nil becomes {"done": true}
//   - a map is copied
//   - anything else becomes {"info": message}
func (m *ProgressMessageMaker) Make(message any, keyvals ...any) map[string]any {
	info := make(map[string]any, 2+len(keyvals)/2)

	switch msg := message.(type) {
	case error:
		info["error_code"] = errorCode(msg)
		if d, ok := msg.(detailer); ok {
			info["error"] = d.Details()
		} else {
			info["error"] = msg.Error()
		}
	case nil:
		info["done"] = true
	case map[string]any:
		maps.Copy(info, msg)
	default:
		info["info"] = msg
	}

	for i := 0; i < len(keyvals); i += 2 {
		key := fmt.Sprint(keyvals[i])
		if i+1 < len(keyvals) {
			info[key] = keyvals[i+1]
		} else {
			info[key] = nil
		}
	}

	if m.log {
		m.logger.Debug("Progress", "message", info)
	}
	return info
}
