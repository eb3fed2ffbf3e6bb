package mirror

import (
	"fmt"

	"github.com/golang/glog"
)

// Logging convention in the `mirror` package:
// Info (urgent):
//     abnormal but handled events. Silent on normal operation.
//     this includes:
//     - transport failures and protocol violations that end a session
//     - decode failures of inbound messages
// Error:
//     unexpected panics from graph callbacks or factories, even if recovered
// V(1):
//     session lifecycle, one line per transition
// V(2):
//     per batch and per inbound message tracing

const LogLevelUrgent = 0
const LogLevelInfo = 1
const LogLevelDebug = 2

type LogFunction func(string, ...any)

func LogFn(level int, tag string) LogFunction {
	return func(format string, a ...any) {
		if glog.V(glog.Level(level)) {
			m := fmt.Sprintf(format, a...)
			glog.InfoDepth(1, fmt.Sprintf("%s: %s", tag, m))
		}
	}
}
