package collab

import (
	"flag"
	"strconv"
)

// Logging convention in the `collab` package and generally for docspace components:
// Info:
//     essential events for abnormal behavior. This level should be silent on normal operation,
//     with the exception of one time (infrequent) initialization data that is useful for monitoring
//     this includes:
//     - connectivity timeouts and channel teardown
//     - abnormal exits
// Error:
//     unrecoverable crash details
//     this includes:
//     - unexpected panics even if handled and suppressed for partial operation
// Debug (V(2)):
//     key events for trace debugging and statistics
//     this includes:
//     - key system events with ids that can be used to filter, e.g.
//       [s] session, [ch] channel, [hb] heartbeat, [st] status, [blk] blocks, [tm] telemetry
//     - frequent events - e.g. heartbeat samples, presence frames -
//       which must stay at V(2) so normal operation is silent

// sets the glog flags for command line tools and tests
func InitLogging(verbosity int) {
	flag.Set("logtostderr", "true")
	flag.Set("stderrthreshold", "INFO")
	flag.Set("v", strconv.Itoa(verbosity))
}
