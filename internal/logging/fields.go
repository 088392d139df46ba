package logging

import "github.com/sirupsen/logrus"

// Channel names the two log channels spec.md §7 requires the cache to be
// able to tell apart: per-object validation warnings versus per-process
// operational errors.
type Channel string

const (
	ChannelOperational Channel = "operational"
	ChannelValidation  Channel = "validation"
)

// BaseFields builds the action + config path fields common to every startup
// log line.
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// OperationalFields tags an entry as a per-process operational event: cache
// filesystem I/O, metadata persistence, sweep bookkeeping.
func OperationalFields(action string) logrus.Fields {
	return logrus.Fields{
		"channel": ChannelOperational,
		"action":  action,
	}
}

// ValidationFields tags an entry as a per-object validation warning raised
// while parsing the overlay document: one malformed record, one line.
func ValidationFields(action string, index int) logrus.Fields {
	return logrus.Fields{
		"channel": ChannelValidation,
		"action":  action,
		"index":   index,
	}
}

// RunFields tags every log line emitted during one validator run with its
// correlation ID, minted once per Cache.Prepare call.
func RunFields(runID string) logrus.Fields {
	return logrus.Fields{
		"run_id": runID,
	}
}
