package config

import (
	"reflect"
	"sort"
)

// SummarizeChange lists the settings sections that differ. Only logging is
// applied live; the rest is reported in restart.
func SummarizeChange(oldSt, newSt *Settings) (changed, restart []string) {
	if oldSt == nil {
		oldSt = &Settings{}
	}
	if newSt == nil {
		newSt = &Settings{}
	}
	sections := map[string][2]any{
		"poll":     {oldSt.Poll, newSt.Poll},
		"telegram": {oldSt.Telegram, newSt.Telegram},
		"notifier": {oldSt.Notifier, newSt.Notifier},
		"logging":  {oldSt.Logging, newSt.Logging},
	}
	for name, pair := range sections {
		if reflect.DeepEqual(pair[0], pair[1]) {
			continue
		}
		changed = append(changed, name)
		if name != "logging" {
			restart = append(restart, name)
		}
	}
	sort.Strings(changed)
	sort.Strings(restart)
	return changed, restart
}
