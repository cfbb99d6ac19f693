// Package notification contains the domain models shared by the dispatch worker:
// queue jobs, their payload values and the per-channel dispatch results.
package notification

import "strings"

// Channel is the delivery medium for a job.
type Channel string

const (
	ChannelPush  Channel = "push"
	ChannelEmail Channel = "email"
)

// AllChannels is the default processing order when a trigger names no channels.
var AllChannels = []Channel{ChannelPush, ChannelEmail}

// ParseChannel maps a raw channel name onto a known Channel.
func ParseChannel(raw string) (Channel, bool) {
	switch Channel(raw) {
	case ChannelPush, ChannelEmail:
		return Channel(raw), true
	default:
		return "", false
	}
}

// Job is a unit of work claimed from the notification queue.
// A claimed job is read-only for the worker; only its outcome is written back.
type Job struct {
	ID           string
	RecipientID  string
	HallID       string // optional scope, empty when absent
	TournamentID string // optional scope, empty when absent
	Channel      Channel
	Kind         string
	Title        string
	Body         string
	Payload      map[string]Value // may be nil
}

// FlattenData builds the string-only data map carried by a push message.
// Payload entries are flattened first; the job's own kind and scope ids win on conflict.
func FlattenData(job Job) map[string]string {
	data := make(map[string]string, len(job.Payload)+3)
	for rawKey, v := range job.Payload {
		key := strings.TrimSpace(rawKey)
		if key == "" {
			continue
		}
		s, ok := v.Flatten()
		if !ok {
			continue
		}
		data[key] = s
	}

	setIfPresent(data, "kind", job.Kind)
	setIfPresent(data, "hall_id", job.HallID)
	setIfPresent(data, "tournament_id", job.TournamentID)
	return data
}

func setIfPresent(data map[string]string, key, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	data[key] = value
}
