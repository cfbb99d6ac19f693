package notification

// ChannelErrorID keys the synthetic failure recorded when a whole channel could not run.
const ChannelErrorID = "channel_error"

// Failure records why a single job (or a whole channel) failed.
type Failure struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// Result summarizes one dispatch run for one channel.
// Claimed always equals Sent + Failed.
type Result struct {
	Channel  Channel   `json:"channel"`
	Claimed  int       `json:"claimed"`
	Sent     int       `json:"sent"`
	Failed   int       `json:"failed"`
	Failures []Failure `json:"failures"`
}

func NewResult(channel Channel, claimed int) *Result {
	return &Result{
		Channel:  channel,
		Claimed:  claimed,
		Failures: make([]Failure, 0),
	}
}

func (r *Result) RecordSent() { r.Sent++ }

func (r *Result) RecordFailure(jobID, message string) {
	r.Failed++
	r.Failures = append(r.Failures, Failure{ID: jobID, Error: message})
}

// ChannelErrorResult is reported when claiming for a channel failed outright.
// No job was claimed, so the counters stay at zero and only the failure list is filled.
func ChannelErrorResult(channel Channel, err error) Result {
	return Result{
		Channel:  channel,
		Failures: []Failure{{ID: ChannelErrorID, Error: err.Error()}},
	}
}

// Totals aggregates counters across channels.
type Totals struct {
	Claimed int `json:"claimed"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
}

func SumTotals(results []Result) Totals {
	var t Totals
	for _, r := range results {
		t.Claimed += r.Claimed
		t.Sent += r.Sent
		t.Failed += r.Failed
	}
	return t
}
