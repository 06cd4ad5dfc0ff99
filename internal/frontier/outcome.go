package frontier

// Outcome is the result of offering one URI for admission.
type Outcome string

// Admission outcomes.
const (
	Admitted          Outcome = "admitted"
	RejectedScheme    Outcome = "rejected_scheme"
	RejectedKnown     Outcome = "rejected_known"
	FilterUnavailable Outcome = "filter_unavailable"
	Unresolvable      Outcome = "unresolvable"
	Invalid           Outcome = "invalid"
	QueueRejected     Outcome = "queue_rejected"
)

// Summary tallies outcomes for a batch.
type Summary map[Outcome]int

// Total returns the number of URIs offered.
func (s Summary) Total() int {
	n := 0
	for _, v := range s {
		n += v
	}
	return n
}
