package generator

// EventType names a progress event.
type EventType string

const (
	EventSchematicStarted EventType = "schematic.started"
	EventSampleCreated    EventType = "sample.created"
	EventSchematicDone    EventType = "schematic.done"
	EventSchematicSkipped EventType = "schematic.skipped"
)

// Event is a progress notification. Modification carries the corruption
// kind of a created sample.
type Event struct {
	Type         EventType `json:"type"`
	Schematic    string    `json:"schematic"`
	SampleID     string    `json:"sample_id,omitempty"`
	Modification string    `json:"modification,omitempty"`
	Report       *Report   `json:"report,omitempty"`
}
