package protocol

// Registration is published on gleanrelay.registry when a producer connects.
type Registration struct {
	Name    string   `json:"name"`
	Version string   `json:"version"`
	Events  []string `json:"events"` // category.name pairs the producer may send
}
