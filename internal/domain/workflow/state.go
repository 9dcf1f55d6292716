package workflow

// State is the constraint for state types driven by a machine. Invoice and
// schedule statuses in the entity package satisfy it.
type State interface {
	~string
	IsValid() bool
}

// Trigger is the constraint for trigger types
type Trigger interface {
	~string
}
