// Package transactionLogParser decodes task manager event logs and transaction calldata into
// structured, typed representations.
package transactionLogParser

// DecodedLog represents a decoded Ethereum event log with its arguments and metadata.
type DecodedLog struct {
	// LogIndex is the position of the log in the block
	LogIndex uint64
	// Address is the contract address that emitted the event
	Address string
	// Arguments contains the event parameters, indexed ones carry their decoded topic value
	Arguments []Argument
	// EventName is the name of the emitted event
	EventName string
	// OutputData contains the decoded non-indexed event data
	OutputData map[string]interface{}
}

// Argument represents a single parameter in a decoded event log.
type Argument struct {
	Name    string
	Type    string
	Value   interface{}
	Indexed bool
}

// FindArgument returns the argument with the given name.
func (d *DecodedLog) FindArgument(name string) (Argument, bool) {
	for _, arg := range d.Arguments {
		if arg.Name == name {
			return arg, true
		}
	}
	return Argument{}, false
}
