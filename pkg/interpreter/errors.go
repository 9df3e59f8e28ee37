package interpreter

import "fmt"

// UnknownNodeError indicates a run points at a node id that does not exist in
// the definition revision it was dispatched against.
type UnknownNodeError struct {
	NodeID       string
	DefinitionID string
}

func (e *UnknownNodeError) Error() string {
	return fmt.Sprintf("node %q not found in automation %q", e.NodeID, e.DefinitionID)
}
