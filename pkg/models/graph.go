package models

import (
	"errors"
	"fmt"
)

// Structural validation errors.
var (
	ErrNoTriggerNode         = errors.New("automation has no trigger node")
	ErrMultipleTriggerNodes  = errors.New("automation has more than one trigger node")
	ErrNotScheduled          = errors.New("automation is not schedule-triggered")
	ErrMissingCronExpression = errors.New("schedule trigger node has no cron expression")
)

// Validate enforces the structural invariants an automation must satisfy
// before activation:
//
//  1. exactly one trigger node, with no incoming edges;
//  2. the edge set forms a DAG and every node is reachable from the trigger;
//  3. every edge target resolves to an existing node;
//  4. condition nodes carry only "true"/"false" edges, at most one of each;
//  5. every other node carries at most one outgoing edge, labeled "default".
//
// The check is pure: it never mutates the definition.
func (d *AutomationDefinition) Validate() error {
	if !d.TriggerType.IsValid() {
		return fmt.Errorf("unknown trigger type %q", d.TriggerType)
	}

	if len(d.Nodes) == 0 {
		return ErrNoTriggerNode
	}

	byID := make(map[string]*Node, len(d.Nodes))
	incoming := make(map[string]int, len(d.Nodes))

	var trigger *Node

	for _, node := range d.Nodes {
		if node.ID == "" {
			return errors.New("found node with empty id")
		}

		if _, dup := byID[node.ID]; dup {
			return fmt.Errorf("duplicate node id %q", node.ID)
		}

		byID[node.ID] = node
		if _, ok := incoming[node.ID]; !ok {
			incoming[node.ID] = 0
		}

		if node.Type == NodeTypeTrigger {
			if trigger != nil {
				return ErrMultipleTriggerNodes
			}

			trigger = node
		}
	}

	if trigger == nil {
		return ErrNoTriggerNode
	}

	for _, node := range d.Nodes {
		if err := validateEdges(node); err != nil {
			return err
		}

		for _, edge := range node.Edges {
			if _, ok := byID[edge.TargetNodeID]; !ok {
				return fmt.Errorf("node %q has edge to unknown node %q", node.ID, edge.TargetNodeID)
			}

			incoming[edge.TargetNodeID]++
		}
	}

	if incoming[trigger.ID] != 0 {
		return fmt.Errorf("trigger node %q has incoming edges", trigger.ID)
	}

	return d.checkAcyclicAndReachable(byID, incoming, trigger)
}

// validateEdges enforces per-node-type edge labeling rules (invariants 4 and 5).
func validateEdges(node *Node) error {
	if node.Type == NodeTypeCondition {
		seen := make(map[string]bool, 2)

		for _, edge := range node.Edges {
			if edge.Label != EdgeTrue && edge.Label != EdgeFalse {
				return fmt.Errorf("condition node %q has edge labeled %q, want %q or %q",
					node.ID, edge.Label, EdgeTrue, EdgeFalse)
			}

			if seen[edge.Label] {
				return fmt.Errorf("condition node %q has more than one %q edge", node.ID, edge.Label)
			}

			seen[edge.Label] = true
		}

		return nil
	}

	if len(node.Edges) > 1 {
		return fmt.Errorf("node %q has %d outgoing edges, at most one allowed", node.ID, len(node.Edges))
	}

	if len(node.Edges) == 1 && node.Edges[0].Label != EdgeDefault {
		return fmt.Errorf("node %q has edge labeled %q, want %q", node.ID, node.Edges[0].Label, EdgeDefault)
	}

	return nil
}

// checkAcyclicAndReachable runs Kahn's topological sort over the graph. The
// sort doubles as cycle detection: any node left unprocessed sits on a cycle.
// A second pass flags nodes the trigger can never reach.
func (d *AutomationDefinition) checkAcyclicAndReachable(byID map[string]*Node, incoming map[string]int, trigger *Node) error {
	degree := make(map[string]int, len(incoming))
	for id, count := range incoming {
		degree[id] = count
	}

	queue := make([]string, 0, len(byID))

	for id, count := range degree {
		if count == 0 {
			queue = append(queue, id)
		}
	}

	processed := 0

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		processed++

		for _, edge := range byID[id].Edges {
			degree[edge.TargetNodeID]--
			if degree[edge.TargetNodeID] == 0 {
				queue = append(queue, edge.TargetNodeID)
			}
		}
	}

	if processed != len(byID) {
		return errors.New("automation graph contains a cycle")
	}

	reachable := map[string]bool{trigger.ID: true}
	frontier := []string{trigger.ID}

	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]

		for _, edge := range byID[id].Edges {
			if !reachable[edge.TargetNodeID] {
				reachable[edge.TargetNodeID] = true

				frontier = append(frontier, edge.TargetNodeID)
			}
		}
	}

	for id := range byID {
		if !reachable[id] {
			return fmt.Errorf("node %q is not reachable from the trigger", id)
		}
	}

	return nil
}
