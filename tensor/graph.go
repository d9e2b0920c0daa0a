package tensor

import (
	"fmt"
)

// Backward runs reverse-mode differentiation from t, seeding with ones, and
// accumulates gradients into every reachable leaf tensor that requires them.
// Loss tensors are single-element, so the implicit seed is the scalar 1.
func (t *Tensor) Backward() error {
	seed, err := Ones(t.Shape, t.DType)
	if err != nil {
		return fmt.Errorf("failed to create seed gradient: %v", err)
	}
	return t.BackwardWithGrad(seed)
}

// BackwardWithGrad runs reverse-mode differentiation from t with an explicit
// seed gradient of the same shape.
func (t *Tensor) BackwardWithGrad(seed *Tensor) error {
	if !t.requiresGrad {
		return fmt.Errorf("tensor does not require gradients")
	}
	if !shapesEqual(seed.Shape, t.Shape) {
		return fmt.Errorf("seed gradient shape %v does not match tensor shape %v", seed.Shape, t.Shape)
	}

	order := topologicalOrder(t)

	grads := map[*Tensor]*Tensor{t: seed}

	// Postorder puts children before parents, so walking it in reverse
	// guarantees a node's gradient is complete before it is propagated.
	for i := len(order) - 1; i >= 0; i-- {
		node := order[i]
		g, ok := grads[node]
		if !ok {
			continue
		}

		if node.creator == nil {
			if err := node.accumulateGrad(g); err != nil {
				return err
			}
			continue
		}

		inputGrads, err := node.creator.Backward(g)
		if err != nil {
			return fmt.Errorf("backward pass failed: %v", err)
		}
		inputs := node.creator.Inputs()
		if len(inputGrads) != len(inputs) {
			return fmt.Errorf("operation %T returned %d gradients for %d inputs", node.creator, len(inputGrads), len(inputs))
		}

		for j, in := range inputs {
			if inputGrads[j] == nil || !in.requiresGrad {
				continue
			}
			if existing, seen := grads[in]; seen {
				summed, err := Add(existing, inputGrads[j])
				if err != nil {
					return fmt.Errorf("failed to accumulate gradient: %v", err)
				}
				grads[in] = summed
			} else {
				grads[in] = inputGrads[j]
			}
		}

		delete(grads, node)
	}

	return nil
}

// topologicalOrder walks the creator graph from root and returns nodes in
// postorder. Only tensors that require gradients are visited.
func topologicalOrder(root *Tensor) []*Tensor {
	type walkFrame struct {
		node *Tensor
		next int
	}

	visited := map[*Tensor]bool{root: true}
	stack := []*walkFrame{{node: root}}
	var order []*Tensor

	for len(stack) > 0 {
		f := stack[len(stack)-1]

		var children []*Tensor
		if f.node.creator != nil {
			children = f.node.creator.Inputs()
		}

		if f.next < len(children) {
			child := children[f.next]
			f.next++
			if !visited[child] && child.requiresGrad {
				visited[child] = true
				stack = append(stack, &walkFrame{node: child})
			}
		} else {
			order = append(order, f.node)
			stack = stack[:len(stack)-1]
		}
	}

	return order
}

func (t *Tensor) accumulateGrad(g *Tensor) error {
	if t.grad == nil {
		clone, err := g.Clone()
		if err != nil {
			return fmt.Errorf("failed to initialize gradient: %v", err)
		}
		clone.requiresGrad = false
		clone.creator = nil
		t.grad = clone
		return nil
	}

	if !shapesEqual(t.grad.Shape, g.Shape) {
		return fmt.Errorf("gradient shape %v does not match accumulated shape %v", g.Shape, t.grad.Shape)
	}

	dst := t.grad.Data.([]float64)
	src := g.Data.([]float64)
	for i := range dst {
		dst[i] += src[i]
	}
	return nil
}
