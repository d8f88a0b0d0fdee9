package comfy

import (
	"encoding/json"
	"fmt"
	"os"

	"kontext/internal/config"
)

// Workflow is a parsed API-format workflow graph keyed by node ID. Values are
// kept loose so unknown node shapes pass through untouched.
type Workflow map[string]any

// LoadWorkflow reads and parses the workflow template file.
func LoadWorkflow(path string) (Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow template: %w", err)
	}
	var wf Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("parse workflow template: %w", err)
	}
	if len(wf) == 0 {
		return nil, fmt.Errorf("workflow template %s has no nodes", path)
	}
	return wf, nil
}

// SetInput assigns one input slot on a node. It fails when the node or its
// inputs map is absent so a mis-keyed template is caught before submission.
func (w Workflow) SetInput(nodeID, key string, value any) error {
	node, ok := w[nodeID].(map[string]any)
	if !ok {
		return fmt.Errorf("workflow node %q not found", nodeID)
	}
	inputs, ok := node["inputs"].(map[string]any)
	if !ok {
		return fmt.Errorf("workflow node %q has no inputs", nodeID)
	}
	inputs[key] = value
	return nil
}

// Fill binds the uploaded image, the prompt text, and a randomized seed into
// the configured node slots.
func (w Workflow) Fill(cfg *config.Config, uploadedImage, prompt string) error {
	if err := w.SetInput(cfg.Workflow.ImageNode, "image", uploadedImage); err != nil {
		return err
	}
	if err := w.SetInput(cfg.Workflow.PromptNode, "text", prompt); err != nil {
		return err
	}
	// Let the server roll a fresh seed per run instead of replaying the
	// template's stored one.
	return w.SetInput(cfg.Workflow.SeedNode, "control_after_generate", "randomize")
}

// ValidateTemplate loads the configured template and confirms the three
// node slots are fillable. Used by startup checks.
func ValidateTemplate(cfg *config.Config) error {
	wf, err := LoadWorkflow(cfg.Workflow.TemplatePath)
	if err != nil {
		return err
	}
	return wf.Fill(cfg, "probe.png", "probe")
}
