// Package recommendation suggests companion extensions for the workspace and
// remembers how the user answered.
package recommendation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Sternrassler/yaml-schema-client/pkg/store"
)

// ChoiceKey is the store key of the per-extension user choice map.
const ChoiceKey = "recommendationUserChoice"

// OpenShiftToolkit is recommended for workspaces holding a devfile.
const OpenShiftToolkit = "redhat.vscode-openshift-connector"

const openShiftMessage = "The workspace has devfile.yaml, Do you want to install " +
	"[OpenShift Toolkit](https://github.com/redhat-developer/vscode-openshift-tools) " +
	"extension for deploy it into cluster?"

const devfileName = "devfile.yaml"

// Choice is the user's answer to a recommendation.
type Choice string

const (
	Install Choice = "Install"
	Never   Choice = "Never"
	Later   Choice = "Later"
)

// Actions are the answers offered with every Notice, in display order.
var Actions = []Choice{Install, Never, Later}

// ParseChoice matches s case-insensitively against the known choices.
func ParseChoice(s string) (Choice, error) {
	for _, c := range Actions {
		if strings.EqualFold(s, string(c)) {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown recommendation choice %q", s)
}

// Notice asks the user to install an extension.
type Notice struct {
	Extension string
	Message   string
	Actions   []Choice
}

// Handler decides whether an extension may be recommended.
// Safe for concurrent use.
type Handler struct {
	mu        sync.Mutex
	state     store.Store
	installed map[string]bool
}

// NewHandler creates a Handler. installed lists the IDs of the extensions
// already present; they are never recommended.
func NewHandler(state store.Store, installed []string) *Handler {
	h := &Handler{state: state, installed: make(map[string]bool, len(installed))}
	for _, id := range installed {
		h.installed[id] = true
	}
	return h
}

// Choices returns the recorded answers keyed by extension ID.
func (h *Handler) Choices(ctx context.Context) (map[string]Choice, error) {
	choices := make(map[string]Choice)
	if _, err := h.state.Get(ctx, ChoiceKey, &choices); err != nil {
		return nil, fmt.Errorf("load recommendation choices: %w", err)
	}
	return choices, nil
}

// CanRecommend reports whether ext is neither installed nor declined
// with Never.
func (h *Handler) CanRecommend(ctx context.Context, ext string) (bool, error) {
	if h.installed[ext] {
		return false, nil
	}
	choices, err := h.Choices(ctx)
	if err != nil {
		return false, err
	}
	return choices[ext] != Never, nil
}

// Handle returns the notice to show for ext, if any.
func (h *Handler) Handle(ctx context.Context, ext, message string) (Notice, bool, error) {
	ok, err := h.CanRecommend(ctx, ext)
	if err != nil || !ok {
		return Notice{}, false, err
	}
	return Notice{Extension: ext, Message: message, Actions: Actions}, true, nil
}

// Record stores the user's answer for ext.
func (h *Handler) Record(ctx context.Context, ext string, choice Choice) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	choices, err := h.Choices(ctx)
	if err != nil {
		return err
	}
	choices[ext] = choice
	if err := h.state.Update(ctx, ChoiceKey, choices); err != nil {
		return fmt.Errorf("store recommendation choice: %w", err)
	}
	return nil
}

// Check returns the OpenShift Toolkit notice when any of paths is a devfile
// or a folder containing one.
func (h *Handler) Check(ctx context.Context, paths []string) (Notice, bool, error) {
	for _, p := range paths {
		if IsDevfileYAML(p) {
			return h.Handle(ctx, OpenShiftToolkit, openShiftMessage)
		}
	}
	return Notice{}, false, nil
}

// IsDevfileYAML reports whether path is a devfile.yaml or a directory
// containing one. Paths that cannot be stat'ed are not devfiles.
func IsDevfileYAML(path string) bool {
	info, err := os.Lstat(path)
	if err != nil {
		return false
	}
	if info.IsDir() {
		_, err := os.Stat(filepath.Join(path, devfileName))
		return err == nil
	}
	return strings.HasSuffix(strings.ToLower(path), devfileName)
}
