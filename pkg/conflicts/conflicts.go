// Package conflicts detects installed extensions known to break YAML support.
package conflicts

import (
	"fmt"
	"strings"
	"sync"

	"github.com/Sternrassler/yaml-schema-client/pkg/associations"
)

// AzureDeployID must be followed by a reload to finish uninstalling.
const AzureDeployID = "ms-vscode-deploy-azure.azure-deploy"

// UninstallAction is the label of the action offered with a Notice.
const UninstallAction = "Uninstall"

// knownConflicts lists conflicting extension IDs in reporting order.
var knownConflicts = []string{
	"vscoss.vscode-ansible",
	AzureDeployID,
	"sysninja.vscode-ansible-mod",
	"haaaad.ansible",
}

// Extension is an installed extension.
type Extension struct {
	ID          string
	DisplayName string
}

// FromManifests converts loaded manifests into extensions.
func FromManifests(manifests []associations.Manifest) []Extension {
	exts := make([]Extension, 0, len(manifests))
	for _, m := range manifests {
		exts = append(exts, Extension{ID: m.ID(), DisplayName: m.DisplayName})
	}
	return exts
}

// Notice is the message shown to the user about conflicting extensions.
type Notice struct {
	Message     string
	Action      string
	IDs         []string
	NeedsReload bool
}

// Detector tracks which conflicting extensions are being uninstalled.
// Safe for concurrent use.
type Detector struct {
	mu           sync.Mutex
	uninstalling map[string]bool
}

// NewDetector creates a Detector.
func NewDetector() *Detector {
	return &Detector{uninstalling: make(map[string]bool)}
}

// Find returns the installed conflicting extensions that are not already
// being uninstalled.
func (d *Detector) Find(installed []Extension) []Extension {
	byID := make(map[string]Extension, len(installed))
	for _, ext := range installed {
		byID[ext.ID] = ext
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var found []Extension
	for _, id := range knownConflicts {
		ext, ok := byID[id]
		if ok && !d.uninstalling[id] {
			found = append(found, ext)
		}
	}
	return found
}

// Notification builds the uninstall notice for exts and marks them as
// uninstalling. It reports false when exts is empty.
func (d *Detector) Notification(exts []Extension) (Notice, bool) {
	if len(exts) == 0 {
		return Notice{}, false
	}

	d.mu.Lock()
	for _, ext := range exts {
		d.uninstalling[ext.ID] = true
	}
	d.mu.Unlock()

	notice := Notice{Action: UninstallAction}
	names := make([]string, 0, len(exts))
	for _, ext := range exts {
		names = append(names, ext.DisplayName)
		notice.IDs = append(notice.IDs, ext.ID)
		if ext.ID == AzureDeployID {
			notice.NeedsReload = true
		}
	}

	if len(exts) == 1 {
		notice.Message = fmt.Sprintf("%s extension is incompatible with VSCode-YAML. Please uninstall it.", names[0])
	} else {
		notice.Message = fmt.Sprintf("The %s extensions are incompatible with VSCode-YAML. Please uninstall them.", strings.Join(names, ", "))
	}

	return notice, true
}

// Uninstall runs uninstall for every extension in notice and clears their
// uninstalling mark. It reports whether a reload is required.
func (d *Detector) Uninstall(notice Notice, uninstall func(id string) error) (bool, error) {
	var errs []string
	for _, id := range notice.IDs {
		if err := uninstall(id); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", id, err))
		}
		d.Done(id)
	}
	if len(errs) > 0 {
		return notice.NeedsReload, fmt.Errorf("uninstall failed: %s", strings.Join(errs, "; "))
	}
	return notice.NeedsReload, nil
}

// Done clears the uninstalling mark of id.
func (d *Detector) Done(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.uninstalling, id)
}
