package app

import (
	"fmt"

	"github.com/pders01/ctxsnap/internal/models"
)

// RestoreRequest picks the choices for a restore. Profile names a restore
// profile; empty means the default profile, or the settings defaults when
// no profile is marked default. Override, when set, wins over both.
type RestoreRequest struct {
	Profile  string
	Override *models.RestoreOptions
}

// RestorePlan is what a restore would reopen. Launching editors and
// terminals is left to the caller.
type RestorePlan struct {
	Snapshot  *models.Snapshot
	Profile   string
	Choices   models.RestoreOptions
	Folder    string
	Workspace string
	Apps      []models.RunningApp
	Checklist []string
}

// Restore builds the plan for ref and records it in the restore history.
func (a *App) Restore(ref string, req RestoreRequest) (*RestorePlan, error) {
	snap, err := a.Get(ref)
	if err != nil {
		return nil, err
	}
	settings, err := a.Store.LoadSettings()
	if err != nil {
		return nil, err
	}

	plan := &RestorePlan{Snapshot: snap, Choices: settings.Restore}
	if p, ok := settings.Profile(req.Profile); ok {
		plan.Profile = p.Name
		plan.Choices = p.RestoreOptions
	} else if req.Profile != "" {
		return nil, fmt.Errorf("unknown restore profile %q", req.Profile)
	}
	if req.Override != nil {
		plan.Choices = *req.Override
	}

	c := plan.Choices
	if c.OpenFolder || c.OpenTerminal {
		plan.Folder = snap.Root
	}
	if c.OpenVSCode {
		plan.Workspace = snap.Workspace
		if plan.Workspace == "" {
			plan.Workspace = snap.Root
		}
	}
	if c.OpenRunningApps {
		plan.Apps = snap.RunningApps
	}
	if c.ShowChecklist {
		for _, t := range snap.Todos {
			if t != "" {
				plan.Checklist = append(plan.Checklist, t)
			}
		}
	}

	err = a.Store.AppendRestoreHistory(models.RestoreEntry{
		At:         a.now(),
		SnapshotID: snap.ID,
		Profile:    plan.Profile,
		Choices:    plan.Choices,
	})
	if err != nil {
		return nil, err
	}
	a.Logger.Info("snapshot_restored", "id", snap.ID, "profile", plan.Profile)
	return plan, nil
}
