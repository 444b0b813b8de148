package modkit

import (
	_ "embed"
	"strings"
)

// Short messages (one-liners)
const (
	// Command descriptions
	MsgRootShort      = "A modpack installer with feature toggles and presets"
	MsgInstallShort   = "Create a new installation from a manifest"
	MsgModifyShort    = "Change the enabled components of an installation"
	MsgRepairShort    = "Verify and restore the files of an installation"
	MsgUpdateShort    = "Move an installation to a new release"
	MsgUninstallShort = "Remove an installation and its record"
	MsgListShort      = "List installations"
	MsgStatusShort    = "Show an installation and any files that drifted"
	MsgPresetsShort   = "List the presets a document offers for a manifest"
	MsgCacheShort     = "Manage the shared artifact cache"
	MsgPruneShort     = "Delete cached artifacts no installation uses"
	MsgConfigShort    = "Print the built-in configuration"
	MsgVersionShort   = "Print version information"

	// Status messages
	MsgDryRunNotice       = "\nDRY RUN MODE - No changes were made"
	MsgInstalledFormat    = "Installed '%s' (%s %s) in %s\n"
	MsgModifiedFormat     = "Updated components of '%s'\n"
	MsgRepairedFormat     = "Repaired '%s'\n"
	MsgUpdatedFormat      = "Updated '%s' to %s\n"
	MsgUninstalledFormat  = "Uninstalled '%s'\n"
	MsgPlanHeader         = "Components:"
	MsgPlanItem           = "  %-28s %s\n"
	MsgFetchSummary       = "Downloads: %d, cached: %d\n"
	MsgRemovedItem        = "  - %s\n"
	MsgNoInstallations    = "No installations."
	MsgInstallationItem   = "  %-20s %-10s %s\n"
	MsgInstallationHeader = "Installations:"
	MsgStatusFormat       = "%s\n  modpack:  %s %s\n  dir:      %s\n  preset:   %s\n  memory:   %d MB\n  phase:    %s\n"
	MsgStatusClean        = "  files:    ok"
	MsgDriftItem          = "  ! %s %s (%s)\n"
	MsgPresetItem         = "  %-16s %s\n"
	MsgPresetIssue        = "  ! preset %s references unknown component %s\n"
	MsgPrunedFormat       = "Removed %d cached artifact(s)\n"
	MsgCustomPreset       = "custom"

	// Backups
	MsgBackupShort         = "Snapshot and restore installations"
	MsgBackupCreateShort   = "Snapshot the placed files and record of an installation"
	MsgBackupListShort     = "List the backups of an installation, newest first"
	MsgBackupRestoreShort  = "Put an installation back to a backup (default is the newest)"
	MsgBackupPruneShort    = "Delete all but the newest backups of an installation"
	MsgBackupCreatedFormat = "Backed up '%s' as %s (%d files)\n"
	MsgBackupHeader        = "Backups of '%s':\n"
	MsgBackupItem          = "  %-36s %-11s %-10s %s\n"
	MsgNoBackupsFormat     = "No backups of '%s'.\n"
	MsgRestoredFormat      = "Restored '%s' to %s\n"
	MsgBackupsPruned       = "Removed %d backup(s)\n"

	// Error messages
	MsgErrPresetRequired = "--preset needs --presets to name the preset document"
	MsgErrUnknownPreset  = "preset %q is not in %s"
	MsgErrNothingToDo    = "nothing to change: pass --enable, --disable or --preset"

	// Flag descriptions
	MsgFlagVerbose        = "Increase verbosity (-v INFO, -vv DEBUG, -vvv TRACE)"
	MsgFlagDryRun         = "Resolve and report without downloading or writing anything"
	MsgFlagConfig         = "Configuration file (default is <config dir>/config.toml)"
	MsgFlagConcurrency    = "Maximum number of parallel downloads"
	MsgFlagManifest       = "Manifest file or http(s) URL"
	MsgFlagPresets        = "Preset document file or http(s) URL"
	MsgFlagPreset         = "Preset id to apply"
	MsgFlagEnable         = "Component ids to enable"
	MsgFlagDisable        = "Component ids to disable"
	MsgFlagDir            = "Installation directory (default is <installations>/<name>)"
	MsgFlagMemory         = "Memory override in MB"
	MsgFlagJavaArgs       = "Java arguments override"
	MsgFlagAllowDowngrade = "Allow moving to an older release"
	MsgFlagInstallation   = "Installation to compare against"
	MsgFlagDescription    = "Note stored with the backup"
	MsgFlagKeep           = "Number of newest backups to keep"
)

// Long messages from embedded files
var (
	//go:embed msgs/root-long.txt
	msgRootLongRaw string
	MsgRootLong    = strings.TrimSpace(msgRootLongRaw)

	//go:embed msgs/install-long.txt
	msgInstallLongRaw string
	MsgInstallLong    = strings.TrimSpace(msgInstallLongRaw)

	//go:embed msgs/update-long.txt
	msgUpdateLongRaw string
	MsgUpdateLong    = strings.TrimSpace(msgUpdateLongRaw)

	//go:embed msgs/repair-long.txt
	msgRepairLongRaw string
	MsgRepairLong    = strings.TrimSpace(msgRepairLongRaw)

	//go:embed msgs/usage-template.txt
	msgUsageTemplateRaw string
	MsgUsageTemplate    = strings.TrimSpace(msgUsageTemplateRaw) + "\n"
)
