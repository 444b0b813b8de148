package modkit

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/arthur-debert/modkit/pkg/config"
	"github.com/arthur-debert/modkit/pkg/errors"
	"github.com/arthur-debert/modkit/pkg/lifecycle"
	"github.com/arthur-debert/modkit/pkg/manifest"
	"github.com/arthur-debert/modkit/pkg/preset"
)

// selectFlags are the component selection flags of install and modify
type selectFlags struct {
	manifest string
	presets  string
	preset   string
	enable   []string
	disable  []string
}

func (f *selectFlags) register(cmd *cobra.Command, withDisable bool) {
	cmd.Flags().StringVarP(&f.manifest, "manifest", "m", "", MsgFlagManifest)
	cmd.Flags().StringVar(&f.presets, "presets", "", MsgFlagPresets)
	cmd.Flags().StringVarP(&f.preset, "preset", "p", "", MsgFlagPreset)
	cmd.Flags().StringSliceVarP(&f.enable, "enable", "e", nil, MsgFlagEnable)
	if withDisable {
		cmd.Flags().StringSliceVarP(&f.disable, "disable", "d", nil, MsgFlagDisable)
		cmd.MarkFlagsMutuallyExclusive("preset", "disable")
	}
	_ = cmd.MarkFlagRequired("manifest")
}

// lookupPreset loads the preset document and finds the chosen preset
func (f *selectFlags) lookupPreset(ctx context.Context, a *app, m *manifest.Manifest) (*manifest.Preset, error) {
	if f.preset == "" {
		return nil, nil
	}
	if f.presets == "" {
		return nil, errors.New(errors.ErrInvalidInput, MsgErrPresetRequired)
	}
	doc, _, err := a.loadPresets(ctx, f.presets, m)
	if err != nil {
		return nil, err
	}
	p := doc.Find(f.preset)
	if p == nil {
		return nil, errors.Newf(errors.ErrNotFound, MsgErrUnknownPreset, f.preset, f.presets).
			WithDetail("preset", f.preset)
	}
	return p, nil
}

// withApp builds the app, runs fn and flushes metrics
func withApp(g *globals, fn func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, g)
		if err != nil {
			return err
		}
		defer a.close()
		return fn(cmd, a, args)
	}
}

func newInstallCmd(g *globals) *cobra.Command {
	var (
		sel      selectFlags
		dir      string
		memory   int
		javaArgs string
	)

	cmd := &cobra.Command{
		Use:   "install <name>",
		Short: MsgInstallShort,
		Long:  MsgInstallLong,
		Example: `  # Install the default components
  modkit install survival -m https://example.com/pack/manifest.json

  # Install a preset with one extra component
  modkit install survival -m manifest.json --presets presets.yaml -p performance -e iris`,
		GroupID: "core",
		Args:    cobra.ExactArgs(1),
		RunE: withApp(g, func(cmd *cobra.Command, a *app, args []string) error {
			ctx := cmd.Context()
			m, err := a.loadManifest(ctx, sel.manifest)
			if err != nil {
				return err
			}
			p, err := sel.lookupPreset(ctx, a, m)
			if err != nil {
				return err
			}

			req := lifecycle.InstallRequest{
				Name:     args[0],
				Dir:      dir,
				Manifest: m,
				Selection: lifecycle.Selection{
					Toggles: sel.enable,
					Preset:  p,
				},
				MemoryMB: memory,
				JavaArgs: javaArgs,
			}
			res, err := a.manager.Install(ctx, req)
			if err != nil {
				return err
			}

			printResult(a.out, res)
			if !res.DryRun {
				inst := res.Installation
				fmt.Fprintf(a.out, MsgInstalledFormat, inst.Name, inst.ModpackName, inst.ManifestVersion, inst.Dir)
			}
			return nil
		}),
	}

	sel.register(cmd, false)
	cmd.Flags().StringVar(&dir, "dir", "", MsgFlagDir)
	cmd.Flags().IntVar(&memory, "memory", 0, MsgFlagMemory)
	cmd.Flags().StringVar(&javaArgs, "java-args", "", MsgFlagJavaArgs)
	return cmd
}

func newModifyCmd(g *globals) *cobra.Command {
	var sel selectFlags

	cmd := &cobra.Command{
		Use:   "modify <name>",
		Short: MsgModifyShort,
		Example: `  # Turn a component on and another off
  modkit modify survival -m manifest.json -e iris -d optifine

  # Switch to another preset
  modkit modify survival -m manifest.json --presets presets.yaml -p quality`,
		GroupID: "core",
		Args:    cobra.ExactArgs(1),
		RunE: withApp(g, func(cmd *cobra.Command, a *app, args []string) error {
			ctx := cmd.Context()
			name := args[0]
			if sel.preset == "" && len(sel.enable) == 0 && len(sel.disable) == 0 {
				return errors.New(errors.ErrInvalidInput, MsgErrNothingToDo)
			}

			m, err := a.loadManifest(ctx, sel.manifest)
			if err != nil {
				return err
			}
			p, err := sel.lookupPreset(ctx, a, m)
			if err != nil {
				return err
			}

			s := lifecycle.Selection{Preset: p, Enable: sel.enable, Disable: sel.disable}

			res, err := a.manager.Modify(ctx, name, m, s)
			if err != nil {
				return err
			}
			printResult(a.out, res)
			if !res.DryRun {
				fmt.Fprintf(a.out, MsgModifiedFormat, name)
			}
			return nil
		}),
	}

	sel.register(cmd, true)
	return cmd
}

func newUpdateCmd(g *globals) *cobra.Command {
	var (
		manifestRef    string
		allowDowngrade bool
	)

	cmd := &cobra.Command{
		Use:     "update <name>",
		Short:   MsgUpdateShort,
		Long:    MsgUpdateLong,
		Example: `  modkit update survival -m https://example.com/pack/manifest.json`,
		GroupID: "core",
		Args:    cobra.ExactArgs(1),
		RunE: withApp(g, func(cmd *cobra.Command, a *app, args []string) error {
			ctx := cmd.Context()
			m, err := a.loadManifest(ctx, manifestRef)
			if err != nil {
				return err
			}
			res, err := a.manager.Update(ctx, args[0], m, lifecycle.UpdateOptions{AllowDowngrade: allowDowngrade})
			if err != nil {
				return err
			}
			printResult(a.out, res)
			if !res.DryRun {
				fmt.Fprintf(a.out, MsgUpdatedFormat, args[0], res.Installation.ManifestVersion)
			}
			return nil
		}),
	}

	cmd.Flags().StringVarP(&manifestRef, "manifest", "m", "", MsgFlagManifest)
	cmd.Flags().BoolVar(&allowDowngrade, "allow-downgrade", false, MsgFlagAllowDowngrade)
	_ = cmd.MarkFlagRequired("manifest")
	return cmd
}

func newRepairCmd(g *globals) *cobra.Command {
	var manifestRef string

	cmd := &cobra.Command{
		Use:     "repair <name>",
		Short:   MsgRepairShort,
		Long:    MsgRepairLong,
		GroupID: "core",
		Args:    cobra.ExactArgs(1),
		RunE: withApp(g, func(cmd *cobra.Command, a *app, args []string) error {
			ctx := cmd.Context()
			m, err := a.loadManifest(ctx, manifestRef)
			if err != nil {
				return err
			}
			res, err := a.manager.Repair(ctx, args[0], m)
			if err != nil {
				return err
			}
			printResult(a.out, res)
			if !res.DryRun {
				fmt.Fprintf(a.out, MsgRepairedFormat, args[0])
			}
			return nil
		}),
	}

	cmd.Flags().StringVarP(&manifestRef, "manifest", "m", "", MsgFlagManifest)
	_ = cmd.MarkFlagRequired("manifest")
	return cmd
}

func newUninstallCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:     "uninstall <name>",
		Short:   MsgUninstallShort,
		GroupID: "core",
		Args:    cobra.ExactArgs(1),
		RunE: withApp(g, func(cmd *cobra.Command, a *app, args []string) error {
			res, err := a.manager.Uninstall(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if res.DryRun {
				fmt.Fprintln(a.out, MsgDryRunNotice)
				return nil
			}
			fmt.Fprintf(a.out, MsgUninstalledFormat, args[0])
			return nil
		}),
	}
}

func newListCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Short:   MsgListShort,
		GroupID: "info",
		Args:    cobra.NoArgs,
		RunE: withApp(g, func(cmd *cobra.Command, a *app, args []string) error {
			installs, err := a.manager.List()
			if err != nil {
				return err
			}
			if len(installs) == 0 {
				fmt.Fprintln(a.out, MsgNoInstallations)
				return nil
			}
			fmt.Fprintln(a.out, MsgInstallationHeader)
			for _, inst := range installs {
				fmt.Fprintf(a.out, MsgInstallationItem, inst.Name, inst.ManifestVersion, inst.Dir)
			}
			return nil
		}),
	}
}

func newStatusCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:     "status <name>",
		Short:   MsgStatusShort,
		GroupID: "info",
		Args:    cobra.ExactArgs(1),
		RunE: withApp(g, func(cmd *cobra.Command, a *app, args []string) error {
			st, err := a.manager.Status(args[0])
			if err != nil {
				return err
			}
			inst := st.Installation
			presetID := inst.PresetID
			if presetID == "" {
				presetID = MsgCustomPreset
			}
			fmt.Fprintf(a.out, MsgStatusFormat,
				inst.Name, inst.ModpackName, inst.ManifestVersion, inst.Dir, presetID, inst.MemoryMB, st.Phase)
			for _, id := range inst.ComponentIDs() {
				fmt.Fprintf(a.out, MsgPlanItem, id, inst.Components[id].Version)
			}
			if len(st.Drift) == 0 {
				fmt.Fprintln(a.out, MsgStatusClean)
				return nil
			}
			for _, d := range st.Drift {
				fmt.Fprintf(a.out, MsgDriftItem, d.Component, d.Path, d.Problem)
			}
			return nil
		}),
	}
}

func newPresetsCmd(g *globals) *cobra.Command {
	var manifestRef, presetsRef, name string

	cmd := &cobra.Command{
		Use:     "presets",
		Short:   MsgPresetsShort,
		GroupID: "info",
		Args:    cobra.NoArgs,
		RunE: withApp(g, func(cmd *cobra.Command, a *app, args []string) error {
			ctx := cmd.Context()
			m, err := a.loadManifest(ctx, manifestRef)
			if err != nil {
				return err
			}
			doc, issues, err := a.loadPresets(ctx, presetsRef, m)
			if err != nil {
				return err
			}

			// mark the preset an installation still matches
			current := ""
			if name != "" {
				st, err := a.manager.Status(name)
				if err != nil {
					return err
				}
				current = preset.Effective(m, doc, st.Installation.ToggleSet())
			}
			for _, p := range doc.Presets {
				label := p.Name
				if p.ID == current {
					label += " (current)"
				}
				fmt.Fprintf(a.out, MsgPresetItem, p.ID, label)
			}
			for _, issue := range issues {
				fmt.Fprintf(a.out, MsgPresetIssue, issue.Preset, issue.Component)
			}
			return nil
		}),
	}

	cmd.Flags().StringVarP(&manifestRef, "manifest", "m", "", MsgFlagManifest)
	cmd.Flags().StringVar(&presetsRef, "presets", "", MsgFlagPresets)
	cmd.Flags().StringVar(&name, "installation", "", MsgFlagInstallation)
	_ = cmd.MarkFlagRequired("manifest")
	_ = cmd.MarkFlagRequired("presets")
	return cmd
}

func newCacheCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "cache",
		Short:   MsgCacheShort,
		GroupID: "misc",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "prune",
		Short: MsgPruneShort,
		Args:  cobra.NoArgs,
		RunE: withApp(g, func(cmd *cobra.Command, a *app, args []string) error {
			installs, err := a.manager.List()
			if err != nil {
				return err
			}
			var keep []manifest.ArtifactKey
			for _, inst := range installs {
				for _, p := range inst.Components {
					keep = append(keep, p.Key())
				}
			}

			if a.dryRun {
				entries, err := a.cache.Entries()
				if err != nil {
					return err
				}
				used := make(map[manifest.ArtifactKey]bool, len(keep))
				for _, k := range keep {
					used[k] = true
				}
				n := 0
				for _, e := range entries {
					if !used[e.Key] {
						n++
					}
				}
				fmt.Fprintf(a.out, MsgPrunedFormat, n)
				fmt.Fprintln(a.out, MsgDryRunNotice)
				return nil
			}

			n, err := a.cache.Prune(keep)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, MsgPrunedFormat, n)
			return nil
		}),
	})
	return cmd
}

func newBackupCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "backup",
		Short:   MsgBackupShort,
		GroupID: "core",
	}

	var description string
	create := &cobra.Command{
		Use:   "create <name>",
		Short: MsgBackupCreateShort,
		Args:  cobra.ExactArgs(1),
		RunE: withApp(g, func(cmd *cobra.Command, a *app, args []string) error {
			meta, err := a.manager.Backup(cmd.Context(), args[0], description)
			if err != nil {
				return err
			}
			if meta == nil {
				fmt.Fprintln(a.out, MsgDryRunNotice)
				return nil
			}
			fmt.Fprintf(a.out, MsgBackupCreatedFormat, args[0], meta.ID, meta.Files)
			return nil
		}),
	}
	create.Flags().StringVar(&description, "description", "", MsgFlagDescription)

	list := &cobra.Command{
		Use:     "list <name>",
		Aliases: []string{"ls"},
		Short:   MsgBackupListShort,
		Args:    cobra.ExactArgs(1),
		RunE: withApp(g, func(cmd *cobra.Command, a *app, args []string) error {
			backups, err := a.manager.Backups(args[0])
			if err != nil {
				return err
			}
			if len(backups) == 0 {
				fmt.Fprintf(a.out, MsgNoBackupsFormat, args[0])
				return nil
			}
			fmt.Fprintf(a.out, MsgBackupHeader, args[0])
			for _, b := range backups {
				fmt.Fprintf(a.out, MsgBackupItem, b.ID, b.Kind, b.ManifestVersion, b.Description)
			}
			return nil
		}),
	}

	restore := &cobra.Command{
		Use:   "restore <name> [backup-id]",
		Short: MsgBackupRestoreShort,
		Args:  cobra.RangeArgs(1, 2),
		RunE: withApp(g, func(cmd *cobra.Command, a *app, args []string) error {
			id := ""
			if len(args) == 2 {
				id = args[1]
			}
			res, err := a.manager.Restore(cmd.Context(), args[0], id)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, MsgRestoredFormat, args[0], res.Installation.ManifestVersion)
			if res.DryRun {
				fmt.Fprintln(a.out, MsgDryRunNotice)
			}
			return nil
		}),
	}

	var keep int
	prune := &cobra.Command{
		Use:   "prune <name>",
		Short: MsgBackupPruneShort,
		Args:  cobra.ExactArgs(1),
		RunE: withApp(g, func(cmd *cobra.Command, a *app, args []string) error {
			if !cmd.Flags().Changed("keep") {
				keep = a.cfg.Backup.Keep
			}
			removed, err := a.manager.PruneBackups(cmd.Context(), args[0], keep)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, MsgBackupsPruned, len(removed))
			if a.dryRun {
				fmt.Fprintln(a.out, MsgDryRunNotice)
			}
			return nil
		}),
	}
	prune.Flags().IntVar(&keep, "keep", 0, MsgFlagKeep)

	cmd.AddCommand(create, list, restore, prune)
	return cmd
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "config",
		Short:   MsgConfigShort,
		GroupID: "misc",
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = cmd.OutOrStdout().Write(config.DefaultBytes())
		},
	}
}

// printResult lists what an operation resolved to
func printResult(out io.Writer, res *lifecycle.Result) {
	if res == nil || res.Plan == nil {
		return
	}
	fmt.Fprintln(out, MsgPlanHeader)
	for _, c := range res.Plan.Components {
		fmt.Fprintf(out, MsgPlanItem, c.ID, c.Version)
	}
	for _, id := range res.Plan.ToRemove {
		fmt.Fprintf(out, MsgRemovedItem, id)
	}
	fmt.Fprintf(out, MsgFetchSummary, len(res.Plan.ToFetch), len(res.Plan.Cached))
	if res.DryRun {
		fmt.Fprintln(out, MsgDryRunNotice)
	}
}
