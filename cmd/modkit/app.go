package modkit

import (
	"context"
	"io"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/arthur-debert/modkit/pkg/backup"
	"github.com/arthur-debert/modkit/pkg/cache"
	"github.com/arthur-debert/modkit/pkg/config"
	"github.com/arthur-debert/modkit/pkg/errors"
	"github.com/arthur-debert/modkit/pkg/fetch"
	"github.com/arthur-debert/modkit/pkg/fetch/transport"
	"github.com/arthur-debert/modkit/pkg/filesystem"
	"github.com/arthur-debert/modkit/pkg/installer"
	"github.com/arthur-debert/modkit/pkg/lifecycle"
	"github.com/arthur-debert/modkit/pkg/logging"
	"github.com/arthur-debert/modkit/pkg/manifest"
	"github.com/arthur-debert/modkit/pkg/paths"
	"github.com/arthur-debert/modkit/pkg/preset"
	"github.com/arthur-debert/modkit/pkg/state"
)

// app is everything a command needs, built once per invocation
type app struct {
	cfg      *config.Config
	paths    paths.Paths
	fs       afero.Fs
	cache    *cache.Cache
	manager  *lifecycle.Manager
	registry *prometheus.Registry
	dryRun   bool
	out      io.Writer
	log      zerolog.Logger
}

func newApp(cmd *cobra.Command, g *globals) (*app, error) {
	p := paths.New()

	configPath := g.configPath
	if configPath == "" {
		configPath = p.ConfigFilePath()
	}
	overrides := map[string]interface{}{}
	if f := cmd.Flag("concurrency"); f != nil && f.Changed {
		overrides["fetch.concurrency"] = g.concurrency
	}
	cfg, err := config.Load(paths.ExpandHome(configPath), overrides)
	if err != nil {
		return nil, err
	}
	policy, err := preset.ParsePolicy(cfg.Policy.PresetMode)
	if err != nil {
		return nil, err
	}

	fs := filesystem.NewOS()
	reporter := newReporter(cmd.OutOrStdout())
	registry := prometheus.NewRegistry()

	c := cache.New(fs, p.ArtifactCacheDir())
	orchestrator := fetch.New(c, transport.FromConfig(cfg),
		fetch.WithConcurrency(cfg.Fetch.Concurrency),
		fetch.WithRetry(fetch.RetryPolicy{
			Attempts:   cfg.Fetch.Attempts,
			Base:       cfg.Fetch.BackoffBase,
			Max:        cfg.Fetch.BackoffMax,
			Multiplier: cfg.Fetch.BackoffMultiplier,
		}),
		fetch.WithAttemptTimeout(cfg.Fetch.Timeout),
		fetch.WithMetrics(fetch.NewMetrics(registry)),
		fetch.WithReporter(reporter),
	)

	manager := lifecycle.New(
		state.New(fs, p.InstallationsStateDir()),
		c,
		orchestrator,
		installer.New(fs, installer.WithReporter(reporter)),
		lifecycle.WithPresetPolicy(policy),
		lifecycle.WithEnableNewOptional(cfg.Policy.EnableNewOptional),
		lifecycle.WithDryRun(g.dryRun),
		lifecycle.WithInstallRoot(installRoot(cfg, p)),
		lifecycle.WithBackups(backup.New(fs, p.BackupRoot()), cfg.Backup.Keep, cfg.Backup.PreUpdate),
		lifecycle.WithReporter(reporter),
	)

	return &app{
		cfg:      cfg,
		paths:    p,
		fs:       fs,
		cache:    c,
		manager:  manager,
		registry: registry,
		dryRun:   g.dryRun,
		out:      cmd.OutOrStdout(),
		log:      logging.GetLogger("cmd." + cmd.Name()),
	}, nil
}

func installRoot(cfg *config.Config, p paths.Paths) string {
	if cfg.Paths.Installations != "" {
		return paths.ExpandHome(cfg.Paths.Installations)
	}
	return p.InstallRoot()
}

// close writes the metrics textfile when one is configured
func (a *app) close() {
	if a.cfg.Metrics.Textfile == "" {
		return
	}
	path := paths.ExpandHome(a.cfg.Metrics.Textfile)
	if err := prometheus.WriteToTextfile(path, a.registry); err != nil {
		a.log.Warn().Err(err).Str("path", path).Msg("Failed to write metrics textfile")
	}
}

func isURL(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

// readDocument reads a manifest or preset document from a path or URL
func (a *app) readDocument(ctx context.Context, ref string) ([]byte, error) {
	if isURL(ref) {
		return transport.GetBytes(ctx, ref, transport.WithUserAgent(a.cfg.Fetch.UserAgent))
	}
	path := paths.ExpandHome(ref)
	data, err := afero.ReadFile(a.fs, path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrNotFound, "cannot read %s", ref).
			WithDetail("path", path)
	}
	return data, nil
}

func (a *app) loadManifest(ctx context.Context, ref string) (*manifest.Manifest, error) {
	if ref == "" {
		return nil, errors.New(errors.ErrInvalidInput, "no manifest given: pass --manifest")
	}
	data, err := a.readDocument(ctx, ref)
	if err != nil {
		return nil, err
	}
	m, err := manifest.Load(data)
	if err != nil {
		return nil, err
	}
	a.log.Debug().
		Str("manifest", ref).
		Str("modpack", m.Name).
		Str("version", m.ModpackVersion).
		Int("components", m.Len()).
		Msg("Loaded manifest")
	return m, nil
}

// loadPresets reads a preset document and reports entries that point at
// components m does not have. Applying such a preset fails.
func (a *app) loadPresets(ctx context.Context, ref string, m *manifest.Manifest) (*manifest.PresetDocument, []manifest.PresetIssue, error) {
	data, err := a.readDocument(ctx, ref)
	if err != nil {
		return nil, nil, err
	}
	doc, err := manifest.LoadPresets(data)
	if err != nil {
		return nil, nil, err
	}
	issues := manifest.ValidatePresets(m, doc)
	for _, issue := range issues {
		a.log.Warn().
			Str("preset", issue.Preset).
			Str("component", issue.Component).
			Msg("Preset references an unknown component")
	}
	return doc, issues, nil
}
