package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/demuxmgr/internal/config"
	"github.com/3leaps/demuxmgr/internal/observability"
	"github.com/3leaps/demuxmgr/pkg/labdb"
	"github.com/3leaps/demuxmgr/pkg/registry"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Check the configuration and every external dependency a processing
pass needs: run folder roots, the registry, the lab database, the
converter, the shell tools, the report store, and mail.

Examples:
  demuxmgr doctor
  demuxmgr --config /etc/demuxmgr.yaml doctor`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

// doctorCheck returns a short detail on success. Warnings pass but are
// reported.
type doctorCheck struct {
	name string
	run  func(ctx context.Context, cfg *config.Config) (detail string, warn bool, err error)
}

func doctorChecks() []doctorCheck {
	return []doctorCheck{
		{"environment", checkEnvironment},
		{"toolkit", checkToolkit},
		{"configuration", checkConfiguration},
		{"run folder roots", checkRoots},
		{"run registry", checkRegistry},
		{"lab database", checkLabDB},
		{"converter", checkConverter},
		{"shell tools", checkShellTools},
		{"report store", checkReportStore},
		{"mail", checkMail},
	}
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	bannerName := "doctor"
	if identity := GetAppIdentity(); identity != nil && identity.BinaryName != "" {
		bannerName = identity.BinaryName + " doctor"
	}
	observability.CLILogger.Info("=== " + bannerName + " ===")
	observability.CLILogger.Info("")
	observability.CLILogger.Info("Running diagnostic checks...")
	observability.CLILogger.Info("")

	cfg, err := config.Load(ctx)
	if err != nil {
		observability.CLILogger.Error("Checking configuration file... ❌", zap.Error(err))
		return exitError(foundry.ExitConfigInvalid, "Cannot load configuration", err)
	}

	allChecks := runDoctorChecks(ctx, cfg, doctorChecks())

	observability.CLILogger.Info("")
	if allChecks {
		observability.CLILogger.Info(fmt.Sprintf("✅ All checks passed! Your %s installation is healthy.", bannerName))
	} else {
		observability.CLILogger.Warn("⚠️  Some checks failed. Review the output above for details.")
	}
	observability.CLILogger.Info("")
	observability.CLILogger.Info("=== End Diagnostics ===")

	if !allChecks {
		return exitError(foundry.ExitFailure, "Diagnostics failed", errors.New("one or more checks failed"))
	}
	return nil
}

func runDoctorChecks(ctx context.Context, cfg *config.Config, checks []doctorCheck) bool {
	ok := true
	for i, c := range checks {
		prefix := fmt.Sprintf("[%d/%d] Checking %s...", i+1, len(checks), c.name)
		detail, warn, err := c.run(ctx, cfg)
		switch {
		case err != nil:
			observability.CLILogger.Error(prefix+" ❌ "+detail, zap.Error(err))
			ok = false
		case warn:
			observability.CLILogger.Warn(prefix + " ⚠️  " + detail)
		default:
			observability.CLILogger.Info(prefix + " ✅ " + detail)
		}
	}
	return ok
}

func checkEnvironment(context.Context, *config.Config) (string, bool, error) {
	return fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH), false, nil
}

func checkToolkit(context.Context, *config.Config) (string, bool, error) {
	version := crucible.GetVersion()
	if version.Crucible == "" || version.Gofulmen == "" {
		return "crucible or gofulmen version unavailable", true, nil
	}
	return fmt.Sprintf("crucible v%s, gofulmen v%s", version.Crucible, version.Gofulmen), false, nil
}

func checkConfiguration(_ context.Context, cfg *config.Config) (string, bool, error) {
	if err := cfg.Validate(); err != nil {
		return "invalid", false, err
	}
	return "valid", false, nil
}

func checkRoots(_ context.Context, cfg *config.Config) (string, bool, error) {
	var missing []string
	for _, root := range cfg.Roots {
		if fi, err := os.Stat(root); err != nil || !fi.IsDir() {
			missing = append(missing, root)
		}
	}
	if len(missing) > 0 {
		return "not a directory: " + strings.Join(missing, ", "), false, errors.New("missing run folder roots")
	}
	return fmt.Sprintf("%d root(s)", len(cfg.Roots)), false, nil
}

func checkRegistry(ctx context.Context, cfg *config.Config) (string, bool, error) {
	rc := cfg.RegistryConfig()
	exists, err := registry.Exists(ctx, rc)
	if err != nil {
		return registryLocation(cfg), false, err
	}
	if !exists {
		return registryLocation(cfg) + " (created on first pass)", true, nil
	}
	store, err := registry.Open(ctx, rc, nil)
	if err != nil {
		return registryLocation(cfg), false, err
	}
	defer func() { _ = store.Close() }()
	if err := store.Ping(ctx); err != nil {
		return registryLocation(cfg), false, err
	}
	return registryLocation(cfg), false, nil
}

func checkLabDB(ctx context.Context, cfg *config.Config) (string, bool, error) {
	db, err := labdb.Open(ctx, cfg.LabDB.Driver, cfg.LabDB.DSN)
	if err != nil {
		return cfg.LabDB.Driver, false, err
	}
	defer func() { _ = db.Close() }()
	return cfg.LabDB.Driver, false, nil
}

func checkConverter(_ context.Context, cfg *config.Config) (string, bool, error) {
	path, err := exec.LookPath(cfg.Converter.Path)
	if err != nil {
		return cfg.Converter.Path + " not found", false, err
	}
	return path, false, nil
}

func checkShellTools(_ context.Context, cfg *config.Config) (string, bool, error) {
	c := cfg.Commands
	var missing []string
	for _, tool := range []string{c.Cat, c.Gzip, c.Gunzip, c.Md5sum, c.Rsync, c.Cp} {
		if tool == "" {
			continue
		}
		if _, err := exec.LookPath(strings.Fields(tool)[0]); err != nil {
			missing = append(missing, tool)
		}
	}
	if len(missing) > 0 {
		return "not found: " + strings.Join(missing, ", "), false, errors.New("missing shell tools")
	}
	return "all found", false, nil
}

func checkReportStore(ctx context.Context, cfg *config.Config) (string, bool, error) {
	root := cfg.Repository.ReportsRoot
	if root == "" {
		return "not configured; QC reports stay in the run folder", true, nil
	}
	if !strings.HasPrefix(root, "s3://") {
		return root, false, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		printAWSCredentialsHelp()
		return "cannot load AWS config", false, err
	}
	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil {
		printAWSCredentialsHelp()
		return "cannot retrieve AWS credentials", false, err
	}
	source := creds.Source
	if source == "" {
		source = "unknown"
	}
	return fmt.Sprintf("%s (key %s from %s)", root, maskAccessKey(creds.AccessKeyID), source), false, nil
}

func checkMail(_ context.Context, cfg *config.Config) (string, bool, error) {
	if cfg.SMTP.Host == "" {
		return "no SMTP host; notifications are only logged", true, nil
	}
	if len(cfg.Recipients.Notify) == 0 {
		return fmt.Sprintf("%s:%d, but recipients.notify is empty", cfg.SMTP.Host, cfg.SMTP.Port), true, nil
	}
	return fmt.Sprintf("%s:%d", cfg.SMTP.Host, cfg.SMTP.Port), false, nil
}

// maskAccessKey masks all but the last 4 characters of an access key.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

func printAWSCredentialsHelp() {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("The report store needs AWS credentials:")
	observability.CLILogger.Info("  1. Set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY, or")
	observability.CLILogger.Info("  2. Run 'aws configure' to set up a profile, or")
	observability.CLILogger.Info("  3. Use an instance role")
	observability.CLILogger.Info("")
	observability.CLILogger.Info("For S3-compatible storage set repository.s3_endpoint and")
	observability.CLILogger.Info("repository.s3_force_path_style.")
	observability.CLILogger.Info("")
}
